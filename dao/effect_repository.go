package dao

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"effect-service/model"
)

const effectColumns = `id, title, description, image, seller, minimum_price, status, appraisal_id, buyer, sold_for`

// updatedColumns are replaced by Update, in bind order.
var updatedColumns = []string{
	"title", "description", "image", "seller", "minimum_price",
	"status", "appraisal_id", "buyer", "sold_for",
}

// EffectRepository is the SQL EffectStore shared by the MySQL and SQLite dialects.
type EffectRepository struct {
	db      *sql.DB
	dialect dialect
}

var _ EffectStore = (*EffectRepository)(nil)

func (r *EffectRepository) GetAll(ctx context.Context) ([]model.Effect, error) {
	effects, err := r.queryEffects(ctx, `SELECT `+effectColumns+` FROM effects`)
	if err != nil {
		return []model.Effect{}, fmt.Errorf("get all effects: %w", err)
	}
	return effects, nil
}

func (r *EffectRepository) Get(ctx context.Context, id string) (*model.Effect, error) {
	effects, err := r.queryEffects(ctx, `SELECT `+effectColumns+` FROM effects WHERE id = ?`, id)
	if err != nil {
		return nil, fmt.Errorf("get effect %s: %w", id, err)
	}
	switch len(effects) {
	case 0:
		return nil, nil // Not found
	case 1:
		return &effects[0], nil
	default:
		return nil, fmt.Errorf("get effect %s: %w", id, ErrIntegrity)
	}
}

func (r *EffectRepository) Create(ctx context.Context, effect model.Effect) (string, error) {
	if strings.TrimSpace(effect.ID) == "" {
		return "", fmt.Errorf("create effect: id is required")
	}
	_, err := r.exec(ctx,
		`INSERT INTO effects (`+effectColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		effect.ID,
		effect.Title,
		effect.Description,
		effect.Image,
		effect.Seller,
		effect.MinimumPrice,
		string(effect.Status),
		effect.AppraisalID,
		nullString(effect.Buyer),
		effect.SoldFor,
	)
	if err != nil {
		if r.dialect.isUniqueViolation(err) {
			return "", ErrAlreadyExists
		}
		return "", fmt.Errorf("create effect %s: %w", effect.ID, err)
	}
	return effect.ID, nil
}

func (r *EffectRepository) Update(ctx context.Context, effect model.Effect) (bool, error) {
	values := []any{
		effect.Title,
		effect.Description,
		effect.Image,
		effect.Seller,
		effect.MinimumPrice,
		string(effect.Status),
		effect.AppraisalID,
		nullString(effect.Buyer),
		effect.SoldFor,
	}

	set := make([]string, len(updatedColumns))
	changed := make([]string, len(updatedColumns))
	for i, col := range updatedColumns {
		set[i] = col + " = ?"
		changed[i] = r.dialect.distinct(col)
	}
	query := `UPDATE effects SET ` + strings.Join(set, ", ") +
		` WHERE id = ? AND (` + strings.Join(changed, " OR ") + `)`

	args := make([]any, 0, 2*len(values)+1)
	args = append(args, values...)
	args = append(args, effect.ID)
	args = append(args, values...)

	res, err := r.exec(ctx, query, args...)
	if err != nil {
		return false, fmt.Errorf("update effect %s: %w", effect.ID, err)
	}
	return rowsChanged(res)
}

func (r *EffectRepository) Delete(ctx context.Context, id string) (bool, error) {
	res, err := r.exec(ctx, `DELETE FROM effects WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete effect %s: %w", id, err)
	}
	return rowsChanged(res)
}

func (r *EffectRepository) FindByStatus(ctx context.Context, status model.EffectStatus) ([]model.Effect, error) {
	effects, err := r.queryEffects(ctx, `SELECT `+effectColumns+` FROM effects WHERE status = ?`, string(status))
	if err != nil {
		return []model.Effect{}, fmt.Errorf("find effects by status %s: %w", status, err)
	}
	return effects, nil
}

func (r *EffectRepository) FindBySeller(ctx context.Context, sellerID string) ([]model.Effect, error) {
	effects, err := r.queryEffects(ctx, `SELECT `+effectColumns+` FROM effects WHERE seller = ?`, sellerID)
	if err != nil {
		return []model.Effect{}, fmt.Errorf("find effects by seller %s: %w", sellerID, err)
	}
	return effects, nil
}

func (r *EffectRepository) ApplyTransition(ctx context.Context, id string, t model.Transition) (bool, error) {
	res, err := r.exec(ctx,
		`UPDATE effects SET status = ?, buyer = ?, sold_for = ? WHERE id = ? AND status = ?`,
		string(t.To),
		nullString(t.Buyer),
		t.SoldFor,
		id,
		string(t.From),
	)
	if err != nil {
		return false, fmt.Errorf("transition effect %s %s->%s: %w", id, t.From, t.To, err)
	}
	return rowsChanged(res)
}

func (r *EffectRepository) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var res sql.Result
	err := r.dialect.withRetry(ctx, func() error {
		var err error
		res, err = r.db.ExecContext(ctx, query, args...)
		return err
	})
	return res, err
}

func (r *EffectRepository) queryEffects(ctx context.Context, query string, args ...any) ([]model.Effect, error) {
	effects := []model.Effect{}
	err := r.dialect.withRetry(ctx, func() error {
		rows, err := r.db.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		effects = effects[:0]
		for rows.Next() {
			effect, err := scanEffect(rows)
			if err != nil {
				return err
			}
			effects = append(effects, effect)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return effects, nil
}

func scanEffect(rows *sql.Rows) (model.Effect, error) {
	var (
		effect model.Effect
		status string
		buyer  sql.NullString
	)
	if err := rows.Scan(
		&effect.ID,
		&effect.Title,
		&effect.Description,
		&effect.Image,
		&effect.Seller,
		&effect.MinimumPrice,
		&status,
		&effect.AppraisalID,
		&buyer,
		&effect.SoldFor,
	); err != nil {
		return model.Effect{}, err
	}
	effect.Status = model.EffectStatus(status)
	if buyer.Valid {
		effect.Buyer = &buyer.String
	}
	return effect, nil
}

func rowsChanged(res sql.Result) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
