package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"effect-service/model"
	"effect-service/pkg/idgen"
	"effect-service/pkg/imagestore"
	"effect-service/usecase"
)

const maxUploadSize = 10 << 20

// Lifecycle is the write side of the effect service.
type Lifecycle interface {
	Create(ctx context.Context, effect model.Effect) (*model.Effect, error)
	Update(ctx context.Context, effect model.Effect) (bool, error)
	Delete(ctx context.Context, id string) (bool, error)
	TransferToAuction(ctx context.Context, id string) error
	MarkAsSold(ctx context.Context, id, buyerID string, soldFor decimal.Decimal) error
}

// Query is the read side of the effect service.
type Query interface {
	GetAllEffects(ctx context.Context) ([]model.Effect, error)
	GetEffectsByStatus(ctx context.Context, status model.EffectStatus) ([]model.Effect, error)
	GetEffectsBySeller(ctx context.Context, sellerID string) ([]model.Effect, error)
	GetEffect(ctx context.Context, id string) (*model.Effect, error)
}

type Auctions interface {
	PrepareAuction(ctx context.Context, effectID string) (*model.AuctionDraft, error)
	CreateAuctionFromEffect(ctx context.Context, effectID string, start, end time.Time) (*model.AuctionDraft, error)
}

// ImageStore keeps uploaded effect images.
type ImageStore interface {
	Stage(ctx context.Context, effectID, filename string, r io.Reader) (*imagestore.Upload, error)
	Remove(ref string) error
}

type EffectController struct {
	lifecycle Lifecycle
	query     Query
	auctions  Auctions
	images    ImageStore
	logger    *zap.Logger
}

func NewEffectController(lifecycle Lifecycle, query Query, auctions Auctions, images ImageStore, logger *zap.Logger) *EffectController {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EffectController{
		lifecycle: lifecycle,
		query:     query,
		auctions:  auctions,
		images:    images,
		logger:    logger.Named("http"),
	}
}

// Register mounts the effect routes on mux.
func (c *EffectController) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /effect", c.GetEffects)
	mux.HandleFunc("POST /effect", c.CreateEffect)
	mux.HandleFunc("GET /effect/{id}", c.GetEffect)
	mux.HandleFunc("PUT /effect/{id}", c.UpdateEffect)
	mux.HandleFunc("DELETE /effect/{id}", c.DeleteEffect)
	mux.HandleFunc("GET /effect/status/{status}", c.GetEffectsByStatus)
	mux.HandleFunc("GET /effect/seller/{sellerId}", c.GetEffectsBySeller)
	mux.HandleFunc("POST /effect/{id}/transfer-to-auction", c.TransferToAuction)
	mux.HandleFunc("POST /effect/{id}/mark-as-sold", c.MarkAsSold)
	mux.HandleFunc("GET /effect/{id}/auction/draft", c.PrepareAuction)
	mux.HandleFunc("POST /effect/{id}/auction", c.CreateAuction)
}

func (c *EffectController) GetEffects(w http.ResponseWriter, r *http.Request) {
	effects, err := c.query.GetAllEffects(r.Context())
	if err != nil {
		c.writeError(w, r, err, "Failed to get effects")
		return
	}
	writeList(w, effects)
}

func (c *EffectController) GetEffect(w http.ResponseWriter, r *http.Request) {
	effect, err := c.query.GetEffect(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err, "Failed to get effect")
		return
	}
	if effect == nil {
		http.Error(w, "Effect not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, effect)
}

func (c *EffectController) GetEffectsByStatus(w http.ResponseWriter, r *http.Request) {
	status, err := model.ParseEffectStatus(r.PathValue("status"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	effects, err := c.query.GetEffectsByStatus(r.Context(), status)
	if err != nil {
		c.writeError(w, r, err, "Failed to get effects")
		return
	}
	writeList(w, effects)
}

func (c *EffectController) GetEffectsBySeller(w http.ResponseWriter, r *http.Request) {
	effects, err := c.query.GetEffectsBySeller(r.Context(), r.PathValue("sellerId"))
	if err != nil {
		c.writeError(w, r, err, "Failed to get effects")
		return
	}
	writeList(w, effects)
}

func (c *EffectController) CreateEffect(w http.ResponseWriter, r *http.Request) {
	req, err := parseEffectRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer req.close()

	effect, err := req.build(model.Effect{})
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	effect.ID = strings.TrimSpace(effect.ID)
	if effect.ID == "" {
		effect.ID = idgen.NewID()
	}

	// The upload stays under a temporary name until the record exists, so a rejected
	// create never touches the image of an effect that already has this id.
	var upload *imagestore.Upload
	if req.file != nil {
		upload, err = c.images.Stage(r.Context(), effect.ID, req.filename, req.file)
		if err != nil {
			c.writeError(w, r, fmt.Errorf("%w: %v", usecase.ErrInvalidInput, err), "Failed to store image")
			return
		}
		effect.Image = upload.URL()
	}

	created, err := c.lifecycle.Create(r.Context(), effect)
	if err != nil {
		c.discard(upload)
		c.writeError(w, r, err, "Failed to create effect")
		return
	}
	if upload != nil {
		if err := upload.Commit(); err != nil {
			c.logger.Error("commit image failed, removing new effect", zap.String("effect_id", created.ID), zap.Error(err))
			if _, derr := c.lifecycle.Delete(r.Context(), created.ID); derr != nil {
				c.logger.Error("remove effect without image failed", zap.String("effect_id", created.ID), zap.Error(derr))
			}
			http.Error(w, "Failed to store image", http.StatusInternalServerError)
			return
		}
	}

	w.Header().Set("Location", "/effect/"+created.ID)
	writeJSON(w, http.StatusCreated, created)
}

func (c *EffectController) UpdateEffect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	req, err := parseEffectRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	defer req.close()

	if bodyID := req.id(); bodyID != "" && bodyID != id {
		http.Error(w, "Effect id in body does not match the path", http.StatusBadRequest)
		return
	}

	existing, err := c.query.GetEffect(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err, "Failed to get effect")
		return
	}
	if existing == nil {
		http.Error(w, "Effect not found", http.StatusNotFound)
		return
	}

	effect, err := req.build(*existing)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	effect.ID = id
	effect.Image = existing.Image

	var upload *imagestore.Upload
	if req.file != nil {
		upload, err = c.images.Stage(r.Context(), id, req.filename, req.file)
		if err != nil {
			c.writeError(w, r, fmt.Errorf("%w: %v", usecase.ErrInvalidInput, err), "Failed to store image")
			return
		}
		effect.Image = upload.URL()
	}

	changed, err := c.lifecycle.Update(r.Context(), effect)
	if err != nil {
		c.discard(upload)
		c.writeError(w, r, err, "Failed to update effect")
		return
	}
	if !changed {
		// Either nothing differed or the effect is gone since it was read.
		current, err := c.query.GetEffect(r.Context(), id)
		if err != nil {
			c.discard(upload)
			c.writeError(w, r, err, "Failed to update effect")
			return
		}
		if current == nil {
			c.discard(upload)
			http.Error(w, "Effect not found", http.StatusNotFound)
			return
		}
	}

	if upload != nil {
		if err := upload.Commit(); err != nil {
			c.logger.Error("commit image failed, restoring effect", zap.String("effect_id", id), zap.Error(err))
			if _, rerr := c.lifecycle.Update(r.Context(), *existing); rerr != nil {
				c.logger.Error("restore effect failed", zap.String("effect_id", id), zap.Error(rerr))
			}
			http.Error(w, "Failed to store image", http.StatusInternalServerError)
			return
		}
		if existing.Image != "" && existing.Image != upload.URL() {
			c.removeImage(existing.Image)
		}
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *EffectController) DeleteEffect(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existing, err := c.query.GetEffect(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err, "Failed to get effect")
		return
	}
	if existing == nil {
		http.Error(w, "Effect not found", http.StatusNotFound)
		return
	}

	removed, err := c.lifecycle.Delete(r.Context(), id)
	if err != nil {
		c.writeError(w, r, err, "Failed to delete effect")
		return
	}
	if !removed {
		http.Error(w, "Effect not found", http.StatusNotFound)
		return
	}
	if existing.Image != "" {
		c.removeImage(existing.Image)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (c *EffectController) TransferToAuction(w http.ResponseWriter, r *http.Request) {
	if err := c.lifecycle.TransferToAuction(r.Context(), r.PathValue("id")); err != nil {
		c.writeError(w, r, err, "Failed to transfer effect to auction")
		return
	}
	writeMessage(w, http.StatusOK, "Effect successfully transferred to auction")
}

func (c *EffectController) MarkAsSold(w http.ResponseWriter, r *http.Request) {
	var req model.SoldEffect
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if !req.SoldFor.Valid {
		http.Error(w, "soldFor is required", http.StatusBadRequest)
		return
	}
	if err := c.lifecycle.MarkAsSold(r.Context(), r.PathValue("id"), req.BuyerID, req.SoldFor.Decimal); err != nil {
		c.writeError(w, r, err, "Failed to mark effect as sold")
		return
	}
	writeMessage(w, http.StatusOK, "Effect successfully marked as sold")
}

func (c *EffectController) PrepareAuction(w http.ResponseWriter, r *http.Request) {
	draft, err := c.auctions.PrepareAuction(r.Context(), r.PathValue("id"))
	if err != nil {
		c.writeError(w, r, err, "Failed to prepare auction")
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

type auctionWindow struct {
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
}

func (c *EffectController) CreateAuction(w http.ResponseWriter, r *http.Request) {
	var window auctionWindow
	if err := json.NewDecoder(r.Body).Decode(&window); err != nil && !errors.Is(err, io.EOF) {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	draft, err := c.auctions.CreateAuctionFromEffect(r.Context(), r.PathValue("id"), window.StartDate, window.EndDate)
	switch {
	case errors.Is(err, usecase.ErrAuctionServiceFailed):
		c.logger.Error("auction service call failed", zap.String("path", r.URL.Path), zap.Error(err))
		http.Error(w, "Failed to create auction", http.StatusBadGateway)
		return
	case errors.Is(err, usecase.ErrAuctionCreatedTransferFailed):
		c.logger.Error("effect left in stock after auction creation",
			zap.String("path", r.URL.Path),
			zap.String("auction_id", draft.AuctionID),
			zap.Error(err),
		)
		http.Error(w, "Auction was created but the effect status could not be updated", http.StatusInternalServerError)
		return
	case err != nil:
		c.writeError(w, r, err, "Failed to create auction")
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

// writeError maps usecase errors onto status codes. Anything unrecognised is logged
// and reported as fallback so storage details stay out of responses.
func (c *EffectController) writeError(w http.ResponseWriter, r *http.Request, err error, fallback string) {
	var precondition *usecase.PreconditionError
	switch {
	case errors.Is(err, usecase.ErrEffectNotFound):
		http.Error(w, "Effect not found", http.StatusNotFound)
	case errors.As(err, &precondition):
		http.Error(w, precondition.Reason, http.StatusBadRequest)
	case errors.Is(err, usecase.ErrInvalidInput):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, usecase.ErrEffectExists):
		http.Error(w, err.Error(), http.StatusConflict)
	default:
		c.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		http.Error(w, fallback, http.StatusInternalServerError)
	}
}

func (c *EffectController) discard(upload *imagestore.Upload) {
	if upload == nil {
		return
	}
	if err := upload.Discard(); err != nil {
		c.logger.Warn("discard upload failed", zap.Error(err))
	}
}

func (c *EffectController) removeImage(ref string) {
	if err := c.images.Remove(ref); err != nil {
		c.logger.Warn("remove image failed", zap.String("image", ref), zap.Error(err))
	}
}

type effectRequest struct {
	body     *model.Effect
	form     url.Values
	file     multipart.File
	filename string
}

// parseEffectRequest reads a JSON, multipart or urlencoded effect body.
func parseEffectRequest(r *http.Request) (effectRequest, error) {
	var req effectRequest

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxUploadSize); err != nil {
			return req, fmt.Errorf("invalid multipart body: %w", err)
		}
		file, header, err := r.FormFile("image")
		switch {
		case err == nil:
			req.file = file
			req.filename = header.Filename
		case errors.Is(err, http.ErrMissingFile):
		default:
			return req, fmt.Errorf("invalid image upload: %w", err)
		}
		req.form = r.Form
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return req, fmt.Errorf("invalid form body: %w", err)
		}
		req.form = r.Form
	default:
		var effect model.Effect
		if err := json.NewDecoder(r.Body).Decode(&effect); err != nil {
			return req, fmt.Errorf("invalid request body: %w", err)
		}
		req.body = &effect
	}
	return req, nil
}

func (req effectRequest) id() string {
	if req.body != nil {
		return strings.TrimSpace(req.body.ID)
	}
	return strings.TrimSpace(req.form.Get("id"))
}

// build returns the JSON body as is, or base with the submitted form fields applied.
func (req effectRequest) build(base model.Effect) (model.Effect, error) {
	if req.body != nil {
		return *req.body, nil
	}
	effect := base
	if err := applyForm(&effect, req.form); err != nil {
		return model.Effect{}, err
	}
	return effect, nil
}

func (req effectRequest) close() {
	if req.file != nil {
		req.file.Close()
	}
}

func applyForm(effect *model.Effect, form url.Values) error {
	set := func(key string, dst *string) {
		if _, ok := form[key]; ok {
			*dst = form.Get(key)
		}
	}
	set("id", &effect.ID)
	set("title", &effect.Title)
	set("description", &effect.Description)
	set("seller", &effect.Seller)
	set("appraisalId", &effect.AppraisalID)

	if _, ok := form["minimumPrice"]; ok {
		price, err := decimal.NewFromString(form.Get("minimumPrice"))
		if err != nil {
			return fmt.Errorf("invalid minimumPrice: %w", err)
		}
		effect.MinimumPrice = price
	}
	if _, ok := form["status"]; ok {
		status, err := model.ParseEffectStatus(form.Get("status"))
		if err != nil {
			return err
		}
		effect.Status = status
	}
	if _, ok := form["buyer"]; ok {
		if buyer := form.Get("buyer"); buyer != "" {
			effect.Buyer = &buyer
		} else {
			effect.Buyer = nil
		}
	}
	if _, ok := form["soldFor"]; ok {
		if v := form.Get("soldFor"); v != "" {
			price, err := decimal.NewFromString(v)
			if err != nil {
				return fmt.Errorf("invalid soldFor: %w", err)
			}
			effect.SoldFor = decimal.NewNullDecimal(price)
		} else {
			effect.SoldFor = decimal.NullDecimal{}
		}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeList(w http.ResponseWriter, effects []model.Effect) {
	if effects == nil {
		effects = []model.Effect{}
	}
	writeJSON(w, http.StatusOK, effects)
}

func writeMessage(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"message": message})
}
