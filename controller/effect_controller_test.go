package controller

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"effect-service/dao"
	"effect-service/model"
	"effect-service/pkg/gateway"
	"effect-service/pkg/imagestore"
	"effect-service/usecase"
)

const (
	testSecret = "test-secret"
	testIssuer = "auth-service"
)

// fakeGateway stands in for the auction service.
type fakeGateway struct {
	mu     sync.Mutex
	status int
	auths  []string
	drafts []model.AuctionDraft
}

func (g *fakeGateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var draft model.AuctionDraft
	_ = json.NewDecoder(r.Body).Decode(&draft)
	g.auths = append(g.auths, r.Header.Get("Authorization"))
	g.drafts = append(g.drafts, draft)
	w.WriteHeader(g.status)
}

type testServer struct {
	handler http.Handler
	sqlDB   *sql.DB
	gateway *fakeGateway
	token   string
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	return newTestServerWith(t, nil)
}

// newTestServerWith lets a test wrap the lifecycle service the controller calls.
func newTestServerWith(t *testing.T, wrap func(*usecase.EffectUsecase) Lifecycle) *testServer {
	t.Helper()

	sqlDB, err := dao.OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "effects.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	store := dao.NewSQLiteRepository(sqlDB)

	gw := &fakeGateway{status: http.StatusCreated}
	gwServer := httptest.NewServer(gw)
	t.Cleanup(gwServer.Close)

	lifecycle := usecase.NewEffectUsecase(store, nil)
	query := usecase.NewEffectQuery(store, nil)
	auctions := usecase.NewAuctionUsecase(query, lifecycle, gateway.NewClient(gwServer.URL), nil)
	images, err := imagestore.New(filepath.Join(t.TempDir(), "images"))
	require.NoError(t, err)

	var writes Lifecycle = lifecycle
	if wrap != nil {
		writes = wrap(lifecycle)
	}
	effects := NewEffectController(writes, query, auctions, images, nil)
	auth := AuthConfig{Secret: []byte(testSecret), Issuer: testIssuer}
	return &testServer{
		handler: NewRouter(effects, images.Handler(), imagestore.URLPrefix, auth, "http://localhost:8080", nil),
		sqlDB:   sqlDB,
		gateway: gw,
		token:   signToken(t, jwt.MapClaims{"role": "admin"}),
	}
}

func signToken(t *testing.T, claims jwt.MapClaims) string {
	t.Helper()

	if _, ok := claims["iss"]; !ok {
		claims["iss"] = testIssuer
	}
	if _, ok := claims["exp"]; !ok {
		claims["exp"] = time.Now().Add(time.Hour).Unix()
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func (s *testServer) do(t *testing.T, method, path, contentType string, body io.Reader) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *testServer) doJSON(t *testing.T, method, path string, v any) *httptest.ResponseRecorder {
	t.Helper()

	var body io.Reader = http.NoBody
	if v != nil {
		raw, err := json.Marshal(v)
		require.NoError(t, err)
		body = bytes.NewReader(raw)
	}
	return s.do(t, method, path, "application/json", body)
}

func (s *testServer) createVase(t *testing.T) model.Effect {
	t.Helper()

	rec := s.doJSON(t, http.MethodPost, "/effect", map[string]any{
		"title":        "Vase",
		"description":  "Blue fluted",
		"seller":       "seller-1",
		"minimumPrice": "1000",
		"appraisalId":  "appraisal-1",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var created model.Effect
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	return created
}

func decodeEffect(t *testing.T, rec *httptest.ResponseRecorder) model.Effect {
	t.Helper()

	var effect model.Effect
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &effect))
	return effect
}

func TestEffectCRUD(t *testing.T) {
	srv := newTestServer(t)

	created := srv.createVase(t)
	require.NotEmpty(t, created.ID)
	assert.Equal(t, model.StatusInStock, created.Status)

	rec := srv.doJSON(t, http.MethodGet, "/effect/"+created.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	got := decodeEffect(t, rec)
	assert.Equal(t, "Vase", got.Title)
	assert.True(t, got.MinimumPrice.Equal(decimal.NewFromInt(1000)))

	got.Title = "Tall vase"
	rec = srv.doJSON(t, http.MethodPut, "/effect/"+created.ID, got)
	assert.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())

	rec = srv.doJSON(t, http.MethodGet, "/effect/"+created.ID, nil)
	assert.Equal(t, "Tall vase", decodeEffect(t, rec).Title)

	rec = srv.doJSON(t, http.MethodGet, "/effect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var all []model.Effect
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 1)

	rec = srv.doJSON(t, http.MethodDelete, "/effect/"+created.ID, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = srv.doJSON(t, http.MethodGet, "/effect/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	rec = srv.doJSON(t, http.MethodDelete, "/effect/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateEffectIgnoresRequestedStatus(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.doJSON(t, http.MethodPost, "/effect", map[string]any{
		"id":           "effect-7",
		"title":        "Lamp",
		"seller":       "seller-2",
		"minimumPrice": "10",
		"status":       "Sold",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "/effect/effect-7", rec.Header().Get("Location"))
	assert.Equal(t, model.StatusInStock, decodeEffect(t, rec).Status)

	rec = srv.doJSON(t, http.MethodPost, "/effect", map[string]any{"id": "effect-7", "title": "Lamp again"})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestCreateEffectRejectsBadBody(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.do(t, http.MethodPost, "/effect", "application/json", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.doJSON(t, http.MethodPost, "/effect", map[string]any{"title": "Lamp", "minimumPrice": "-1"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUpdateEffectChecksPath(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createVase(t)

	other := created
	other.ID = "someone-else"
	rec := srv.doJSON(t, http.MethodPut, "/effect/"+created.ID, other)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.doJSON(t, http.MethodPut, "/effect/missing", created)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// A mismatched body is rejected before the effect is looked up.
	rec = srv.doJSON(t, http.MethodPut, "/effect/missing", other)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// vanishingLifecycle deletes the effect right before the update is written.
type vanishingLifecycle struct {
	*usecase.EffectUsecase
}

func (l vanishingLifecycle) Update(ctx context.Context, effect model.Effect) (bool, error) {
	if _, err := l.EffectUsecase.Delete(ctx, effect.ID); err != nil {
		return false, err
	}
	return l.EffectUsecase.Update(ctx, effect)
}

func TestUpdateEffectDeletedMidRequest(t *testing.T) {
	srv := newTestServerWith(t, func(u *usecase.EffectUsecase) Lifecycle { return vanishingLifecycle{u} })
	created := srv.createVase(t)

	created.Title = "Tall vase"
	rec := srv.doJSON(t, http.MethodPut, "/effect/"+created.ID, created)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUpdateEffectWithIdenticalValues(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createVase(t)

	rec := srv.doJSON(t, http.MethodPut, "/effect/"+created.ID, created)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func multipartBody(t *testing.T, fields map[string]string, filename string, image []byte) (string, io.Reader) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		fw, err := mw.CreateFormFile("image", filename)
		require.NoError(t, err)
		_, err = fw.Write(image)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return mw.FormDataContentType(), &buf
}

func TestEffectImageLifecycle(t *testing.T) {
	srv := newTestServer(t)

	contentType, body := multipartBody(t, map[string]string{
		"id":           "lamp-1",
		"title":        "Lamp",
		"seller":       "seller-2",
		"minimumPrice": "25.50",
	}, "Lamp.PNG", []byte("png-bytes"))
	rec := srv.do(t, http.MethodPost, "/effect", contentType, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decodeEffect(t, rec)
	assert.Equal(t, "/images/effect/lamp-1.png", created.Image)
	assert.True(t, created.MinimumPrice.Equal(decimal.RequireFromString("25.50")))

	rec = srv.do(t, http.MethodGet, created.Image, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "png-bytes", rec.Body.String())

	// A form update without a file keeps the stored image.
	contentType, body = multipartBody(t, map[string]string{"title": "Desk lamp"}, "", nil)
	rec = srv.do(t, http.MethodPut, "/effect/lamp-1", contentType, body)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	got := decodeEffect(t, srv.doJSON(t, http.MethodGet, "/effect/lamp-1", nil))
	assert.Equal(t, "Desk lamp", got.Title)
	assert.Equal(t, created.Image, got.Image)

	contentType, body = multipartBody(t, nil, "lamp.jpg", []byte("jpg-bytes"))
	rec = srv.do(t, http.MethodPut, "/effect/lamp-1", contentType, body)
	require.Equal(t, http.StatusNoContent, rec.Code, rec.Body.String())
	got = decodeEffect(t, srv.doJSON(t, http.MethodGet, "/effect/lamp-1", nil))
	assert.Equal(t, "/images/effect/lamp-1.jpg", got.Image)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, created.Image, "", nil).Code)

	rec = srv.doJSON(t, http.MethodDelete, "/effect/lamp-1", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, got.Image, "", nil).Code)
}

func createWithImage(t *testing.T, srv *testServer, id, filename, content string) model.Effect {
	t.Helper()

	contentType, body := multipartBody(t, map[string]string{
		"id":           id,
		"title":        "Lamp",
		"seller":       "seller-2",
		"minimumPrice": "25",
	}, filename, []byte(content))
	rec := srv.do(t, http.MethodPost, "/effect", contentType, body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return decodeEffect(t, rec)
}

func TestDuplicateCreateKeepsExistingImage(t *testing.T) {
	srv := newTestServer(t)
	created := createWithImage(t, srv, "lamp-2", "lamp.png", "original")

	contentType, body := multipartBody(t, map[string]string{
		"id":    "lamp-2",
		"title": "Other lamp",
	}, "other.png", []byte("other"))
	rec := srv.do(t, http.MethodPost, "/effect", contentType, body)
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = srv.do(t, http.MethodGet, created.Image, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "original", rec.Body.String())
}

func TestRejectedUpdateKeepsExistingImage(t *testing.T) {
	srv := newTestServer(t)
	created := createWithImage(t, srv, "lamp-3", "lamp.png", "original")

	// Sold without a buyer fails validation.
	for _, filename := range []string{"new.png", "new.jpg"} {
		contentType, body := multipartBody(t, map[string]string{"status": "Sold"}, filename, []byte("replaced"))
		rec := srv.do(t, http.MethodPut, "/effect/lamp-3", contentType, body)
		require.Equal(t, http.StatusBadRequest, rec.Code, filename)

		rec = srv.do(t, http.MethodGet, created.Image, "", nil)
		require.Equal(t, http.StatusOK, rec.Code, filename)
		assert.Equal(t, "original", rec.Body.String(), filename)
		assert.Equal(t, http.StatusNotFound, srv.do(t, http.MethodGet, "/images/effect/lamp-3.jpg", "", nil).Code)
	}

	got := decodeEffect(t, srv.doJSON(t, http.MethodGet, "/effect/lamp-3", nil))
	assert.Equal(t, created.Image, got.Image)
	assert.Equal(t, model.StatusInStock, got.Status)
}

func TestLifecycleRoutes(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createVase(t)

	rec := srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/mark-as-sold", map[string]any{"buyerId": "buyer-9", "soldFor": "1200"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Effect must be on auction to be marked as sold")

	rec = srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/transfer-to-auction", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Effect successfully transferred to auction"}`, rec.Body.String())

	rec = srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/transfer-to-auction", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Effect must be in stock to transfer to auction")

	rec = srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/mark-as-sold", map[string]any{"buyerId": "buyer-9", "soldFor": "1200"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"message":"Effect successfully marked as sold"}`, rec.Body.String())

	got := decodeEffect(t, srv.doJSON(t, http.MethodGet, "/effect/"+created.ID, nil))
	assert.Equal(t, model.StatusSold, got.Status)
	require.NotNil(t, got.Buyer)
	assert.Equal(t, "buyer-9", *got.Buyer)
	assert.True(t, got.SoldFor.Decimal.Equal(decimal.NewFromInt(1200)))

	rec = srv.doJSON(t, http.MethodPost, "/effect/missing/transfer-to-auction", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = srv.do(t, http.MethodPost, "/effect/"+created.ID+"/mark-as-sold", "application/json", strings.NewReader("nope"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMarkAsSoldRequiresPrice(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createVase(t)
	require.Equal(t, http.StatusOK, srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/transfer-to-auction", nil).Code)

	rec := srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/mark-as-sold", map[string]any{"buyerId": "buyer-9"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "soldFor is required")

	got := decodeEffect(t, srv.doJSON(t, http.MethodGet, "/effect/"+created.ID, nil))
	assert.Equal(t, model.StatusOnAuction, got.Status)
	assert.False(t, got.SoldFor.Valid)
}

func TestListRoutes(t *testing.T) {
	srv := newTestServer(t)

	rec := srv.doJSON(t, http.MethodGet, "/effect", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	created := srv.createVase(t)
	require.Equal(t, http.StatusOK, srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/transfer-to-auction", nil).Code)

	var list []model.Effect
	rec = srv.doJSON(t, http.MethodGet, "/effect/status/OnAuction", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	assert.Len(t, list, 1)

	rec = srv.doJSON(t, http.MethodGet, "/effect/status/InStock", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	rec = srv.doJSON(t, http.MethodGet, "/effect/status/Lost", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = srv.doJSON(t, http.MethodGet, "/effect/seller/seller-1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 1)
	assert.Equal(t, created.ID, list[0].ID)
}

func TestStorageFailureHidesDetails(t *testing.T) {
	srv := newTestServer(t)
	require.NoError(t, srv.sqlDB.Close())

	rec := srv.doJSON(t, http.MethodGet, "/effect", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, "Failed to get effects\n", rec.Body.String())
}

func TestCreateAuctionFromEffect(t *testing.T) {
	srv := newTestServer(t)
	created := srv.createVase(t)

	rec := srv.doJSON(t, http.MethodGet, "/effect/"+created.ID+"/auction/draft", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var preview model.AuctionDraft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &preview))
	assert.Equal(t, "Vase", preview.Title)
	assert.Equal(t, created.ID, preview.EffectID)

	start := time.Date(2026, time.December, 1, 9, 0, 0, 0, time.UTC)
	rec = srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/auction", map[string]any{
		"startDate": start,
		"endDate":   start.Add(72 * time.Hour),
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var draft model.AuctionDraft
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &draft))
	assert.True(t, draft.StartDate.Equal(start))
	assert.Equal(t, model.AuctionStatusOnGoing, draft.Status)

	require.Len(t, srv.gateway.drafts, 1)
	assert.Equal(t, draft.AuctionID, srv.gateway.drafts[0].AuctionID)
	assert.Equal(t, "Bearer "+srv.token, srv.gateway.auths[0])

	got := decodeEffect(t, srv.doJSON(t, http.MethodGet, "/effect/"+created.ID, nil))
	assert.Equal(t, model.StatusOnAuction, got.Status)

	rec = srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/auction", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "Effect must be in stock to create an auction")

	rec = srv.doJSON(t, http.MethodGet, "/effect/missing/auction/draft", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateAuctionGatewayRejects(t *testing.T) {
	srv := newTestServer(t)
	srv.gateway.status = http.StatusUnprocessableEntity
	created := srv.createVase(t)

	rec := srv.doJSON(t, http.MethodPost, "/effect/"+created.ID+"/auction", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)

	got := decodeEffect(t, srv.doJSON(t, http.MethodGet, "/effect/"+created.ID, nil))
	assert.Equal(t, model.StatusInStock, got.Status)
}
