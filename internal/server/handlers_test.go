package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/vanshika/flashback/internal/domain"
	"github.com/vanshika/flashback/internal/payment"
	"github.com/vanshika/flashback/internal/service"
	"github.com/vanshika/flashback/internal/store"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	os.Exit(m.Run())
}

func newTestRouter(t *testing.T, st *store.MemoryStore, mode service.SaleMode) http.Handler {
	t.Helper()
	logger := zerolog.New(io.Discard)
	resources := service.NewResourceService(st)
	sales := service.NewSaleService(st, nil, mode, logger)
	api := NewAPIHandlers(logger, resources, sales, payment.StubGateway{})
	return NewRouter(logger, RouterDependencies{
		Health:         StoreHealthService{Store: st},
		API:            api,
		AllowedOrigins: []string{"*"},
	})
}

func do(t *testing.T, h http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if reader != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("failed to decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestBannerAndHealth(t *testing.T) {
	st := store.NewMemoryStore()
	router := newTestRouter(t, st, service.SaleModeWeak)

	rec := do(t, router, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK || !bytes.Contains(rec.Body.Bytes(), []byte("Flash Back server is running")) {
		t.Fatalf("unexpected banner response: %d %q", rec.Code, rec.Body.String())
	}

	rec = do(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	payload := decode[map[string]any](t, rec)
	if payload["message"] != healthyMessage {
		t.Fatalf("unexpected health message: %v", payload["message"])
	}

	st.WithConnectivityError(store.ErrStorageUnavailable)
	rec = do(t, router, http.MethodGet, "/health", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if decode[map[string]any](t, rec)["status"] != "degraded" {
		t.Fatalf("expected degraded status, got %s", rec.Body.String())
	}
}

func TestCreateAndListProducts(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), service.SaleModeWeak)

	products := []map[string]any{
		{"sellerEmail": "a@x.io", "category": "books", "title": "Dune", "price": 12.5},
		{"sellerEmail": "b@x.io", "category": "bikes", "title": "Fixie", "price": 120},
		{"sellerEmail": "a@x.io", "category": "bikes", "title": "BMX", "price": 90},
	}
	for _, p := range products {
		rec := do(t, router, http.MethodPost, "/product", p)
		if rec.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rec.Code, rec.Body.String())
		}
		created := decode[insertResponse](t, rec)
		if !created.Acknowledged || created.InsertedID == "" || created.Record.ID() != created.InsertedID {
			t.Fatalf("unexpected insert response: %+v", created)
		}
	}

	all := decode[[]map[string]any](t, do(t, router, http.MethodGet, "/products", nil))
	if len(all) != 3 {
		t.Fatalf("expected 3 products, got %d", len(all))
	}

	byEmail := decode[[]map[string]any](t, do(t, router, http.MethodGet, "/products?email=a@x.io", nil))
	if len(byEmail) != 2 {
		t.Fatalf("expected 2 products for seller, got %d", len(byEmail))
	}

	// category takes precedence over email
	both := decode[[]map[string]any](t, do(t, router, http.MethodGet, "/products?email=b@x.io&category=bikes", nil))
	if len(both) != 2 {
		t.Fatalf("expected 2 bikes, got %d", len(both))
	}
	for _, p := range both {
		if p["category"] != "bikes" {
			t.Fatalf("unexpected product in category listing: %v", p)
		}
	}
}

func TestEmptyListIsArray(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), service.SaleModeWeak)

	rec := do(t, router, http.MethodGet, "/orders?email=nobody@x.io", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if body := bytes.TrimSpace(rec.Body.Bytes()); string(body) != "[]" {
		t.Fatalf("expected empty array, got %s", body)
	}
}

func TestCreateRejectsMalformedPayload(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), service.SaleModeWeak)

	cases := map[string]any{
		"empty body":      "",
		"not an object":   "[1,2]",
		"missing email":   map[string]any{"name": "Ann"},
		"client supplied": map[string]any{"_id": store.NewID(), "email": "ann@x.io"},
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			rec := do(t, router, http.MethodPost, "/user", body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected status 400, got %d: %s", rec.Code, rec.Body.String())
			}
		})
	}
}

func TestDeleteByIdentifier(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), service.SaleModeWeak)

	created := decode[insertResponse](t, do(t, router, http.MethodPost, "/reportedItem", map[string]any{
		"reportedProductId": store.NewID(),
		"reporterEmail":     "mod@x.io",
	}))

	rec := do(t, router, http.MethodDelete, "/reportedItem/not-an-id", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for malformed id, got %d", rec.Code)
	}

	rec = do(t, router, http.MethodDelete, "/reportedItem/"+created.InsertedID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := decode[deleteResponse](t, rec).DeletedCount; got != 1 {
		t.Fatalf("expected deletedCount 1, got %d", got)
	}

	rec = do(t, router, http.MethodDelete, "/reportedItem/"+created.InsertedID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("repeated delete should succeed, got %d", rec.Code)
	}
	if got := decode[deleteResponse](t, rec).DeletedCount; got != 0 {
		t.Fatalf("expected deletedCount 0 on repeat, got %d", got)
	}
}

func TestGetOrder(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), service.SaleModeWeak)

	created := decode[insertResponse](t, do(t, router, http.MethodPost, "/buy", map[string]any{
		"buyerEmail": "c@x.io",
		"productId":  store.NewID(),
		"price":      30,
	}))

	rec := do(t, router, http.MethodGet, "/orders/"+created.InsertedID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	if got := decode[map[string]any](t, rec); got["buyerEmail"] != "c@x.io" || got["_id"] != created.InsertedID {
		t.Fatalf("unexpected order: %v", got)
	}

	rec = do(t, router, http.MethodGet, "/orders/"+store.NewID(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rec.Code)
	}
}

func TestUserUpdate(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), service.SaleModeWeak)

	rec := do(t, router, http.MethodPost, "/user", map[string]any{"email": "d@x.io", "name": "Dee"})
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d", rec.Code)
	}
	if got := decode[insertResponse](t, rec).Record["verified"]; got != false {
		t.Fatalf("expected verified default false, got %v", got)
	}

	if rec := do(t, router, http.MethodPut, "/userUpdate", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without email, got %d", rec.Code)
	}

	first := decode[updateResponse](t, do(t, router, http.MethodPut, "/userUpdate?email=d@x.io", nil))
	if first.MatchedCount != 1 || first.ModifiedCount != 1 {
		t.Fatalf("unexpected first update: %+v", first)
	}
	second := decode[updateResponse](t, do(t, router, http.MethodPost, "/userUpdate?email=d@x.io", nil))
	if second.MatchedCount != 1 || second.ModifiedCount != 0 {
		t.Fatalf("unexpected repeated update: %+v", second)
	}

	missing := decode[updateResponse](t, do(t, router, http.MethodPut, "/userUpdate?email=ghost@x.io", nil))
	if missing.MatchedCount != 0 {
		t.Fatalf("expected no match for unknown user, got %+v", missing)
	}
}

func TestDeleteAndPostWeak(t *testing.T) {
	st := store.NewMemoryStore()
	router := newTestRouter(t, st, service.SaleModeWeak)
	productID := store.NewID()

	do(t, router, http.MethodPost, "/advertiseItem", map[string]any{"productId": productID})
	order := map[string]any{"buyerEmail": "e@x.io", "price": 15}

	rec := do(t, router, http.MethodPost, "/deleteAndPost?productId="+productID, order)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	resp := decode[saleResponse](t, rec)
	if resp.DeletedCount != 1 || resp.InsertedID == "" || resp.Status != string(service.SaleStatusAdRemoved) {
		t.Fatalf("unexpected sale response: %+v", resp)
	}
	if n := st.Count(domain.CollectionAdvertisedItems, store.Filter{"productId": productID}); n != 0 {
		t.Fatalf("expected advertisement to be removed, %d left", n)
	}

	// second buyer: the order is still recorded, nothing left to delete
	rec = do(t, router, http.MethodPost, "/deleteAndPost?productId="+productID, order)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rec.Code)
	}
	resp = decode[saleResponse](t, rec)
	if resp.DeletedCount != 0 || !resp.OrderCreated || resp.Status != string(service.SaleStatusAdMissing) {
		t.Fatalf("unexpected sale response without advertisement: %+v", resp)
	}
	if n := st.Count(domain.CollectionOrders, store.Filter{"productId": productID}); n != 2 {
		t.Fatalf("expected 2 orders, got %d", n)
	}
}

func TestDeleteAndPostStrictWithoutAdvertisement(t *testing.T) {
	st := store.NewMemoryStore()
	router := newTestRouter(t, st, service.SaleModeStrict)
	productID := store.NewID()

	rec := do(t, router, http.MethodPost, "/deleteAndPost?productId="+productID, map[string]any{
		"buyerEmail": "f@x.io",
		"price":      10,
	})
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d", rec.Code)
	}
	resp := decode[saleResponse](t, rec)
	if resp.OrderCreated || resp.Status != string(service.SaleStatusNoAdvertisement) || resp.Error == "" {
		t.Fatalf("unexpected strict rejection: %+v", resp)
	}
	if n := st.Count(domain.CollectionOrders, store.Filter{}); n != 0 {
		t.Fatalf("expected no orders, got %d", n)
	}
}

func TestDeleteAndPostMissingProduct(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), service.SaleModeWeak)

	rec := do(t, router, http.MethodPost, "/deleteAndPost", map[string]any{"buyerEmail": "g@x.io", "price": 1})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	if got := decode[saleResponse](t, rec).Status; got != string(service.SaleStatusMalformedRequest) {
		t.Fatalf("unexpected status %q", got)
	}
}

func TestDeleteAndPostRetireFailureKeepsOrder(t *testing.T) {
	st := store.NewMemoryStore()
	router := newTestRouter(t, st, service.SaleModeWeak)
	productID := store.NewID()
	do(t, router, http.MethodPost, "/advertiseItem", map[string]any{"productId": productID})

	st.FailNext(store.OpDeleteOne, fmt.Errorf("%w: connection reset", store.ErrStorageUnavailable))
	rec := do(t, router, http.MethodPost, "/deleteAndPost?productId="+productID, map[string]any{
		"buyerEmail": "h@x.io",
		"price":      5,
	})
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	resp := decode[saleResponse](t, rec)
	if resp.InsertedID == "" || !resp.OrderCreated || resp.Status != string(service.SaleStatusAdRetireFailed) {
		t.Fatalf("expected committed order in failure response: %+v", resp)
	}
	if n := st.Count(domain.CollectionAdvertisedItems, store.Filter{"productId": productID}); n != 1 {
		t.Fatalf("expected advertisement to remain, got %d", n)
	}
}

func TestStorageFailureMapsTo503(t *testing.T) {
	st := store.NewMemoryStore()
	router := newTestRouter(t, st, service.SaleModeWeak)

	st.FailNext(store.OpFind, fmt.Errorf("%w: timeout", store.ErrStorageUnavailable))
	rec := do(t, router, http.MethodGet, "/users", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected status 503, got %d", rec.Code)
	}
	if got := decode[map[string]any](t, rec)["error"]; got != "storage unavailable" {
		t.Fatalf("unexpected error body: %v", got)
	}
}

func TestCreatePaymentIntent(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), service.SaleModeWeak)

	rec := do(t, router, http.MethodPost, "/create-payment-intent", `{"price": 42.1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	intent := decode[payment.Intent](t, rec)
	if intent.Amount != 4210 || intent.Currency != "usd" || intent.ClientSecret == "" {
		t.Fatalf("unexpected intent: %+v", intent)
	}

	if rec := do(t, router, http.MethodPost, "/create-payment-intent", `{}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 without price, got %d", rec.Code)
	}
	if rec := do(t, router, http.MethodPost, "/create-payment-intent", `{"price": -3}`); rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400 for negative price, got %d", rec.Code)
	}
}

func TestCORSPreflight(t *testing.T) {
	router := newTestRouter(t, store.NewMemoryStore(), service.SaleModeWeak)

	req := httptest.NewRequest(http.MethodOptions, "/products", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected status 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("unexpected allow-origin header %q", got)
	}
}
