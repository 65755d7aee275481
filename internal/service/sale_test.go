package service

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vanshika/flashback/internal/domain"
	"github.com/vanshika/flashback/internal/events"
	"github.com/vanshika/flashback/internal/store"
)

type stubPublisher struct {
	mu     sync.Mutex
	events []events.SaleCompleted
	err    error
}

func (p *stubPublisher) PublishSaleCompleted(_ context.Context, event events.SaleCompleted) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return p.err
}

func (p *stubPublisher) Close() error { return nil }

func newSaleFixture(t *testing.T, mode SaleMode) (*SaleService, *store.MemoryStore, *stubPublisher) {
	t.Helper()
	st := store.NewMemoryStore()
	pub := &stubPublisher{}
	svc := NewSaleService(st, pub, mode, zerolog.New(io.Discard))
	svc.WithClock(func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) })
	return svc, st, pub
}

func advertise(t *testing.T, st store.Store, productID string) {
	t.Helper()
	if _, err := st.Create(context.Background(), domain.CollectionAdvertisedItems, store.Record{"productId": productID}); err != nil {
		t.Fatalf("advertise: %v", err)
	}
}

func orderPayload() map[string]any {
	return map[string]any{"buyerEmail": "buyer@x.io", "price": float64(25)}
}

func TestSaleWeak_RemovesAdvertisementAndRecordsOrder(t *testing.T) {
	svc, st, pub := newSaleFixture(t, SaleModeWeak)
	advertise(t, st, "p-1")

	outcome, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-1", Order: orderPayload()})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if outcome.Status != SaleStatusAdRemoved || outcome.AdvertisementsDeleted != 1 || outcome.OrderID == "" {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if n := st.Count(domain.CollectionAdvertisedItems, store.Filter{"productId": "p-1"}); n != 0 {
		t.Fatalf("expected advertisement removed, %d left", n)
	}
	if n := st.Count(domain.CollectionOrders, store.Filter{"productId": "p-1", "buyerEmail": "buyer@x.io"}); n != 1 {
		t.Fatalf("expected one order, got %d", n)
	}

	if len(pub.events) != 1 {
		t.Fatalf("expected one published event, got %d", len(pub.events))
	}
	ev := pub.events[0]
	if ev.OrderID != outcome.OrderID || ev.BuyerEmail != "buyer@x.io" || ev.Mode != "weak" || ev.EventID == "" {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if !ev.Timestamp.Equal(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("unexpected event timestamp: %v", ev.Timestamp)
	}
}

func TestSaleWeak_WithoutAdvertisementStillRecordsOrder(t *testing.T) {
	svc, st, _ := newSaleFixture(t, SaleModeWeak)

	outcome, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-2", Order: orderPayload()})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if outcome.Status != SaleStatusAdMissing || outcome.AdvertisementsDeleted != 0 || !outcome.OrderCreated {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if n := st.Count(domain.CollectionOrders, store.Filter{"productId": "p-2"}); n != 1 {
		t.Fatalf("expected one order, got %d", n)
	}
}

func TestSaleWeak_RemovesOnlyEarliestDuplicate(t *testing.T) {
	svc, st, _ := newSaleFixture(t, SaleModeWeak)
	advertise(t, st, "p-3")
	advertise(t, st, "p-3")

	if _, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-3", Order: orderPayload()}); err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if n := st.Count(domain.CollectionAdvertisedItems, store.Filter{"productId": "p-3"}); n != 1 {
		t.Fatalf("expected one advertisement left, got %d", n)
	}
}

func TestSaleWeak_OrderFailureLeavesAdvertisement(t *testing.T) {
	svc, st, pub := newSaleFixture(t, SaleModeWeak)
	advertise(t, st, "p-4")
	st.FailNext(store.OpCreate, store.ErrStorageUnavailable)

	outcome, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-4", Order: orderPayload()})
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if outcome.OrderCreated || outcome.Status != SaleStatusOrderFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if n := st.Count(domain.CollectionAdvertisedItems, store.Filter{"productId": "p-4"}); n != 1 {
		t.Fatalf("advertisement must survive a failed order, got %d", n)
	}
	for _, call := range st.Calls() {
		if call.Op == store.OpDeleteOne {
			t.Fatalf("delete must not run after a failed order")
		}
	}
	if len(pub.events) != 0 {
		t.Fatalf("no event expected without an order")
	}
}

func TestSaleWeak_RetireFailureKeepsOrder(t *testing.T) {
	svc, st, _ := newSaleFixture(t, SaleModeWeak)
	advertise(t, st, "p-5")
	st.FailNext(store.OpDeleteOne, store.ErrStorageUnavailable)

	outcome, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-5", Order: orderPayload()})
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if !outcome.OrderCreated || outcome.OrderID == "" || outcome.Status != SaleStatusAdRetireFailed {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if n := st.Count(domain.CollectionOrders, store.Filter{"productId": "p-5"}); n != 1 {
		t.Fatalf("order must stay committed, got %d", n)
	}
	if n := st.Count(domain.CollectionAdvertisedItems, store.Filter{"productId": "p-5"}); n != 1 {
		t.Fatalf("advertisement should remain listed, got %d", n)
	}
}

func TestSaleWeak_ConcurrentBuyersBothRecordOrders(t *testing.T) {
	svc, st, _ := newSaleFixture(t, SaleModeWeak)
	advertise(t, st, "p-6")

	var wg sync.WaitGroup
	errs := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-6", Order: orderPayload()})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("Complete returned error: %v", err)
		}
	}

	if n := st.Count(domain.CollectionOrders, store.Filter{"productId": "p-6"}); n != 2 {
		t.Fatalf("expected both orders recorded, got %d", n)
	}
	if n := st.Count(domain.CollectionAdvertisedItems, store.Filter{"productId": "p-6"}); n != 0 {
		t.Fatalf("expected advertisement gone, got %d", n)
	}
}

func TestSaleStrict_RejectsWithoutAdvertisement(t *testing.T) {
	svc, st, pub := newSaleFixture(t, SaleModeStrict)

	outcome, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-7", Order: orderPayload()})
	if !errors.Is(err, ErrAdvertisementNotFound) {
		t.Fatalf("expected ErrAdvertisementNotFound, got %v", err)
	}
	if outcome.OrderCreated || outcome.Status != SaleStatusNoAdvertisement {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if n := st.Count(domain.CollectionOrders, store.Filter{}); n != 0 {
		t.Fatalf("expected no orders, got %d", n)
	}
	if len(pub.events) != 0 {
		t.Fatalf("no event expected for a rejected sale")
	}
}

func TestSaleStrict_ConcurrentBuyersSingleOrder(t *testing.T) {
	svc, st, _ := newSaleFixture(t, SaleModeStrict)
	advertise(t, st, "p-8")

	const buyers = 8
	var wg sync.WaitGroup
	results := make(chan error, buyers)
	for i := 0; i < buyers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-8", Order: orderPayload()})
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	succeeded, rejected := 0, 0
	for err := range results {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAdvertisementNotFound):
			rejected++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 || rejected != buyers-1 {
		t.Fatalf("expected exactly one sale, got %d succeeded and %d rejected", succeeded, rejected)
	}
	if n := st.Count(domain.CollectionOrders, store.Filter{"productId": "p-8"}); n != 1 {
		t.Fatalf("expected one order, got %d", n)
	}
}

func TestSaleStrict_OrderFailureRestoresAdvertisement(t *testing.T) {
	svc, st, _ := newSaleFixture(t, SaleModeStrict)
	advertise(t, st, "p-9")
	st.FailNext(store.OpCreate, store.ErrStorageUnavailable)

	outcome, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-9", Order: orderPayload()})
	if !errors.Is(err, store.ErrStorageUnavailable) {
		t.Fatalf("expected ErrStorageUnavailable, got %v", err)
	}
	if outcome.OrderCreated || outcome.AdvertisementsDeleted != 0 {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
	if n := st.Count(domain.CollectionAdvertisedItems, store.Filter{"productId": "p-9"}); n != 1 {
		t.Fatalf("advertisement should be restored, got %d", n)
	}
}

func TestSale_PublishFailureDoesNotFailSale(t *testing.T) {
	svc, st, pub := newSaleFixture(t, SaleModeWeak)
	pub.err = errors.New("broker down")
	advertise(t, st, "p-10")

	outcome, err := svc.Complete(context.Background(), SaleRequest{ProductID: "p-10", Order: orderPayload()})
	if err != nil {
		t.Fatalf("Complete returned error: %v", err)
	}
	if outcome.Status != SaleStatusAdRemoved {
		t.Fatalf("unexpected outcome: %+v", outcome)
	}
}

func TestSale_MalformedRequests(t *testing.T) {
	svc, st, _ := newSaleFixture(t, SaleModeWeak)

	cases := []struct {
		name string
		req  SaleRequest
	}{
		{"missing product", SaleRequest{Order: orderPayload()}},
		{"missing body", SaleRequest{ProductID: "p-11"}},
		{"mismatched product", SaleRequest{ProductID: "p-11", Order: map[string]any{
			"buyerEmail": "b@x.io", "price": float64(1), "productId": "other",
		}}},
		{"missing buyer", SaleRequest{ProductID: "p-11", Order: map[string]any{"price": float64(1)}}},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			outcome, err := svc.Complete(context.Background(), tc.req)
			if !errors.Is(err, domain.ErrMalformedPayload) {
				t.Fatalf("expected ErrMalformedPayload, got %v", err)
			}
			if outcome.Status != SaleStatusMalformedRequest {
				t.Fatalf("unexpected status %q", outcome.Status)
			}
		})
	}

	if len(st.Calls()) != 0 {
		t.Fatalf("malformed requests must not touch the store, got %v", st.Calls())
	}
}

func TestParseSaleMode(t *testing.T) {
	cases := map[string]SaleMode{"": SaleModeWeak, "weak": SaleModeWeak, " Strict ": SaleModeStrict}
	for in, want := range cases {
		got, err := ParseSaleMode(in)
		if err != nil || got != want {
			t.Fatalf("ParseSaleMode(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseSaleMode("eventual"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
