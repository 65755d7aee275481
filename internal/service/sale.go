package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vanshika/flashback/internal/domain"
	"github.com/vanshika/flashback/internal/events"
	"github.com/vanshika/flashback/internal/store"
)

// ErrAdvertisementNotFound is returned by the strict sale when no advertisement
// could be claimed for the product. No order is recorded in that case.
var ErrAdvertisementNotFound = errors.New("no advertisement to fulfil for product")

// SaleMode selects the consistency contract of the sale workflow.
type SaleMode string

const (
	// SaleModeWeak records the order first, then retires at most one
	// advertisement. The two steps are independent: an order may be recorded
	// while its advertisement stays listed, and concurrent buyers can both
	// record orders for one product.
	SaleModeWeak SaleMode = "weak"
	// SaleModeStrict claims the advertisement with an atomic find-and-delete
	// and records the order only when the claim succeeded. A failed order
	// insert puts the advertisement back.
	SaleModeStrict SaleMode = "strict"
)

// ParseSaleMode maps a configuration value onto a SaleMode.
func ParseSaleMode(value string) (SaleMode, error) {
	switch SaleMode(strings.ToLower(strings.TrimSpace(value))) {
	case SaleModeWeak, "":
		return SaleModeWeak, nil
	case SaleModeStrict:
		return SaleModeStrict, nil
	default:
		return "", fmt.Errorf("unknown sale mode %q", value)
	}
}

// SaleStatus tells the two workflow steps apart for callers.
type SaleStatus string

const (
	SaleStatusAdRemoved        SaleStatus = "order_recorded_ad_removed"
	SaleStatusAdMissing        SaleStatus = "order_recorded_ad_missing"
	SaleStatusAdRetireFailed   SaleStatus = "order_recorded_ad_delete_failed"
	SaleStatusOrderFailed      SaleStatus = "order_failed"
	SaleStatusNoAdvertisement  SaleStatus = "rejected_no_advertisement"
	SaleStatusMalformedRequest SaleStatus = "rejected_malformed"
)

// SaleRequest carries the target product and the buyer's order payload.
type SaleRequest struct {
	ProductID string
	Order     map[string]any
}

// SaleOutcome describes both steps of a sale.
type SaleOutcome struct {
	Mode                  SaleMode
	ProductID             string
	OrderID               string
	OrderCreated          bool
	AdvertisementsDeleted int64
	Status                SaleStatus
}

// SaleService completes purchases across the orders and advertisements collections.
type SaleService struct {
	store     store.Store
	publisher events.Publisher
	mode      SaleMode
	logger    zerolog.Logger
	nowFn     func() time.Time
}

// NewSaleService constructs a SaleService. A nil publisher drops events.
func NewSaleService(st store.Store, publisher events.Publisher, mode SaleMode, logger zerolog.Logger) *SaleService {
	if publisher == nil {
		publisher = events.NopPublisher{}
	}
	if mode == "" {
		mode = SaleModeWeak
	}
	return &SaleService{
		store:     st,
		publisher: publisher,
		mode:      mode,
		logger:    logger.With().Str("component", "sale").Logger(),
		nowFn:     time.Now,
	}
}

// WithClock overrides the time provider (used primarily in tests).
func (s *SaleService) WithClock(nowFn func() time.Time) {
	if nowFn != nil {
		s.nowFn = nowFn
	}
}

// Mode reports the configured consistency mode.
func (s *SaleService) Mode() SaleMode {
	return s.mode
}

// Complete runs the sale workflow in the configured mode. The outcome is
// meaningful even when an error is returned: OrderID is set whenever an order
// was committed.
func (s *SaleService) Complete(ctx context.Context, req SaleRequest) (SaleOutcome, error) {
	productID := strings.TrimSpace(req.ProductID)
	outcome := SaleOutcome{Mode: s.mode, ProductID: productID}

	order, err := prepareOrder(productID, req.Order)
	if err != nil {
		outcome.Status = SaleStatusMalformedRequest
		return outcome, err
	}

	switch s.mode {
	case SaleModeStrict:
		outcome, err = s.completeStrict(ctx, outcome, order)
	default:
		outcome, err = s.completeWeak(ctx, outcome, order)
	}

	if outcome.OrderCreated {
		s.publish(ctx, outcome, order)
	}
	return outcome, err
}

func (s *SaleService) completeWeak(ctx context.Context, outcome SaleOutcome, order store.Record) (SaleOutcome, error) {
	res, err := s.store.Create(ctx, domain.CollectionOrders, order)
	if err != nil {
		outcome.Status = SaleStatusOrderFailed
		return outcome, fmt.Errorf("record order: %w", err)
	}
	outcome.OrderID = res.InsertedID
	outcome.OrderCreated = true

	del, err := s.store.DeleteOne(ctx, domain.CollectionAdvertisedItems, store.Filter{"productId": outcome.ProductID})
	if err != nil {
		// The order stays committed; there is no compensating action in this mode.
		outcome.Status = SaleStatusAdRetireFailed
		s.logger.Warn().Err(err).Str("orderId", outcome.OrderID).Str("productId", outcome.ProductID).
			Msg("order recorded but advertisement could not be retired")
		return outcome, fmt.Errorf("retire advertisement for %s: %w", outcome.ProductID, err)
	}

	outcome.AdvertisementsDeleted = del.DeletedCount
	if del.DeletedCount == 0 {
		outcome.Status = SaleStatusAdMissing
		s.logger.Info().Str("orderId", outcome.OrderID).Str("productId", outcome.ProductID).
			Msg("order recorded without a matching advertisement")
	} else {
		outcome.Status = SaleStatusAdRemoved
	}
	return outcome, nil
}

func (s *SaleService) completeStrict(ctx context.Context, outcome SaleOutcome, order store.Record) (SaleOutcome, error) {
	ad, err := s.store.FindOneAndDelete(ctx, domain.CollectionAdvertisedItems, store.Filter{"productId": outcome.ProductID})
	if errors.Is(err, store.ErrNotFound) {
		outcome.Status = SaleStatusNoAdvertisement
		return outcome, fmt.Errorf("%w %s", ErrAdvertisementNotFound, outcome.ProductID)
	}
	if err != nil {
		outcome.Status = SaleStatusOrderFailed
		return outcome, fmt.Errorf("claim advertisement for %s: %w", outcome.ProductID, err)
	}

	res, err := s.store.Create(ctx, domain.CollectionOrders, order)
	if err != nil {
		outcome.Status = SaleStatusOrderFailed
		if _, restoreErr := s.store.Create(ctx, domain.CollectionAdvertisedItems, ad.Without(store.IDField)); restoreErr != nil {
			outcome.AdvertisementsDeleted = 1
			s.logger.Error().Err(restoreErr).Str("productId", outcome.ProductID).Str("advertisementId", ad.ID()).
				Msg("order failed and claimed advertisement could not be restored")
			return outcome, errors.Join(fmt.Errorf("record order: %w", err), fmt.Errorf("restore advertisement: %w", restoreErr))
		}
		return outcome, fmt.Errorf("record order: %w", err)
	}

	outcome.OrderID = res.InsertedID
	outcome.OrderCreated = true
	outcome.AdvertisementsDeleted = 1
	outcome.Status = SaleStatusAdRemoved
	return outcome, nil
}

func (s *SaleService) publish(ctx context.Context, outcome SaleOutcome, order store.Record) {
	buyer, _ := order["buyerEmail"].(string)
	event := events.SaleCompleted{
		EventID:               uuid.NewString(),
		OrderID:               outcome.OrderID,
		ProductID:             outcome.ProductID,
		BuyerEmail:            buyer,
		AdvertisementsDeleted: outcome.AdvertisementsDeleted,
		Mode:                  string(outcome.Mode),
		Timestamp:             s.nowFn().UTC(),
	}
	if err := s.publisher.PublishSaleCompleted(ctx, event); err != nil {
		s.logger.Warn().Err(err).Str("orderId", outcome.OrderID).Msg("failed to publish sale event")
	}
}

// prepareOrder fills the order's productId from the request parameter and
// validates the result against the order schema.
func prepareOrder(productID string, payload map[string]any) (store.Record, error) {
	if productID == "" {
		return nil, fmt.Errorf("%w: productId parameter is required", domain.ErrMalformedPayload)
	}
	if payload == nil {
		return nil, fmt.Errorf("%w: order body is required", domain.ErrMalformedPayload)
	}

	order := make(map[string]any, len(payload)+1)
	for k, v := range payload {
		order[k] = v
	}
	switch v := order["productId"].(type) {
	case nil:
		order["productId"] = productID
	case string:
		if v != productID {
			return nil, fmt.Errorf("%w: body productId %q does not match parameter %q", domain.ErrMalformedPayload, v, productID)
		}
	}

	return domain.Order.Schema.Validate(order)
}
