package events

import (
	"context"
	"time"
)

// SaleCompleted is emitted after the sale workflow recorded an order.
type SaleCompleted struct {
	EventID               string    `json:"eventId"`
	OrderID               string    `json:"orderId"`
	ProductID             string    `json:"productId"`
	BuyerEmail            string    `json:"buyerEmail"`
	AdvertisementsDeleted int64     `json:"advertisementsDeleted"`
	Mode                  string    `json:"mode"`
	Timestamp             time.Time `json:"timestamp"`
}

// Publisher delivers domain events to downstream consumers.
type Publisher interface {
	PublishSaleCompleted(ctx context.Context, event SaleCompleted) error
	Close() error
}

// NopPublisher drops every event. It is used when no broker is configured.
type NopPublisher struct{}

func (NopPublisher) PublishSaleCompleted(context.Context, SaleCompleted) error { return nil }

func (NopPublisher) Close() error { return nil }
