package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/vanshika/flashback/internal/domain"
	"github.com/vanshika/flashback/internal/payment"
	"github.com/vanshika/flashback/internal/service"
	"github.com/vanshika/flashback/internal/store"
)

// APIHandlers exposes HTTP handlers for the REST API.
type APIHandlers struct {
	logger    zerolog.Logger
	resources *service.ResourceService
	sales     *service.SaleService
	payments  payment.Gateway
}

// NewAPIHandlers constructs an APIHandlers instance. A nil gateway falls back to the stub.
func NewAPIHandlers(logger zerolog.Logger, resources *service.ResourceService, sales *service.SaleService, payments payment.Gateway) *APIHandlers {
	if payments == nil {
		payments = payment.StubGateway{}
	}
	return &APIHandlers{
		logger:    logger.With().Str("component", "api").Logger(),
		resources: resources,
		sales:     sales,
		payments:  payments,
	}
}

// RegisterRoutes registers every resource route on the router.
func (h *APIHandlers) RegisterRoutes(r gin.IRouter) {
	r.GET("/users", h.list(domain.User))
	r.POST("/user", h.create(domain.User))
	r.POST("/userUpdate", h.verifyUser)
	r.PUT("/userUpdate", h.verifyUser)
	r.DELETE("/user/:id", h.remove(domain.User))

	r.GET("/products", h.list(domain.Product))
	r.POST("/product", h.create(domain.Product))
	r.DELETE("/product/:id", h.remove(domain.Product))

	r.GET("/reportedItems", h.list(domain.ReportedItem))
	r.POST("/reportedItem", h.create(domain.ReportedItem))
	r.DELETE("/reportedItem/:id", h.remove(domain.ReportedItem))

	r.GET("/advertisementItems", h.list(domain.AdvertisedItem))
	r.POST("/advertiseItem", h.create(domain.AdvertisedItem))
	r.DELETE("/advertiseItem/:id", h.remove(domain.AdvertisedItem))

	r.GET("/orders", h.list(domain.Order))
	r.POST("/buy", h.create(domain.Order))
	r.GET("/orders/:id", h.get(domain.Order))
	r.DELETE("/orders/:id", h.remove(domain.Order))

	r.POST("/deleteAndPost", h.completeSale)
	r.POST("/create-payment-intent", h.createPaymentIntent)
}

func (h *APIHandlers) list(entity domain.Entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		records, err := h.resources.List(c.Request.Context(), entity, c.Query)
		if err != nil {
			h.fail(c, err, "failed to list "+entity.Collection)
			return
		}
		c.JSON(http.StatusOK, records)
	}
}

func (h *APIHandlers) create(entity domain.Entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		payload, err := readPayload(c)
		if err != nil {
			h.fail(c, err, "invalid "+entity.Name+" payload")
			return
		}

		record, err := h.resources.Create(c.Request.Context(), entity, payload)
		if err != nil {
			h.fail(c, err, "failed to persist "+entity.Name)
			return
		}

		c.JSON(http.StatusCreated, insertResponse{
			Acknowledged: true,
			InsertedID:   record.ID(),
			Record:       record,
		})
	}
}

func (h *APIHandlers) get(entity domain.Entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		record, err := h.resources.Get(c.Request.Context(), entity, c.Param("id"))
		if err != nil {
			h.fail(c, err, "failed to fetch "+entity.Name)
			return
		}
		c.JSON(http.StatusOK, record)
	}
}

func (h *APIHandlers) remove(entity domain.Entity) gin.HandlerFunc {
	return func(c *gin.Context) {
		res, err := h.resources.Delete(c.Request.Context(), entity, c.Param("id"))
		if err != nil {
			h.fail(c, err, "failed to delete "+entity.Name)
			return
		}
		c.JSON(http.StatusOK, deleteResponse{
			Acknowledged: true,
			DeletedCount: res.DeletedCount,
		})
	}
}

func (h *APIHandlers) verifyUser(c *gin.Context) {
	res, err := h.resources.VerifyUser(c.Request.Context(), c.Query)
	if err != nil {
		h.fail(c, err, "failed to verify user")
		return
	}
	c.JSON(http.StatusOK, updateResponse{
		Acknowledged:  true,
		MatchedCount:  res.MatchedCount,
		ModifiedCount: res.ModifiedCount,
	})
}

func (h *APIHandlers) completeSale(c *gin.Context) {
	payload, err := readPayload(c)
	if err != nil {
		h.fail(c, err, "invalid order payload")
		return
	}

	outcome, err := h.sales.Complete(c.Request.Context(), service.SaleRequest{
		ProductID: c.Query("productId"),
		Order:     payload,
	})

	resp := saleResponse{
		Acknowledged: err == nil,
		DeletedCount: outcome.AdvertisementsDeleted,
		InsertedID:   outcome.OrderID,
		OrderCreated: outcome.OrderCreated,
		Mode:         string(outcome.Mode),
		Status:       string(outcome.Status),
	}
	if err != nil {
		status := statusFor(err)
		h.logFailure(status, err, "sale completion failed", outcome)
		resp.Error = clientMessage(status, err, "sale completion failed")
		c.JSON(status, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandlers) createPaymentIntent(c *gin.Context) {
	var req paymentIntentRequest
	if err := json.NewDecoder(c.Request.Body).Decode(&req); err != nil || req.Price == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "price is required"})
		return
	}

	intent, err := h.payments.CreateIntent(c.Request.Context(), *req.Price)
	if errors.Is(err, payment.ErrInvalidAmount) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		h.fail(c, err, "failed to create payment intent")
		return
	}
	c.JSON(http.StatusOK, intent)
}

// --- Request & Response DTOs ---

type insertResponse struct {
	Acknowledged bool         `json:"acknowledged"`
	InsertedID   string       `json:"insertedId"`
	Record       store.Record `json:"record"`
}

type deleteResponse struct {
	Acknowledged bool  `json:"acknowledged"`
	DeletedCount int64 `json:"deletedCount"`
}

type updateResponse struct {
	Acknowledged  bool  `json:"acknowledged"`
	MatchedCount  int64 `json:"matchedCount"`
	ModifiedCount int64 `json:"modifiedCount"`
}

type saleResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	DeletedCount int64  `json:"deletedCount"`
	InsertedID   string `json:"insertedId,omitempty"`
	OrderCreated bool   `json:"orderCreated"`
	Mode         string `json:"mode"`
	Status       string `json:"status"`
	Error        string `json:"error,omitempty"`
}

type paymentIntentRequest struct {
	Price *decimal.Decimal `json:"price"`
}

// --- Helpers ---

func readPayload(c *gin.Context) (map[string]any, error) {
	body, err := c.GetRawData()
	if err != nil {
		return nil, err
	}
	return domain.ParsePayload(body)
}

// statusFor maps the error taxonomy onto HTTP status codes. Zero-match deletes
// and updates never reach this point: they are successful results.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrMalformedPayload),
		errors.Is(err, store.ErrInvalidIdentifier),
		errors.Is(err, store.ErrIdentifierAssigned):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAdvertisementNotFound):
		return http.StatusConflict
	case errors.Is(err, store.ErrStorageUnavailable), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func clientMessage(status int, err error, fallback string) string {
	switch status {
	case http.StatusServiceUnavailable:
		return "storage unavailable"
	case http.StatusInternalServerError:
		return fallback
	default:
		return err.Error()
	}
}

func (h *APIHandlers) fail(c *gin.Context, err error, msg string) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg(msg)
	}
	c.JSON(status, gin.H{"error": clientMessage(status, err, msg)})
}

func (h *APIHandlers) logFailure(status int, err error, msg string, outcome service.SaleOutcome) {
	if status < http.StatusInternalServerError {
		return
	}
	h.logger.Error().Err(err).
		Str("productId", outcome.ProductID).
		Str("orderId", outcome.OrderID).
		Str("status", string(outcome.Status)).
		Msg(msg)
}
