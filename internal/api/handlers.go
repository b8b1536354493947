package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/enercoop/gridmatch/internal/engine"
	"github.com/enercoop/gridmatch/internal/market"
	"github.com/enercoop/gridmatch/internal/settlement"
)

type handlers struct {
	logger      *zap.Logger
	engine      *engine.Engine
	settlements *settlement.Processor
}

// submitOrderRequest carries all order attributes as strings for exact
// decimal parsing.
type submitOrderRequest struct {
	ExternalReference      string     `json:"external_reference"`
	MemberID               string     `json:"member_id" binding:"required"`
	EnergySourceID         string     `json:"energy_source_id" binding:"required"`
	Side                   string     `json:"side" binding:"required"`
	Quantity               string     `json:"quantity" binding:"required"`
	LimitPrice             string     `json:"limit_price" binding:"required"`
	PartialFillsAllowed    *bool      `json:"partial_fills_allowed"`
	FillOrKill             bool       `json:"fill_or_kill"`
	MinimumOrderSize       string     `json:"minimum_order_size"`
	MaximumOrderSize       string     `json:"maximum_order_size"`
	Iceberg                bool       `json:"iceberg"`
	IcebergVisibleQuantity string     `json:"iceberg_visible_quantity"`
	StopLossPrice          string     `json:"stop_loss_price"`
	TakeProfitPrice        string     `json:"take_profit_price"`
	CounterOffersAllowed   bool       `json:"counter_offers_allowed"`
	LinkedOrderIDs         []string   `json:"linked_order_ids"`
	DeliveryDate           *time.Time `json:"delivery_date"`
	DeliveryType           string     `json:"delivery_type"`
	ExpiresAt              *time.Time `json:"expires_at"`
}

func parseDecimal(s string) (decimal.Decimal, error) {
	if s == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(s)
}

func (req *submitOrderRequest) toOrder() (*market.Order, error) {
	memberID, err := uuid.Parse(req.MemberID)
	if err != nil {
		return nil, errors.New("invalid member_id")
	}
	sourceID, err := uuid.Parse(req.EnergySourceID)
	if err != nil {
		return nil, errors.New("invalid energy_source_id")
	}
	order := &market.Order{
		ExternalReference:    req.ExternalReference,
		MemberID:             memberID,
		EnergySourceID:       sourceID,
		Side:                 req.Side,
		FillOrKill:           req.FillOrKill,
		Iceberg:              req.Iceberg,
		CounterOffersAllowed: req.CounterOffersAllowed,
		DeliveryType:         req.DeliveryType,
		ExpiresAt:            req.ExpiresAt,
		PartialFillsAllowed:  true,
	}
	if req.PartialFillsAllowed != nil {
		order.PartialFillsAllowed = *req.PartialFillsAllowed
	}
	if req.DeliveryDate != nil {
		order.DeliveryDate = *req.DeliveryDate
	}
	for name, pair := range map[string]struct {
		src string
		dst *decimal.Decimal
	}{
		"quantity":                 {req.Quantity, &order.Quantity},
		"limit_price":              {req.LimitPrice, &order.LimitPrice},
		"minimum_order_size":       {req.MinimumOrderSize, &order.MinimumOrderSize},
		"maximum_order_size":       {req.MaximumOrderSize, &order.MaximumOrderSize},
		"iceberg_visible_quantity": {req.IcebergVisibleQuantity, &order.IcebergVisibleQuantity},
		"stop_loss_price":          {req.StopLossPrice, &order.StopLossPrice},
		"take_profit_price":        {req.TakeProfitPrice, &order.TakeProfitPrice},
	} {
		d, err := parseDecimal(pair.src)
		if err != nil {
			return nil, errors.New("invalid " + name)
		}
		*pair.dst = d
	}
	for _, raw := range req.LinkedOrderIDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, errors.New("invalid linked_order_ids")
		}
		order.LinkedOrderIDs = append(order.LinkedOrderIDs, id)
	}
	return order, nil
}

func (h *handlers) submitOrder(c *gin.Context) {
	var req submitOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := req.toOrder()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	orderID, err := h.engine.SubmitOrder(c.Request.Context(), order)
	if err != nil {
		if reason := market.RejectionReasonOf(err); reason != "" {
			c.JSON(http.StatusUnprocessableEntity, gin.H{
				"order_id": orderID,
				"status":   market.OrderStatusRejected,
				"reason":   reason,
			})
			return
		}
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order_id": orderID, "status": "accepted"})
}

func (h *handlers) cancelOrder(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	if err := h.engine.CancelOrder(c.Request.Context(), orderID); err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"order_id": orderID, "status": market.OrderStatusCancelled})
}

func (h *handlers) orderStatus(c *gin.Context) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid order id"})
		return
	}
	snapshot, err := h.engine.GetOrderStatus(c.Request.Context(), orderID)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, snapshot)
}

type priceTickRequest struct {
	EnergySourceID string `json:"energy_source_id" binding:"required"`
	Price          string `json:"price" binding:"required"`
}

func (h *handlers) priceTick(c *gin.Context) {
	var req priceTickRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	sourceID, err := uuid.Parse(req.EnergySourceID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid energy_source_id"})
		return
	}
	price, err := decimal.NewFromString(req.Price)
	if err != nil || !price.IsPositive() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid price"})
		return
	}
	if err := h.engine.OnPriceTick(sourceID, price); err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "processed"})
}

func (h *handlers) depth(c *gin.Context) {
	sourceID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid source id"})
		return
	}
	bids, asks, err := h.engine.Depth(sourceID, 20)
	if err != nil {
		h.writeEngineError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"bids": bids, "asks": asks})
}

func (h *handlers) pendingSettlements(c *gin.Context) {
	pending, err := h.settlements.PendingSettlements(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pending": pending, "count": len(pending)})
}

func (h *handlers) writeEngineError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, market.ErrOrderNotFound), errors.Is(err, market.ErrMatchNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case errors.Is(err, market.ErrAlreadyTerminal):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, market.ErrSourceBusy):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error(), "retryable": true})
	case errors.Is(err, market.ErrEngineStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		h.logger.Error("request failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
