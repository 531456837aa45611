package handler

import (
	"errors"
	"net/http"
	"time"

	"pricefeed/internal/domain"
	"pricefeed/internal/infra"
	"pricefeed/internal/service"

	"github.com/gin-gonic/gin"
)

// PriceStreamer is the part of the streamer the HTTP API needs
type PriceStreamer interface {
	Subscribe(symbol string) error
	Unsubscribe(symbol string) error
	GetPrice(symbol string) (domain.PriceSample, bool)
	ListSymbols() []domain.Symbol
	Prices() map[domain.Symbol]domain.PriceSample
}

// PriceResponse is a price sample as served over HTTP
type PriceResponse struct {
	Symbol     string     `json:"symbol"`
	Price      string     `json:"price"`
	ObservedAt time.Time  `json:"observed_at"`
	EventTime  *time.Time `json:"event_time,omitempty"`
}

func newPriceResponse(s domain.PriceSample) PriceResponse {
	resp := PriceResponse{
		Symbol:     s.Symbol.String(),
		Price:      s.PriceString(),
		ObservedAt: s.ObservedAt,
	}
	if !s.EventTime.IsZero() {
		et := s.EventTime
		resp.EventTime = &et
	}
	return resp
}

type subscribeRequest struct {
	Symbol string `json:"symbol" binding:"required"`
}

// PriceHandler serves subscriptions, prices and metrics over HTTP
type PriceHandler struct {
	streamer PriceStreamer
	metrics  *infra.Metrics
}

// NewPriceHandler creates a handler. A nil metrics gets a fresh set of counters.
func NewPriceHandler(streamer PriceStreamer, metrics *infra.Metrics) *PriceHandler {
	if metrics == nil {
		metrics = infra.NewMetrics()
	}
	return &PriceHandler{streamer: streamer, metrics: metrics}
}

// Health reports liveness
func (h *PriceHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// ListSymbols returns the subscription set
func (h *PriceHandler) ListSymbols(c *gin.Context) {
	symbols := h.streamer.ListSymbols()
	names := make([]string, len(symbols))
	for i, s := range symbols {
		names[i] = s.String()
	}
	c.JSON(http.StatusOK, gin.H{"symbols": names})
}

// Subscribe adds a symbol from a {"symbol": "..."} body
func (h *PriceHandler) Subscribe(c *gin.Context) {
	var req subscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	if err := h.streamer.Subscribe(req.Symbol); err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"symbol": domain.NormalizeSymbol(req.Symbol).String()})
}

// Unsubscribe removes the symbol in the path
func (h *PriceHandler) Unsubscribe(c *gin.Context) {
	if err := h.streamer.Unsubscribe(c.Param("symbol")); err != nil {
		writeError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPrices returns every cached price ordered by symbol
func (h *PriceHandler) GetPrices(c *gin.Context) {
	samples := service.SortedSamples(h.streamer.Prices())
	prices := make([]PriceResponse, len(samples))
	for i, s := range samples {
		prices[i] = newPriceResponse(s)
	}
	c.JSON(http.StatusOK, gin.H{"prices": prices})
}

// GetPrice returns the latest price of one symbol
func (h *PriceHandler) GetPrice(c *gin.Context) {
	sample, ok := h.streamer.GetPrice(c.Param("symbol"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no price"})
		return
	}
	c.JSON(http.StatusOK, newPriceResponse(sample))
}

// GetMetrics returns the feed counters
func (h *PriceHandler) GetMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, h.metrics.Snapshot())
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidSymbol):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, domain.ErrServiceStopped):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
	}
}
