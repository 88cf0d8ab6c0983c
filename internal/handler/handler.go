package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/nathanyu/p2p-exchange/internal/automation"
	"github.com/nathanyu/p2p-exchange/internal/domain"
	"github.com/nathanyu/p2p-exchange/internal/marketdata"
	"github.com/nathanyu/p2p-exchange/internal/matching"
	"github.com/nathanyu/p2p-exchange/internal/middleware"
	"github.com/nathanyu/p2p-exchange/internal/settlement"
)

// Handler holds the HTTP handler dependencies.
type Handler struct {
	engine      *matching.Engine
	settlements *settlement.Engine
	evaluator   *automation.Evaluator
	tape        *marketdata.Tape
	rules       *automation.RuleSet
}

// NewHandler creates a new Handler.
func NewHandler(engine *matching.Engine, settlements *settlement.Engine, evaluator *automation.Evaluator, tape *marketdata.Tape, rules *automation.RuleSet) *Handler {
	return &Handler{
		engine:      engine,
		settlements: settlements,
		evaluator:   evaluator,
		tape:        tape,
		rules:       rules,
	}
}

// RegisterRoutes sets up the Gin routes.
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)

	v1 := r.Group("/v1")
	{
		v1.POST("/orders", h.PlaceOrder)
		v1.DELETE("/orders/:id", h.CancelOrder)
		v1.GET("/orders/:id", h.GetOrder)
		v1.GET("/orderbook", h.GetOrderBook)
		v1.POST("/match", h.ExecuteMatch)
		v1.GET("/trades", h.GetTrades)
		v1.GET("/trades/recent", h.GetRecentTrades)

		v1.POST("/settlements", h.CreateSettlement)
		v1.GET("/settlements/:id", h.GetSettlement)
		v1.POST("/settlements/:id/release", h.ReleaseSettlement)
		v1.POST("/settlements/:id/dispute", h.FileDispute)
		v1.POST("/settlements/:id/evidence", h.SubmitEvidence)
		v1.POST("/settlements/:id/resolve", h.ResolveDispute)

		v1.POST("/automation/rules", h.AddRule)
		v1.POST("/automation/tasks", h.RegisterTask)
		v1.POST("/automation/tasks/:id/run", h.RunTask)
		v1.POST("/automation/tasks/:id/resume", h.ResumeTask)
		v1.GET("/automation/tasks/:id/log", h.ListExecutionLog)
	}
}

// statusFromError maps the domain error taxonomy onto HTTP status codes.
func statusFromError(err error) int {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func abortWithError(c *gin.Context, err error) {
	c.JSON(statusFromError(err), gin.H{"error": err.Error()})
}

// Health returns a health check response.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": "p2p-exchange",
	})
}

// PlaceOrderRequest is the request body for placing an order.
type PlaceOrderRequest struct {
	TraderID   string      `json:"trader_id" binding:"required"`
	Symbol     string      `json:"symbol" binding:"required"`
	Side       domain.Side `json:"side" binding:"required"`
	Price      int64       `json:"price" binding:"required,gt=0"`
	Amount     int64       `json:"amount" binding:"required,gt=0"`
	Network    string      `json:"network"`
	FeeRateBps int64       `json:"fee_rate_bps"`
	ExpiresAt  time.Time   `json:"expires_at"`
}

// PlaceOrder handles POST /v1/orders.
func (h *Handler) PlaceOrder(c *gin.Context) {
	var req PlaceOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	order, err := h.engine.PlaceOrder(c.Request.Context(), &domain.Order{
		TraderID:   req.TraderID,
		Symbol:     req.Symbol,
		Side:       req.Side,
		Price:      req.Price,
		Amount:     req.Amount,
		Network:    req.Network,
		FeeRateBps: req.FeeRateBps,
		ExpiresAt:  req.ExpiresAt,
	})
	if err != nil {
		abortWithError(c, err)
		return
	}

	middleware.OrdersTotal.WithLabelValues(string(domain.OrderActionNew), order.Symbol).Inc()
	c.JSON(http.StatusCreated, order)
}

// CancelOrder handles DELETE /v1/orders/:id. The requesting trader comes
// from the X-Trader-ID header (auth is the embedding application's concern).
func (h *Handler) CancelOrder(c *gin.Context) {
	orderID := c.Param("id")
	requester := c.GetHeader("X-Trader-ID")
	if requester == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "X-Trader-ID header is required"})
		return
	}

	order, err := h.engine.CancelOrder(c.Request.Context(), orderID, requester)
	if err != nil {
		abortWithError(c, err)
		return
	}

	middleware.OrdersTotal.WithLabelValues(string(domain.OrderActionCancel), order.Symbol).Inc()
	c.JSON(http.StatusOK, order)
}

// GetOrder handles GET /v1/orders/:id.
func (h *Handler) GetOrder(c *gin.Context) {
	order, err := h.engine.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, order)
}

// GetOrderBook handles GET /v1/orderbook.
func (h *Handler) GetOrderBook(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	depthStr := c.DefaultQuery("depth", "10")
	depth, err := strconv.Atoi(depthStr)
	if err != nil || depth <= 0 {
		depth = 10
	}

	c.JSON(http.StatusOK, h.engine.GetOrderBook(symbol, depth))
}

// ExecuteMatchRequest is the request body for an explicit match.
type ExecuteMatchRequest struct {
	BuyOrderID  string `json:"buy_order_id" binding:"required"`
	SellOrderID string `json:"sell_order_id" binding:"required"`
}

// ExecuteMatch handles POST /v1/match.
func (h *Handler) ExecuteMatch(c *gin.Context) {
	var req ExecuteMatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trade, err := h.engine.ExecuteMatch(c.Request.Context(), req.BuyOrderID, req.SellOrderID)
	if err != nil {
		abortWithError(c, err)
		return
	}

	middleware.MatchesTotal.WithLabelValues(trade.Symbol).Inc()
	c.JSON(http.StatusCreated, trade)
}

// GetTrades handles GET /v1/trades.
func (h *Handler) GetTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	orderID := c.Query("order_id")
	sinceStr := c.Query("since")

	var since time.Time
	if sinceStr != "" {
		parsed, err := time.Parse(time.RFC3339, sinceStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since format, use RFC3339"})
			return
		}
		since = parsed
	}

	trades := h.tape.GetTrades(symbol, orderID, since)
	if trades == nil {
		trades = []*domain.Trade{}
	}
	c.JSON(http.StatusOK, trades)
}

// GetRecentTrades handles GET /v1/trades/recent.
func (h *Handler) GetRecentTrades(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}

	countStr := c.DefaultQuery("count", "50")
	count, err := strconv.Atoi(countStr)
	if err != nil || count <= 0 {
		count = 50
	}

	trades := h.tape.GetRecent(symbol, count)
	if trades == nil {
		trades = []*domain.Trade{}
	}
	c.JSON(http.StatusOK, trades)
}

// CreateSettlementRequest is the request body for creating a settlement.
type CreateSettlementRequest struct {
	TradeID string                 `json:"trade_id" binding:"required"`
	PartyA  string                 `json:"party_a" binding:"required"`
	PartyB  string                 `json:"party_b" binding:"required"`
	Terms   domain.SettlementTerms `json:"terms"`
}

// CreateSettlement handles POST /v1/settlements.
func (h *Handler) CreateSettlement(c *gin.Context) {
	var req CreateSettlementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	trade := h.tape.GetTrade(req.TradeID)
	if trade == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trade " + req.TradeID + " not found"})
		return
	}

	s, err := h.settlements.CreateSettlement(c.Request.Context(), trade, req.PartyA, req.PartyB, req.Terms)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// GetSettlement handles GET /v1/settlements/:id.
func (h *Handler) GetSettlement(c *gin.Context) {
	s, err := h.settlements.GetSettlement(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// ReleaseSettlement handles POST /v1/settlements/:id/release.
func (h *Handler) ReleaseSettlement(c *gin.Context) {
	s, err := h.settlements.Release(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// FileDisputeRequest is the request body for filing a dispute.
type FileDisputeRequest struct {
	Reason  string `json:"reason" binding:"required"`
	FiledBy string `json:"filed_by" binding:"required"`
}

// FileDispute handles POST /v1/settlements/:id/dispute.
func (h *Handler) FileDispute(c *gin.Context) {
	var req FileDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.settlements.FileDispute(c.Request.Context(), c.Param("id"), req.Reason, req.FiledBy)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// SubmitEvidence handles POST /v1/settlements/:id/evidence.
func (h *Handler) SubmitEvidence(c *gin.Context) {
	var evidence domain.Evidence
	if err := c.ShouldBindJSON(&evidence); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.settlements.SubmitEvidence(c.Request.Context(), c.Param("id"), evidence)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, s)
}

// ResolveDisputeRequest is the request body for resolving a dispute.
type ResolveDisputeRequest struct {
	Resolution domain.Resolution `json:"resolution" binding:"required"`
	Mediator   string            `json:"mediator"`
}

// ResolveDispute handles POST /v1/settlements/:id/resolve.
func (h *Handler) ResolveDispute(c *gin.Context) {
	var req ResolveDisputeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s, err := h.settlements.ResolveDispute(c.Request.Context(), c.Param("id"), req.Resolution, req.Mediator)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, s)
}

// AddRule handles POST /v1/automation/rules.
func (h *Handler) AddRule(c *gin.Context) {
	var rule domain.SettlementRule
	if err := c.ShouldBindJSON(&rule); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if rule.RuleID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "rule_id is required"})
		return
	}

	h.rules.Add(&rule)
	c.JSON(http.StatusCreated, rule)
}

// RegisterTask handles POST /v1/automation/tasks.
func (h *Handler) RegisterTask(c *gin.Context) {
	var task domain.AutomationTask
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if task.SettlementID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "settlement_id is required"})
		return
	}

	registered, err := h.evaluator.RegisterTask(c.Request.Context(), &task)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, registered)
}

// RunTask handles POST /v1/automation/tasks/:id/run (manual trigger).
func (h *Handler) RunTask(c *gin.Context) {
	if err := h.evaluator.RunTask(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}

	task, err := h.evaluator.GetTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, task)
}

// ResumeTask handles POST /v1/automation/tasks/:id/resume.
func (h *Handler) ResumeTask(c *gin.Context) {
	if err := h.evaluator.ResumeTask(c.Request.Context(), c.Param("id")); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

// ListExecutionLog handles GET /v1/automation/tasks/:id/log.
func (h *Handler) ListExecutionLog(c *gin.Context) {
	log, err := h.evaluator.ListExecutionLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		abortWithError(c, err)
		return
	}
	if log == nil {
		log = []domain.ExecutionLogEntry{}
	}
	c.JSON(http.StatusOK, log)
}
