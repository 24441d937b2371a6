package apihttp

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"brokerd/internal/gateway/pricefeed"
	"brokerd/internal/ledger"
	"brokerd/internal/logger"
	"brokerd/internal/risk"
	"brokerd/internal/store/gormstore"
	"brokerd/internal/strategy"
	"brokerd/internal/types"
	"brokerd/internal/worker"
)

type Router struct {
	Orders     *worker.Service
	Store      *gormstore.Store
	Risk       *risk.Service
	Strategies *strategy.Engine
	Prices     pricefeed.Source

	MaxActiveStrategies int
}

func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/orders", r.handlePlaceOrder)
	group.GET("/orders", r.handleListOrders)
	group.GET("/orders/:id", r.handleGetOrder)
	group.POST("/orders/:id/cancel", r.handleCancelOrder)

	group.GET("/portfolio", r.handlePortfolio)

	group.GET("/risk/settings", r.handleGetRiskSettings)
	group.PUT("/risk/settings", r.handleUpdateRiskSettings)
	group.GET("/risk/metrics", r.handleRiskMetrics)
	group.GET("/risk/positions", r.handlePositionRisks)
	group.GET("/risk/actions", r.handleRiskActions)

	group.POST("/strategies", r.handleCreateStrategy)
	group.GET("/strategies", r.handleListStrategies)
	group.GET("/strategies/:id", r.handleGetStrategy)
	group.POST("/strategies/:id/activate", r.handleActivateStrategy)
	group.POST("/strategies/:id/deactivate", r.handleDeactivateStrategy)
	group.DELETE("/strategies/:id", r.handleDeleteStrategy)
}

func (r *Router) handlePlaceOrder(c *gin.Context) {
	var intake types.OrderIntake
	if err := c.ShouldBindJSON(&intake); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	order, err := r.Orders.PlaceOrder(c.Request.Context(), intake)
	if err != nil {
		logger.Warnf("[api] place order ip=%s user=%s symbol=%s err=%v", c.ClientIP(), intake.UserID, intake.Symbol, err)
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"order": order})
}

func (r *Router) handleListOrders(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	status := types.OrderStatus(strings.TrimSpace(c.Query("status")))
	orders, err := r.Store.ListOrders(c.Request.Context(), userID, status, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"orders": orders})
}

func (r *Router) handleGetOrder(c *gin.Context) {
	order, err := r.Store.GetOrder(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"order": order})
}

func (r *Router) handleCancelOrder(c *gin.Context) {
	if err := r.Orders.CancelOrder(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "cancelled"})
}

func (r *Router) handlePortfolio(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	ctx := c.Request.Context()
	p, err := r.Store.LoadPortfolio(ctx, userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if len(p.Positions) > 0 && r.Prices != nil {
		symbols := make([]string, 0, len(p.Positions))
		for sym := range p.Positions {
			symbols = append(symbols, sym)
		}
		if quotes, err := r.Prices.Quotes(ctx, symbols); err == nil {
			prices := make(map[string]float64, len(quotes))
			for sym, q := range quotes {
				prices[sym] = q.Price
			}
			ledger.Reprice(p, prices)
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"portfolio": p,
		"equity":    ledger.Equity(p),
	})
}

func (r *Router) handleGetRiskSettings(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	rs, err := r.Risk.GetOrCreateSettings(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": rs})
}

func (r *Router) handleUpdateRiskSettings(c *gin.Context) {
	var rs types.RiskSettings
	if err := c.ShouldBindJSON(&rs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(rs.UserID) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	if err := r.Risk.UpdateSettings(c.Request.Context(), &rs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"settings": rs})
}

func (r *Router) handleRiskMetrics(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	metrics, err := r.Risk.CalculateRiskMetrics(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metrics": metrics})
}

func (r *Router) handlePositionRisks(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	risks, err := r.Risk.GetPositionRisks(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"positions": risks})
}

func (r *Router) handleRiskActions(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	actions, err := r.Store.ListRiskActions(c.Request.Context(), gormstore.RiskActionFilter{
		UserID: userID,
		Symbol: strings.TrimSpace(c.Query("symbol")),
		Action: types.RiskActionType(strings.TrimSpace(c.Query("action"))),
		Limit:  limit,
	})
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"actions": actions})
}

type createStrategyRequest struct {
	UserID string          `json:"user_id"`
	Name   string          `json:"name"`
	Rules  json.RawMessage `json:"rules"`
}

func (r *Router) handleCreateStrategy(c *gin.Context) {
	var req createStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.UserID) == "" || strings.TrimSpace(req.Name) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id and name are required"})
		return
	}
	st, err := r.Strategies.Create(c.Request.Context(), req.UserID, req.Name, req.Rules)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, gin.H{"strategy": st})
}

func (r *Router) handleListStrategies(c *gin.Context) {
	userID := strings.TrimSpace(c.Query("user_id"))
	if userID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "user_id is required"})
		return
	}
	list, err := r.Store.ListStrategies(c.Request.Context(), userID)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategies": list})
}

func (r *Router) handleGetStrategy(c *gin.Context) {
	st, err := r.Store.GetStrategy(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"strategy": st})
}

func (r *Router) handleActivateStrategy(c *gin.Context) {
	err := r.Store.ActivateStrategy(c.Request.Context(), c.Param("id"), r.MaxActiveStrategies)
	if err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "active"})
}

func (r *Router) handleDeactivateStrategy(c *gin.Context) {
	err := r.Store.SetStrategyStatus(c.Request.Context(), c.Param("id"), types.StrategyStatusInactive)
	if err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "inactive"})
}

func (r *Router) handleDeleteStrategy(c *gin.Context) {
	if err := r.Store.DeleteStrategy(c.Request.Context(), c.Param("id")); err != nil {
		if errors.Is(err, gormstore.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "strategy not found"})
			return
		}
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}
