package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/0gfoundation/cipo/internal/metrics"
	"github.com/0gfoundation/cipo/internal/status"
)

// Handler serves the read-only delivery status API.
type Handler struct {
	board status.Board
	log   *zap.Logger
}

func NewHandler(board status.Board, log *zap.Logger) *Handler {
	return &Handler{board: board, log: log}
}

// NewEngine returns a gin engine with health, metrics and the status routes
// mounted under /api.
func NewEngine(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	r.GET("/metrics", gin.WrapH(metrics.Handler()))
	h.Register(r.Group("/api"))
	return r
}

func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.GET("/deliveries", h.handleList)
	rg.GET("/deliveries/:location", h.handleGet)
}

func (h *Handler) handleList(c *gin.Context) {
	if h.board == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status board disabled"})
		return
	}
	all, err := h.board.ScanAll(c.Request.Context())
	if err != nil {
		h.log.Error("list deliveries", zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "status board unavailable"})
		return
	}
	if all == nil {
		all = []status.Delivery{}
	}
	c.JSON(http.StatusOK, all)
}

func (h *Handler) handleGet(c *gin.Context) {
	if h.board == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "status board disabled"})
		return
	}
	loc := c.Param("location")
	d, err := h.board.Get(c.Request.Context(), loc)
	if err != nil {
		h.log.Error("get delivery", zap.String("device", loc), zap.Error(err))
		c.JSON(http.StatusBadGateway, gin.H{"error": "status board unavailable"})
		return
	}
	if d == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown device"})
		return
	}
	c.JSON(http.StatusOK, d)
}
