package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/codecalc/junction-engine/internal/catalog"
	"github.com/codecalc/junction-engine/internal/cover"
	"github.com/codecalc/junction-engine/internal/db"
	"github.com/codecalc/junction-engine/internal/junction"
	"github.com/codecalc/junction-engine/internal/metrics"
	"github.com/codecalc/junction-engine/pkg/models"
)

// SuggestedExtraCommission is offered when a request omits comissao_extra.
const SuggestedExtraCommission = 0.02

// Server bundles what the handlers need. Store and Metrics may be nil.
type Server struct {
	Junctions *junction.Service
	Catalog   *catalog.Catalog
	Store     db.Store
	Hub       *Hub
	Metrics   *metrics.Metrics
	Solver    cover.Config
	Logger    *zap.Logger
}

// RouterOptions configures the HTTP surface.
type RouterOptions struct {
	AllowedOrigins string // comma separated; empty or "*" allows any origin
	AuthToken      string
	Limiter        *RateLimiter
}

type APIHandler struct {
	Server
}

func SetupRouter(s Server, opts RouterOptions) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger(s.Logger.Named("http")), cors(opts.AllowedOrigins))

	handler := &APIHandler{Server: s}
	auth := AuthMiddleware(opts.AuthToken)
	limited := []gin.HandlerFunc{auth}
	if opts.Limiter != nil {
		limited = append(limited, opts.Limiter.Middleware())
	}
	createJunction := append(limited, handler.handleCreateJunction)

	// Legacy route kept for existing chat integrations.
	r.POST("/criar-juncao", createJunction...)

	api := r.Group("/api/v1")
	{
		api.POST("/junctions", createJunction...)
		api.GET("/junctions", handler.handleListJunctions)
		api.GET("/junctions/:id", handler.handleGetJunction)
		api.POST("/cover/solve", auth, handler.handleSolve)
		api.GET("/catalog", handler.handleCatalogProgress)
		api.POST("/catalog/refresh", auth, handler.handleCatalogRefresh)
		api.GET("/shadow/report", handler.handleShadowReport)
		api.GET("/health", handler.handleHealth)
		if s.Hub != nil {
			api.GET("/stream", s.Hub.Subscribe)
		}
	}

	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(s.Metrics.Registry, promhttp.HandlerOpts{})))
	}
	return r
}

func cors(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowedOrigins == "" || allowedOrigins == "*" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		} else {
			for _, allowed := range strings.Split(allowedOrigins, ",") {
				if strings.TrimSpace(allowed) == origin {
					c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
					break
				}
			}
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", c.Writer.Status()),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)))
	}
}

func (h *APIHandler) handleCreateJunction(c *gin.Context) {
	var req models.JunctionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.ExtraCommission == nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "COMISSAO_REQUERIDA",
			"mensagem": "Informe o percentual de comissão do consultor (ex.: 0.00 a 0.10). " +
				"Se quiser um conselho de mercado, normalmente 0.02 (2%) funciona bem. Deseja aplicar 0.02?",
			"sugestao_percentual": SuggestedExtraCommission,
		})
		return
	}
	if !(req.DesiredCredit > 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "credito_desejado must be greater than zero"})
		return
	}
	if req.EntryCeiling != nil && !(*req.EntryCeiling > 0) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entrada_max must be greater than zero"})
		return
	}

	resp, err := h.Junctions.Create(c.Request.Context(), req)
	if err != nil {
		h.Logger.Error("junction failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to build junctions", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *APIHandler) handleListJunctions(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Persistence is not configured"})
		return
	}
	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(db.DefaultPageSize)))

	runs, total, err := h.Store.ListJunctionRuns(c.Request.Context(), page, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list junction runs", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": runs, "total": total, "page": page})
}

func (h *APIHandler) handleGetJunction(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Persistence is not configured"})
		return
	}
	run, err := h.Store.GetJunctionRun(c.Request.Context(), c.Param("id"))
	if errors.Is(err, db.ErrNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Junction run not found"})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load junction run", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, run)
}

// SolveRequest is a raw solver call.
type SolveRequest struct {
	Entries []cover.Entry `json:"entries"`
	Target  *float64      `json:"target"`
	Config  *cover.Config `json:"config,omitempty"`
}

func (h *APIHandler) handleSolve(c *gin.Context) {
	var req SolveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request body", "details": err.Error()})
		return
	}
	if req.Target == nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "target is required"})
		return
	}
	cfg := h.Solver
	if req.Config != nil {
		cfg = *req.Config
	}

	start := time.Now()
	res, err := cover.Solve(req.Entries, *req.Target, cfg)
	if errors.Is(err, cover.ErrInvalidConfig) {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	elapsed := time.Since(start)
	if h.Metrics != nil {
		h.Metrics.ObserveGroup(cover.GroupResult{Result: res}, elapsed)
	}
	c.JSON(http.StatusOK, gin.H{"result": res, "elapsedMs": float64(elapsed.Microseconds()) / 1000.0})
}

func (h *APIHandler) handleCatalogProgress(c *gin.Context) {
	c.JSON(http.StatusOK, h.Catalog.Progress())
}

func (h *APIHandler) handleCatalogRefresh(c *gin.Context) {
	if err := h.Catalog.Refresh(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Catalog refresh failed", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, h.Catalog.Progress())
}

func (h *APIHandler) handleShadowReport(c *gin.Context) {
	if h.Store == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Persistence is not configured"})
		return
	}
	report, err := h.Store.DriftReport(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to compute drift report", "details": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (h *APIHandler) handleHealth(c *gin.Context) {
	progress := h.Catalog.Progress()
	status := "ok"
	if progress.LastError != "" {
		status = "degraded"
	}
	body := gin.H{
		"status":      status,
		"catalog":     progress,
		"persistence": h.Store != nil,
		"solver":      h.Solver,
	}
	if h.Hub != nil {
		body["streamClients"] = h.Hub.Clients()
	}
	c.JSON(http.StatusOK, body)
}
