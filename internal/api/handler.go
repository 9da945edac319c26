package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"recon-service/internal/engine"
	"recon-service/internal/models"
	"recon-service/internal/provider"
	"recon-service/internal/service"
	"recon-service/internal/util"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// transferDateLayout is the date format bank statement exports use.
const transferDateLayout = "2006-01-02"

// Handler contains HTTP handlers
type Handler struct {
	recon *service.ReconciliationService
	// baseURL is the externally visible URL prefix of this service, needed
	// by providers that sign the receiving URL.
	baseURL string
}

// NewHandler creates a new HTTP handler
func NewHandler(recon *service.ReconciliationService, baseURL string) *Handler {
	return &Handler{
		recon:   recon,
		baseURL: strings.TrimSuffix(baseURL, "/"),
	}
}

// SetupRoutes sets up HTTP routes
func (h *Handler) SetupRoutes(router *gin.Engine) {
	router.Use(gin.Recovery())
	router.Use(prometheusMiddleware())
	router.Use(gin.Logger())

	router.GET("/health", h.healthCheck)
	router.GET("/ready", h.readinessCheck)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/webhooks/:provider", h.webhook)

	v1 := router.Group("/api/v1")
	{
		v1.POST("/reconciliation/bulk", h.bulkReconcile)
		v1.POST("/reconciliation/confirm", h.manualConfirm)
	}
}

// healthCheck handles health check requests
func (h *Handler) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().Unix(),
	})
}

// readinessCheck handles readiness check requests
func (h *Handler) readinessCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ready",
		"time":   time.Now().Unix(),
	})
}

// webhook receives one provider callback. 2xx means accepted or already
// applied; 4xx means the provider should not redeliver a fixed payload; 5xx
// means the store failed and redelivery is welcome.
func (h *Handler) webhook(c *gin.Context) {
	providerTag := c.Param("provider")

	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read request body"})
		return
	}

	req := &provider.WebhookRequest{
		Body:   body,
		Header: c.Request.Header,
		URL:    h.baseURL + c.Request.URL.Path,
	}

	res, err := h.recon.Webhook(c.Request.Context(), providerTag, req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

type transferRow struct {
	Date      string `json:"date"`
	PayerName string `json:"payer_name" binding:"required"`
	Amount    int64  `json:"amount" binding:"required"`
}

type bulkReconcileRequest struct {
	// Transfers are raw statement rows for the engine to match.
	Transfers []transferRow `json:"transfers"`
	// Matches are transfer/order pairs already matched by CSV tooling.
	Matches []service.MatchedPair `json:"matches"`
}

// bulkReconcile handles one imported bank statement. Rows are processed
// independently; the response reports per-row outcomes.
func (h *Handler) bulkReconcile(c *gin.Context) {
	var req bulkReconcileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}
	if len(req.Transfers) == 0 && len(req.Matches) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transfers or matches required"})
		return
	}
	if len(req.Transfers) > 0 && len(req.Matches) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "transfers and matches are mutually exclusive"})
		return
	}

	var (
		report *service.BulkReport
		err    error
	)
	if len(req.Matches) > 0 {
		report, err = h.recon.ReconcileMatched(c.Request.Context(), req.Matches)
	} else {
		transfers := make([]models.TransferRecord, 0, len(req.Transfers))
		for _, row := range req.Transfers {
			tr := models.TransferRecord{RawPayerName: row.PayerName, Amount: row.Amount}
			if row.Date != "" {
				d, parseErr := time.Parse(transferDateLayout, row.Date)
				if parseErr != nil {
					c.JSON(http.StatusBadRequest, gin.H{
						"error":   "Invalid transfer date",
						"details": parseErr.Error(),
					})
					return
				}
				tr.Date = d
			}
			transfers = append(transfers, tr)
		}
		report, err = h.recon.BulkReconcile(c.Request.Context(), transfers)
	}
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"summary": gin.H{
			"total":   report.Total,
			"updated": report.Updated,
		},
		"matched": report.Rows,
	})
}

type manualConfirmRequest struct {
	OrderID string `json:"order_id" binding:"required"`
	Memo    string `json:"memo"`
}

// manualConfirm confirms a single pending bank-transfer order
func (h *Handler) manualConfirm(c *gin.Context) {
	var req manualConfirmRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request body",
			"details": err.Error(),
		})
		return
	}

	res, err := h.recon.ManualConfirm(c.Request.Context(), req.OrderID, req.Memo)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, res)
}

// respondError maps the engine's error taxonomy onto HTTP statuses.
// Authentication and validation problems are the caller's to fix (4xx);
// anything touching the store is retryable (5xx).
func respondError(c *gin.Context, err error) {
	var authErr *engine.AuthenticationError
	if errors.As(err, &authErr) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": authErr.Error()})
		return
	}

	var valErr *engine.ValidationError
	if errors.As(err, &valErr) {
		c.JSON(http.StatusBadRequest, gin.H{"error": valErr.Error()})
		return
	}

	var invErr *engine.InvalidTransitionError
	if errors.As(err, &invErr) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":          "already processed",
			"order_id":       invErr.OrderID,
			"current_status": invErr.Current,
			"attempted":      invErr.Attempted,
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

// prometheusMiddleware collects HTTP metrics
func prometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())

		util.HTTPRequestDuration.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Observe(duration)

		util.HTTPRequestsTotal.WithLabelValues(
			c.Request.Method,
			c.FullPath(),
			status,
		).Inc()
	}
}
