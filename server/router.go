package server

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/dchest/uniuri"
	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/gabihodoroga/email-batch-tracker/model"
	"github.com/gabihodoroga/email-batch-tracker/service"
)

const maxWebhookBytes = 5 * 1024 * 1024

type sendBatchRequest struct {
	From       string   `json:"from" binding:"omitempty,mailbox"`
	Subject    string   `json:"subject" binding:"required"`
	HTML       string   `json:"html" binding:"required_without=Text"`
	Text       string   `json:"text" binding:"required_without=HTML"`
	Recipients []string `json:"recipients" binding:"required,min=1,dive,required,mailbox"`
}

// Handlers holds the collaborators exposed over HTTP
type Handlers struct {
	Registry    *service.BatchRegistry
	Sender      *service.BatchSender
	Dispatcher  *service.WebhookDispatcher
	Ingress     model.EventHandler
	DefaultFrom string
	LogLevel    http.Handler // optional, serves GET/PUT of the runtime log level
}

// NewRouter builds the gin engine with every route registered
func NewRouter(h *Handlers) *gin.Engine {
	registerValidations()

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(otelgin.Middleware("gin-router"))
	r.Use(requestID())

	r.GET("/", func(c *gin.Context) {
		c.Status(http.StatusOK)
	})
	r.GET("/stats", h.stats)
	r.POST("/send-batch-email", h.sendBatch)
	r.POST("/webhook", h.webhook)
	r.GET("/batch-progress/:batchId", h.batchProgress)
	if h.LogLevel != nil {
		r.GET("/log-level", gin.WrapH(h.LogLevel))
		r.PUT("/log-level", gin.WrapH(h.LogLevel))
	}
	return r
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := uniuri.NewLen(10)
		ctx := context.WithValue(c.Request.Context(), model.ContextKey("request_id"), id)
		c.Request = c.Request.WithContext(ctx)
		c.Header("X-Request-Id", id)
		c.Next()
	}
}

func (h *Handlers) stats(c *gin.Context) {
	resp := gin.H{"webhook": h.Dispatcher.Stats(), "signed": h.Dispatcher.Authenticated()}
	if h.Ingress != nil {
		stats, err := h.Ingress.Stats(c.Request.Context())
		if err != nil {
			c.AbortWithError(http.StatusInternalServerError, err)
			return
		}
		resp["pubsub"] = stats
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handlers) sendBatch(c *gin.Context) {
	var req sendBatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.From == "" {
		req.From = h.DefaultFrom
	}
	if req.From == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "from is required"})
		return
	}

	batchID, err := h.Sender.SendBatch(c.Request.Context(), service.SendRequest{
		From:       req.From,
		Subject:    req.Subject,
		HTML:       req.HTML,
		Text:       req.Text,
		Recipients: req.Recipients,
	})
	if err != nil {
		if errors.Is(err, model.ErrInvalidArgument) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		resp := gin.H{"error": err.Error()}
		if batchID != "" {
			resp["batchId"] = batchID
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	c.JSON(http.StatusOK, gin.H{"batchId": batchID})
}

func (h *Handlers) webhook(c *gin.Context) {
	payload, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxWebhookBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read body"})
		return
	}

	result, err := h.Dispatcher.Dispatch(c.Request.Context(), payload, c.Request.Header)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"batchId": result.BatchID, "applied": result.Applied})
	case errors.Is(err, model.ErrAuthenticationFailed), errors.Is(err, model.ErrMalformedPayload):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, model.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	default:
		zap.L().Error("webhook: unexpected dispatch error", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	}
}

func (h *Handlers) batchProgress(c *gin.Context) {
	progress, err := h.Registry.GetProgress(c.Param("batchId"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"sentProgress":      formatProgress(progress.SentCount, progress.Total),
		"deliveredProgress": formatProgress(progress.DeliveredCount, progress.Total),
		"bounced":           progress.BouncedCount,
		"complained":        progress.ComplainedCount,
	})
}

func formatProgress(count, total int) string {
	return fmt.Sprintf("%d/%d (%.2f%%)", count, total, float64(count)*100/float64(total))
}
