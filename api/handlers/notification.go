package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/0MATRIX0/agent-connect/internal/model"
	"github.com/0MATRIX0/agent-connect/internal/notify"
	"github.com/0MATRIX0/agent-connect/internal/repository"
)

// NotificationHandler serves the inbox and the web-push endpoints.
type NotificationHandler struct {
	inbox          *repository.NotificationRepository
	subscriptions  *repository.SubscriptionRepository
	dispatcher     *notify.Dispatcher
	vapidPublicKey string
	limiter        *rate.Limiter
}

// NewNotificationHandler creates a handler. perMinute limits /api/notify;
// zero disables the limit.
func NewNotificationHandler(
	inbox *repository.NotificationRepository,
	subscriptions *repository.SubscriptionRepository,
	dispatcher *notify.Dispatcher,
	vapidPublicKey string,
	perMinute int,
) *NotificationHandler {
	var limiter *rate.Limiter
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), perMinute)
	}
	return &NotificationHandler{
		inbox:          inbox,
		subscriptions:  subscriptions,
		dispatcher:     dispatcher,
		vapidPublicKey: vapidPublicKey,
		limiter:        limiter,
	}
}

// NotifyRequest is the body of POST /api/notify.
type NotifyRequest struct {
	Title     string          `json:"title"`
	Body      string          `json:"body"`
	Type      string          `json:"type"`
	Icon      string          `json:"icon"`
	SessionID string          `json:"sessionId"`
	Data      json.RawMessage `json:"data"`
}

// NotifyResponse reports a dispatched notification.
type NotifyResponse struct {
	Success      bool                `json:"success"`
	Message      string              `json:"message"`
	Sent         int                 `json:"sent"`
	Cleaned      int                 `json:"cleaned"`
	Notification *model.Notification `json:"notification"`
}

// UnsubscribeRequest is the body of POST /api/unsubscribe.
type UnsubscribeRequest struct {
	Endpoint string `json:"endpoint" binding:"required"`
}

// List handles GET /api/notifications - the inbox, newest first.
func (h *NotificationHandler) List(c *gin.Context) {
	list, err := h.inbox.List(c.Request.Context())
	if err != nil {
		sendModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, list)
}

// Delete handles DELETE /api/notifications/:id.
func (h *NotificationHandler) Delete(c *gin.Context) {
	if err := h.inbox.Delete(c.Request.Context(), c.Param("id")); err != nil {
		sendModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Clear handles DELETE /api/notifications.
func (h *NotificationHandler) Clear(c *gin.Context) {
	if err := h.inbox.Clear(c.Request.Context()); err != nil {
		sendModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Config handles GET /api/config - what a browser needs to subscribe.
func (h *NotificationHandler) Config(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"vapidPublicKey": h.vapidPublicKey,
		"pushEnabled":    h.dispatcher.PushEnabled(),
	})
}

// Subscribe handles POST /api/subscribe.
func (h *NotificationHandler) Subscribe(c *gin.Context) {
	var sub model.PushSubscription
	if err := c.ShouldBindJSON(&sub); err != nil || sub.Validate() != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid subscription object")
		return
	}
	sub.CreatedAt = time.Time{}

	if err := h.subscriptions.Upsert(c.Request.Context(), sub); err != nil {
		sendModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Subscribed successfully"})
}

// Unsubscribe handles POST /api/unsubscribe.
func (h *NotificationHandler) Unsubscribe(c *gin.Context) {
	var req UnsubscribeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Endpoint is required")
		return
	}

	if err := h.subscriptions.Delete(c.Request.Context(), req.Endpoint); err != nil {
		sendModelError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"success": true, "message": "Unsubscribed successfully"})
}

// Notify handles POST /api/notify (JSON body) and GET /api/notify (query
// parameters, for quick tests from a browser or curl).
func (h *NotificationHandler) Notify(c *gin.Context) {
	if h.limiter != nil && !h.limiter.Allow() {
		sendError(c, http.StatusTooManyRequests, "RATE_LIMITED", "Too many notifications")
		return
	}

	var req NotifyRequest
	if c.Request.Method == http.MethodGet {
		req = NotifyRequest{
			Title:     c.DefaultQuery("title", repository.DefaultNotificationTitle),
			Body:      c.DefaultQuery("body", "Test notification"),
			Type:      c.DefaultQuery("type", string(model.NotificationCompleted)),
			SessionID: c.Query("sessionId"),
		}
	} else if err := c.ShouldBindJSON(&req); err != nil {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Invalid request body: "+err.Error())
		return
	}

	if strings.TrimSpace(req.Body) == "" {
		sendError(c, http.StatusBadRequest, "VALIDATION_ERROR", "Body is required")
		return
	}

	res, err := h.dispatcher.Notify(c.Request.Context(), model.Notification{
		Title:     req.Title,
		Body:      req.Body,
		Type:      model.NotificationType(req.Type),
		Icon:      req.Icon,
		SessionID: req.SessionID,
		Data:      req.Data,
	})
	if err != nil {
		sendModelError(c, err)
		return
	}

	message := "Notification stored"
	if h.dispatcher.PushEnabled() {
		message = "Notification sent to " + strconv.Itoa(res.Sent) + " subscriber(s)"
	}
	c.JSON(http.StatusOK, NotifyResponse{
		Success:      true,
		Message:      message,
		Sent:         res.Sent,
		Cleaned:      res.Cleaned,
		Notification: res.Notification,
	})
}

// RegisterRoutes registers the inbox and push routes on a Gin router group.
func (h *NotificationHandler) RegisterRoutes(rg *gin.RouterGroup) {
	notifications := rg.Group("/notifications")
	{
		notifications.GET("", h.List)
		notifications.DELETE("", h.Clear)
		notifications.DELETE("/:id", h.Delete)
	}

	rg.GET("/config", h.Config)
	rg.POST("/subscribe", h.Subscribe)
	rg.POST("/unsubscribe", h.Unsubscribe)
	rg.POST("/notify", h.Notify)
	rg.GET("/notify", h.Notify)
}
