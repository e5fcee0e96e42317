package server

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/guard"
	"github.com/MarcoPoloResearchLab/wishtree/backend/internal/wishes"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var (
	errMissingWishStore   = errors.New("wish store dependency required")
	errMissingAccessGuard = errors.New("access guard dependency required")
)

type Dependencies struct {
	Store             *wishes.Store
	Guard             *guard.Guard
	Realtime          *RealtimeDispatcher
	RateLimiter       *RateLimiter
	AllowedOrigins    []string
	TrustedProxies    []string
	HeartbeatInterval time.Duration
	Clock             func() time.Time
	Logger            *zap.Logger
}

func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Store == nil {
		return nil, errMissingWishStore
	}
	if deps.Guard == nil {
		return nil, errMissingAccessGuard
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	realtime := deps.Realtime
	if realtime == nil {
		realtime = NewRealtimeDispatcher()
	}
	limiter := deps.RateLimiter
	if limiter == nil {
		limiter = NewRateLimiter(RateLimitConfig{Clock: clock, Logger: logger})
	}
	heartbeat := deps.HeartbeatInterval
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeatInterval
	}

	router := gin.New()
	if err := router.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, err
	}
	router.Use(gin.Recovery())
	router.Use(securityHeaders())
	router.Use(corsMiddleware(deps.AllowedOrigins))

	handler := &httpHandler{
		store:     deps.Store,
		guard:     deps.Guard,
		realtime:  realtime,
		heartbeat: heartbeat,
		clock:     clock,
		logger:    logger,
	}

	api := router.Group("/api")
	api.Use(limiter.Middleware())
	api.GET("/health", handler.handleHealth)
	api.GET("/wishes", handler.handleListWishes)
	api.POST("/wishes", handler.handleCreateWish)
	api.GET("/wishes/stream", handler.handleStream)
	api.PUT("/wishes/:id", handler.handleUpdateWish)
	api.DELETE("/wishes/:id", handler.handleDeleteWish)

	return router, nil
}

type httpHandler struct {
	store     *wishes.Store
	guard     *guard.Guard
	realtime  *RealtimeDispatcher
	heartbeat time.Duration
	clock     func() time.Time
	logger    *zap.Logger
}

// wishView is the public shape of a wish. The password never leaves the server.
type wishView struct {
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Message   string  `json:"message"`
	Author    string  `json:"author"`
	Color     string  `json:"color"`
	CreatedAt int64   `json:"createdAt"`
	Protected bool    `json:"protected"`
}

func newWishView(wish wishes.Wish) wishView {
	return wishView{
		ID:        wish.ID,
		X:         wish.X,
		Y:         wish.Y,
		Message:   wish.Message,
		Author:    wish.Author,
		Color:     wish.Color,
		CreatedAt: wish.CreatedAt,
		Protected: wish.Protected(),
	}
}

type listResponsePayload struct {
	Wishes []wishView `json:"wishes"`
}

type wishResponsePayload struct {
	Wish wishView `json:"wish"`
}

type deleteRequestPayload struct {
	CurrentPassword string `json:"current_password"`
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": h.clock().UTC().Format(time.RFC3339),
	})
}

func (h *httpHandler) handleListWishes(c *gin.Context) {
	all := h.store.List()
	response := listResponsePayload{Wishes: make([]wishView, 0, len(all))}
	for _, wish := range all {
		response.Wishes = append(response.Wishes, newWishView(wish))
	}
	c.JSON(http.StatusOK, response)
}

func (h *httpHandler) handleCreateWish(c *gin.Context) {
	var request wishRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
		return
	}
	draft, code := request.draft()
	if code != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": code})
		return
	}

	wish, err := h.store.Add(draft)
	if err != nil {
		if errors.Is(err, wishes.ErrCollectionFull) {
			c.JSON(http.StatusConflict, gin.H{"error": errorCollectionFull})
			return
		}
		h.logger.Error("failed to add wish", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal})
		return
	}

	h.publish(OperationCreate, wish.ID)
	c.JSON(http.StatusCreated, wishResponsePayload{Wish: newWishView(wish)})
}

func (h *httpHandler) handleUpdateWish(c *gin.Context) {
	wishID := strings.TrimSpace(c.Param("id"))

	var request wishRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
		return
	}
	draft, code := request.draft()
	if code != "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": code})
		return
	}

	existing, ok := h.store.Get(wishID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errorNotFound})
		return
	}
	if !h.authorize(c, existing, request.CurrentPassword) {
		return
	}

	updated, ok, err := h.store.Edit(wishID, draft, wishes.PasswordUnchanged(existing.Password))
	if errors.Is(err, wishes.ErrPasswordChanged) {
		c.JSON(http.StatusConflict, gin.H{"error": errorPasswordChanged})
		return
	}
	if err != nil {
		h.logger.Error("failed to edit wish", zap.String("wish_id", wishID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal})
		return
	}
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errorNotFound})
		return
	}

	h.publish(OperationUpdate, updated.ID)
	c.JSON(http.StatusOK, wishResponsePayload{Wish: newWishView(updated)})
}

func (h *httpHandler) handleDeleteWish(c *gin.Context) {
	wishID := strings.TrimSpace(c.Param("id"))

	var request deleteRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil && !errors.Is(err, io.EOF) {
		c.JSON(http.StatusBadRequest, gin.H{"error": errorInvalidRequest})
		return
	}

	existing, ok := h.store.Get(wishID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": errorNotFound})
		return
	}
	if !h.authorize(c, existing, request.CurrentPassword) {
		return
	}

	deleted, err := h.store.Delete(wishID, wishes.PasswordUnchanged(existing.Password))
	if errors.Is(err, wishes.ErrPasswordChanged) {
		c.JSON(http.StatusConflict, gin.H{"error": errorPasswordChanged})
		return
	}
	if err != nil {
		h.logger.Error("failed to delete wish", zap.String("wish_id", wishID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal})
		return
	}
	if !deleted {
		c.JSON(http.StatusNotFound, gin.H{"error": errorNotFound})
		return
	}
	h.guard.Forget(wishID)

	h.publish(OperationDelete, wishID)
	c.Status(http.StatusNoContent)
}

// authorize checks the attempt against a protected wish and writes the
// rejection when it fails. Unprotected wishes are always allowed.
func (h *httpHandler) authorize(c *gin.Context, wish wishes.Wish, attempt string) bool {
	if !wish.Protected() {
		return true
	}
	err := h.guard.Authorize(wish.ID, wish.Password, attempt)
	if err == nil {
		return true
	}

	var denied *guard.DeniedError
	if !errors.As(err, &denied) {
		h.logger.Error("wish authorization failed", zap.String("wish_id", wish.ID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": errorInternal})
		return false
	}

	retryAfterMs := denied.RetryAfter.Milliseconds()
	if errors.Is(err, guard.ErrLocked) {
		c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(denied.RetryAfter)))
		c.JSON(http.StatusTooManyRequests, gin.H{"error": errorLocked, "retry_after_ms": retryAfterMs})
		return false
	}
	c.JSON(http.StatusForbidden, gin.H{"error": errorWrongPassword, "retry_after_ms": retryAfterMs})
	return false
}

func (h *httpHandler) publish(operation, wishID string) {
	if h.realtime == nil {
		return
	}
	h.realtime.Publish(RealtimeMessage{
		EventType: RealtimeEventWishChanged,
		Operation: operation,
		WishIDs:   []string{wishID},
		Timestamp: h.clock().UTC(),
	})
}

type realtimeEventPayload struct {
	Operation string   `json:"operation"`
	WishIDs   []string `json:"wish_ids"`
	Timestamp string   `json:"timestamp"`
	Source    string   `json:"source"`
}

func (h *httpHandler) handleStream(c *gin.Context) {
	ctx := c.Request.Context()
	stream, cleanup := h.realtime.Subscribe(ctx)
	defer cleanup()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	c.SSEvent(realtimeEventConnected, gin.H{"source": realtimeSourceBackend})
	c.Writer.Flush()

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case message, ok := <-stream:
			if !ok {
				return
			}
			c.SSEvent(message.EventType, realtimeEventPayload{
				Operation: message.Operation,
				WishIDs:   message.WishIDs,
				Timestamp: message.Timestamp.Format(time.RFC3339Nano),
				Source:    realtimeSourceBackend,
			})
			c.Writer.Flush()
		case <-ticker.C:
			c.SSEvent(realtimeEventHeartbeat, gin.H{"timestamp": h.clock().UTC().Format(time.RFC3339)})
			c.Writer.Flush()
		}
	}
}
