package http

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"cakeday/internal/domain"
	"cakeday/internal/service"
	"cakeday/internal/store"
)

// Handler carries the dependencies the ops endpoints need.
type Handler struct {
	status       *service.StatusService
	celebrations *service.CelebrationService
	canvas       *service.CanvasService
	store        *store.Store
	channelID    string
	nowDateKey   func() string
	logger       *slog.Logger
}

func NewHandler(
	status *service.StatusService,
	celebrations *service.CelebrationService,
	canvas *service.CanvasService,
	st *store.Store,
	channelID string,
	nowDateKey func() string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		status:       status,
		celebrations: celebrations,
		canvas:       canvas,
		store:        st,
		channelID:    channelID,
		nowDateKey:   nowDateKey,
		logger:       logger,
	}
}

// Healthz is the liveness probe.
func (h *Handler) Healthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status returns the full machine-readable report.
func (h *Handler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, h.status.Report(c.Request.Context()))
}

// StatusSummary returns the compact human-readable form.
func (h *Handler) StatusSummary(c *gin.Context) {
	c.String(http.StatusOK, h.status.Summary(c.Request.Context()))
}

type celebrateNowRequest struct {
	UserIDs     []string `json:"user_ids" binding:"required,min=1"`
	Personality string   `json:"personality"`
	TextOnly    bool     `json:"text_only"`
	Test        bool     `json:"test"`
}

// CelebrateNow triggers an immediate celebration for the given users. Used
// for manual make-goods when a run was missed.
func (h *Handler) CelebrateNow(c *gin.Context) {
	var req celebrateNowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var people []domain.BirthdayPerson
	for _, userID := range req.UserIDs {
		rec, err := h.store.Birthday(userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "no birthday on file for " + userID})
			return
		}
		people = append(people, domain.BirthdayPerson{Record: rec})
	}

	mode := domain.ModeProduction
	if req.Test {
		mode = domain.ModeTest
	}
	result, err := h.celebrations.Celebrate(c.Request.Context(), domain.CelebrationRequest{
		ChannelID:           h.channelID,
		People:              people,
		Mode:                mode,
		PersonalityOverride: req.Personality,
		TextOnly:            req.TextOnly,
		IncludeImage:        !req.TextOnly,
	}, h.nowDateKey())
	if err != nil {
		h.logger.Error("manual celebration failed", slog.String("error", err.Error()))
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "stage": result.Stage})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":      result.RunID,
		"stage":       result.Stage,
		"personality": result.Personality,
		"celebrated":  result.Celebrated,
		"dropped":     result.Dropped,
		"images":      result.ImagesPosted,
	})
}

// CanvasRefresh forces a dashboard rebuild outside the debounce window.
func (h *Handler) CanvasRefresh(c *gin.Context) {
	if err := h.canvas.Update(c.Request.Context()); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "updated"})
}
