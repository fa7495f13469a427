// Package handler serves the handshake audit trail to operators over HTTP.
package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"codelink/backend/internal/audit/domain"
	"codelink/backend/internal/logger"
)

// Lister is the part of the audit repository the handler reads from.
type Lister interface {
	ListByRecord(ctx context.Context, recordID string, limit int) ([]*domain.AuditLog, error)
}

// Entry is one audit row as returned to operators.
type Entry struct {
	ID        string          `json:"id"`
	Action    string          `json:"action"`
	Source    string          `json:"source"`
	RecordID  string          `json:"recordId"`
	Reason    string          `json:"reason,omitempty"`
	RequestID string          `json:"requestId,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// ListResponse is the body of GET /audit/:recordId.
type ListResponse struct {
	Entries []Entry `json:"entries"`
}

// Handler serves GET /audit/:recordId. Every request must carry the operator token as a bearer.
type Handler struct {
	repo   Lister
	token  []byte
	logger *slog.Logger
}

// NewHandler returns a Handler reading from repo. token must not be empty.
func NewHandler(repo Lister, token string, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{repo: repo, token: []byte(token), logger: logger}
}

// Register mounts the audit route on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/audit/:recordId", h.List)
}

// List returns the newest entries of one authentication record. Optional query limit.
func (h *Handler) List(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
	if !h.authorized(c.GetHeader("Authorization")) {
		c.Header("WWW-Authenticate", `Bearer realm="codelink-audit"`)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	recordID := c.Param("recordId")
	if _, err := uuid.Parse(recordID); err != nil {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "record id must be a UUID"})
		return
	}
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	logs, err := h.repo.ListByRecord(c.Request.Context(), recordID, limit)
	if err != nil {
		logger.L(c.Request.Context(), h.logger).Error("audit list failed", "error", err)
		c.Header("Retry-After", "1")
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "service temporarily unavailable, retry later"})
		return
	}
	resp := ListResponse{Entries: make([]Entry, 0, len(logs))}
	for _, l := range logs {
		resp.Entries = append(resp.Entries, toEntry(l))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *Handler) authorized(header string) bool {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(h.token) == 0 || len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(strings.TrimSpace(parts[1])), h.token) == 1
}

func toEntry(l *domain.AuditLog) Entry {
	e := Entry{
		ID:        l.ID,
		Action:    l.Action,
		Source:    l.Source,
		RecordID:  l.RecordID,
		Reason:    l.Reason,
		RequestID: l.RequestID,
		CreatedAt: l.CreatedAt,
	}
	if l.Metadata != "" && json.Valid([]byte(l.Metadata)) {
		e.Metadata = json.RawMessage(l.Metadata)
	}
	return e
}
