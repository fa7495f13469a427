// Package handler exposes the handshake over HTTP with gin.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"codelink/backend/internal/handshake/service"
	"codelink/backend/internal/logger"
)

// Header and query names used by requester and approver clients.
const (
	HeaderLoginCode   = "x-login-code"
	HeaderFingerprint = "x-fingerprint"
	QueryLoginCode    = "login-code"
	QueryWait         = "wait"
)

// Generic error bodies. Internal detail never reaches the client.
const (
	msgInvalidInput    = "missing or malformed login code or fingerprint"
	msgNotAvailable    = "no authentication token available"
	msgUnknownCode     = "unknown or expired login code"
	msgAlreadyApproved = "login code already approved"
	msgUnavailable     = "service temporarily unavailable, retry later"
	msgUnauthorized    = "unauthorized"
	msgInternal        = "internal error"
)

const retryAfterSeconds = "1"

// HandshakeService is the part of service.HandshakeService the HTTP layer calls.
type HandshakeService interface {
	IssueCode(ctx context.Context) (*service.IssuedCode, error)
	Approve(ctx context.Context, loginCode string) error
	RedeemWait(ctx context.Context, loginCode, fingerprint string, wait time.Duration) (string, error)
	Authorize(ctx context.Context, fingerprint, token string) (bool, error)
}

// Handler serves the handshake routes.
type Handler struct {
	svc    HandshakeService
	logger *slog.Logger
}

// NewHandler returns a Handler for svc.
func NewHandler(svc HandshakeService, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{svc: svc, logger: logger}
}

// Register mounts the handshake routes on r.
func (h *Handler) Register(r gin.IRoutes) {
	r.GET("/loginCode", h.IssueCode)
	r.PUT("/allowLoginCode", h.AllowLoginCode)
	r.GET("/authenticationCode", h.AuthenticationCode)
	r.GET("/data", h.Data)
}

type issueResponse struct {
	LoginCode   string    `json:"loginCode"`
	Fingerprint string    `json:"fingerprint"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type redeemResponse struct {
	AuthenticationToken string `json:"authenticationToken"`
}

type dataResponse struct {
	Data        string `json:"data"`
	Fingerprint string `json:"fingerprint"`
}

// IssueCode handles GET /loginCode.
func (h *Handler) IssueCode(c *gin.Context) {
	noStore(c)
	issued, err := h.svc.IssueCode(c.Request.Context())
	if err != nil {
		h.writeError(c, err, msgUnknownCode)
		return
	}
	c.JSON(http.StatusOK, issueResponse{
		LoginCode:   issued.LoginCode,
		Fingerprint: issued.Fingerprint,
		ExpiresAt:   issued.ExpiresAt,
	})
}

// AllowLoginCode handles PUT /allowLoginCode?login-code=123456 from the approver.
func (h *Handler) AllowLoginCode(c *gin.Context) {
	noStore(c)
	code := c.Query(QueryLoginCode)
	if code == "" {
		code = c.GetHeader(HeaderLoginCode)
	}
	if err := h.svc.Approve(c.Request.Context(), code); err != nil {
		h.writeError(c, err, msgUnknownCode)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "approved"})
}

// AuthenticationCode handles GET /authenticationCode, polled by the requester. An optional
// wait query (e.g. "10s" or "10") turns the call into a long poll.
func (h *Handler) AuthenticationCode(c *gin.Context) {
	noStore(c)
	wait, ok := parseWait(c.Query(QueryWait))
	if !ok {
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": msgInvalidInput})
		return
	}
	token, err := h.svc.RedeemWait(c.Request.Context(), c.GetHeader(HeaderLoginCode), c.GetHeader(HeaderFingerprint), wait)
	if err != nil {
		h.writeError(c, err, msgNotAvailable)
		return
	}
	c.JSON(http.StatusOK, redeemResponse{AuthenticationToken: token})
}

// Data handles GET /data. Every credential failure is a 401.
func (h *Handler) Data(c *gin.Context) {
	noStore(c)
	token, ok := bearerToken(c.GetHeader("Authorization"))
	if !ok {
		unauthorized(c)
		return
	}
	fingerprint := c.GetHeader(HeaderFingerprint)
	allowed, err := h.svc.Authorize(c.Request.Context(), fingerprint, token)
	if err != nil && !errors.Is(err, service.ErrInvalidInput) {
		h.writeError(c, err, msgUnauthorized)
		return
	}
	if !allowed {
		unauthorized(c)
		return
	}
	c.JSON(http.StatusOK, dataResponse{Data: "authenticated", Fingerprint: fingerprint})
}

// writeError maps a service error to a status and generic body. notFoundMsg is the body used
// for 404s so each route keeps its own wording.
func (h *Handler) writeError(c *gin.Context, err error, notFoundMsg string) {
	switch {
	case errors.Is(err, service.ErrInvalidInput):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, gin.H{"error": msgInvalidInput})
	case errors.Is(err, service.ErrPending), errors.Is(err, service.ErrNotBound), errors.Is(err, service.ErrNotFound):
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": notFoundMsg})
	case errors.Is(err, service.ErrAlreadyApproved):
		c.AbortWithStatusJSON(http.StatusConflict, gin.H{"error": msgAlreadyApproved})
	case errors.Is(err, service.ErrStoreUnavailable), errors.Is(err, service.ErrCodeSpaceExhausted):
		c.Header("Retry-After", retryAfterSeconds)
		c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": msgUnavailable})
	default:
		logger.L(c.Request.Context(), h.logger).Error("handshake request failed", "path", c.FullPath(), "error", err)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": msgInternal})
	}
}

func unauthorized(c *gin.Context) {
	c.Header("WWW-Authenticate", `Bearer realm="codelink"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": msgUnauthorized})
}

func noStore(c *gin.Context) {
	c.Header("Cache-Control", "no-store")
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

// parseWait accepts a Go duration ("10s") or whole seconds ("10"). Empty means no wait.
func parseWait(raw string) (time.Duration, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, true
	}
	if n, err := strconv.Atoi(raw); err == nil {
		if n < 0 {
			return 0, false
		}
		return time.Duration(n) * time.Second, true
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d < 0 {
		return 0, false
	}
	return d, true
}
