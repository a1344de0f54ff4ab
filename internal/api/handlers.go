package api

import (
	"context"
	"net/http"
	"time"

	"carcare/internal/auth"
	"carcare/internal/idempotency"
	"carcare/internal/service/diagnose"
	"carcare/internal/storage"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Diagnoser runs diagnosis requests; *diagnose.Pipeline implements it.
type Diagnoser interface {
	EngineSound(ctx context.Context, in diagnose.AudioInput) (*diagnose.Result, error)
	Dashboard(ctx context.Context, in diagnose.ImageInput) (*diagnose.Result, error)
}

// Pinger reports backend health for /healthz.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options are the dependencies of a Handler. Idempotency and Health are optional.
type Options struct {
	Pipeline    Diagnoser
	Auth        *auth.Service
	Records     storage.RecordStore
	Users       storage.UserStore
	Idempotency idempotency.Store
	Health      Pinger
	// MaxUploadBytes bounds a single uploaded file.
	MaxUploadBytes int64
	Logger         *zap.SugaredLogger
}

// Handler wires HTTP routes to the diagnosis pipeline and the stores.
type Handler struct {
	pipeline  Diagnoser
	auth      *auth.Service
	records   storage.RecordStore
	users     storage.UserStore
	idem      idempotency.Store
	health    Pinger
	maxUpload int64
	logger    *zap.SugaredLogger
}

// NewHandler constructs a Handler instance.
func NewHandler(opts Options) *Handler {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Handler{
		pipeline:  opts.Pipeline,
		auth:      opts.Auth,
		records:   opts.Records,
		users:     opts.Users,
		idem:      opts.Idempotency,
		health:    opts.Health,
		maxUpload: opts.MaxUploadBytes,
		logger:    logger.With("component", "api"),
	}
}

// requirePathUser only lets a user read their own resources.
func (h *Handler) requirePathUser() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, ok := auth.UserIDFromContext(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
			return
		}
		paramID := c.Param("userId")
		if paramID == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		if paramID != userID {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "user mismatch"})
			return
		}
		c.Next()
	}
}

func (h *Handler) authorizedUserID(c *gin.Context) (string, bool) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "authorization required"})
		return "", false
	}
	return userID, true
}

// RegisterRoutes attaches all HTTP routes to the router.
func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.GET("/healthz", h.healthz)

	api := router.Group("/api")
	api.POST("/auth/signup", h.signup)
	api.POST("/auth/login", h.login)
	api.GET("/mechanics", h.listMechanics)

	authMW := h.auth.Middleware()
	diag := api.Group("/diagnose", authMW)
	diag.POST("/engine-sound", h.diagnoseEngineSound)
	diag.POST("/dashboard", h.diagnoseDashboard)

	api.GET("/diagnostics/:userId", authMW, h.requirePathUser(), h.listDiagnostics)
}

func (h *Handler) healthz(c *gin.Context) {
	if h.health != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := h.health.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (h *Handler) listDiagnostics(c *gin.Context) {
	userID, ok := h.authorizedUserID(c)
	if !ok {
		return
	}
	records, err := h.records.ListRecordsByUser(c.Request.Context(), userID)
	if err != nil {
		h.logger.Errorw("list diagnostics failed", "user_id", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch diagnostics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"records": records})
}

func (h *Handler) listMechanics(c *gin.Context) {
	mechanics, err := h.users.ListMechanics(c.Request.Context())
	if err != nil {
		h.logger.Errorw("list mechanics failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to fetch mechanics"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"mechanics": mechanics})
}
