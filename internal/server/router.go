package server

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/lexitype/lexitype/internal/auth"
	"github.com/lexitype/lexitype/internal/syncer"
)

const userIDContextKey = "lexitype_user_id"

var (
	errMissingTokenManager = errors.New("token manager dependency required")
	errMissingSyncService  = errors.New("sync service dependency required")
)

// TokenValidator validates a bearer token and returns its claims.
type TokenValidator interface {
	Validate(token string) (auth.Claims, error)
}

// Dependencies wires the HTTP surface.
type Dependencies struct {
	TokenManager TokenValidator
	SyncService  *SyncService
	Logger       *zap.Logger
}

// NewHTTPHandler builds the gin router: a health probe plus the bearer-guarded
// sync endpoint.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.TokenManager == nil {
		return nil, errMissingTokenManager
	}
	if deps.SyncService == nil {
		return nil, errMissingSyncService
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{"Authorization", "Content-Type"},
		MaxAge:       12 * time.Hour,
	}))

	handler := &httpHandler{
		tokens:      deps.TokenManager,
		syncService: deps.SyncService,
		logger:      logger,
	}

	router.GET("/healthz", handler.handleHealth)

	protected := router.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.POST("/sync", handler.handleSync)

	return router, nil
}

type httpHandler struct {
	tokens      TokenValidator
	syncService *SyncService
	logger      *zap.Logger
}

func (h *httpHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

type syncRequestPayload struct {
	LastSyncTimestamp int64             `json:"lastSyncTimestamp"`
	Changes           []syncer.Envelope `json:"changes"`
}

type syncResponsePayload struct {
	NewSyncTimestamp int64             `json:"newSyncTimestamp"`
	ServerChanges    []syncer.Envelope `json:"serverChanges"`
}

func (h *httpHandler) handleSync(c *gin.Context) {
	userID := c.GetString(userIDContextKey)
	if userID == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}

	var request syncRequestPayload
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid_request"})
		return
	}

	outcome, err := h.syncService.ApplyRound(c.Request.Context(), userID, request.LastSyncTimestamp, request.Changes)
	if err != nil {
		h.logger.Error("failed to apply sync round", zap.String("user_id", userID), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "sync_failed"})
		return
	}

	serverChanges := outcome.ServerChanges
	if serverChanges == nil {
		serverChanges = []syncer.Envelope{}
	}
	c.JSON(http.StatusOK, syncResponsePayload{
		NewSyncTimestamp: outcome.NewSyncTimestamp,
		ServerChanges:    serverChanges,
	})
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
	if token == "" {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	claims, err := h.tokens.Validate(token)
	if err != nil {
		h.logger.Warn("token validation failed", zap.Error(err))
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	if !claims.EmailVerified {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "email_not_verified"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Next()
}
