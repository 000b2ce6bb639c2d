// Package httpapi wires the HTTP transport (Gin) to application services,
// middleware, and route handlers. It centralizes cross-cutting concerns such
// as tracing, correlation IDs, logging/redaction, panic recovery, metrics,
// compression, CORS, security headers, authentication, idempotency, and rate
// limiting, and mounts the websocket endpoint next to the REST API.
//
// Design goals:
//   - Put observability first (OTel + Prometheus)
//   - Safe-by-default middleware ordering (RequestID → logging → recovery)
//   - Deterministic, minimal router setup; all dependencies injected
//   - Production-ready CORS and security header posture
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"gorm.io/gorm"

	"github.com/tbourn/go-chat-realtime/docs"
	"github.com/tbourn/go-chat-realtime/internal/auth"
	"github.com/tbourn/go-chat-realtime/internal/config"
	"github.com/tbourn/go-chat-realtime/internal/dispatch"
	"github.com/tbourn/go-chat-realtime/internal/domain"
	"github.com/tbourn/go-chat-realtime/internal/http/handlers"
	"github.com/tbourn/go-chat-realtime/internal/http/middleware"
	"github.com/tbourn/go-chat-realtime/internal/hub"
	"github.com/tbourn/go-chat-realtime/internal/repo"
	"github.com/tbourn/go-chat-realtime/internal/services"
)

// conversationRepoShim adapts the repository free functions to the
// services.ConversationRepo interface. This keeps services decoupled from
// the concrete repo package while reusing existing functions.
type conversationRepoShim struct{}

// CreateConversation proxies repo.CreateConversation.
func (conversationRepoShim) CreateConversation(ctx context.Context, db *gorm.DB, name *string, isGroup bool, userIDs []int64) (*domain.Conversation, error) {
	return repo.CreateConversation(ctx, db, name, isGroup, userIDs)
}

// FindDirectConversation proxies repo.FindDirectConversation.
func (conversationRepoShim) FindDirectConversation(ctx context.Context, db *gorm.DB, userIDs []int64) (*domain.Conversation, error) {
	return repo.FindDirectConversation(ctx, db, userIDs)
}

// GetParticipants proxies repo.GetParticipants.
func (conversationRepoShim) GetParticipants(ctx context.Context, db *gorm.DB, conversationID int64) ([]domain.Participant, error) {
	return repo.GetParticipants(ctx, db, conversationID)
}

// ListConversations proxies repo.ListConversations.
func (conversationRepoShim) ListConversations(ctx context.Context, db *gorm.DB, userID int64) ([]domain.Conversation, error) {
	return repo.ListConversations(ctx, db, userID)
}

// ParticipantsByConversation proxies repo.ParticipantsByConversation.
func (conversationRepoShim) ParticipantsByConversation(ctx context.Context, db *gorm.DB, conversationIDs []int64) (map[int64][]domain.Participant, error) {
	return repo.ParticipantsByConversation(ctx, db, conversationIDs)
}

// messageRepoShim adapts the message functions to services.MessageRepo.
type messageRepoShim struct{}

// CreateMessage proxies repo.CreateMessage.
func (messageRepoShim) CreateMessage(ctx context.Context, db *gorm.DB, conversationID, senderID int64, content string) (*domain.Message, error) {
	return repo.CreateMessage(ctx, db, conversationID, senderID, content)
}

// ListMessages proxies repo.ListMessages.
func (messageRepoShim) ListMessages(ctx context.Context, db *gorm.DB, conversationID int64, limit int, beforeID int64) ([]domain.Message, error) {
	return repo.ListMessages(ctx, db, conversationID, limit, beforeID)
}

// GetMessage proxies repo.GetMessage.
func (messageRepoShim) GetMessage(ctx context.Context, db *gorm.DB, id int64) (*domain.Message, error) {
	return repo.GetMessage(ctx, db, id)
}

// CountUnread proxies repo.CountUnread.
func (messageRepoShim) CountUnread(ctx context.Context, db *gorm.DB, conversationID, userID int64, lastReadAt *time.Time) (int64, error) {
	return repo.CountUnread(ctx, db, conversationID, userID, lastReadAt)
}

// readRepoShim adapts the read position functions to services.ReadRepo.
type readRepoShim struct{}

// GetReadPositions proxies repo.GetReadPositions.
func (readRepoShim) GetReadPositions(ctx context.Context, db *gorm.DB, conversationID int64) (map[int64]*time.Time, error) {
	return repo.GetReadPositions(ctx, db, conversationID)
}

// SetReadPosition proxies repo.SetReadPosition.
func (readRepoShim) SetReadPosition(ctx context.Context, db *gorm.DB, conversationID, userID int64, at time.Time) (time.Time, error) {
	return repo.SetReadPosition(ctx, db, conversationID, userID, at)
}

// RegisterRoutes attaches all middleware and HTTP endpoints to the given Gin
// engine. It configures observability (tracing, metrics), compression, CORS
// and security headers, health and metrics endpoints, then mounts the
// versioned public API and the websocket endpoint under cfg.APIBasePath.
//
// Middleware order matters:
//  1. OpenTelemetry: trace everything
//  2. RequestID: generate/propagate correlation id
//  3. RedactingLogger: structured logs with credential/PII scrubbing
//  4. Recovery: capture panics after logger
//  5. Body size limiter
//  6. Metrics
//  7. Gzip (never for the websocket or /metrics)
//  8. CORS and Security headers
//
// On the REST group: Auth → Idempotency validator → Rate limiter. The
// validator runs before the limiter so replays bypass it, and both need the
// user id that Auth provides. The websocket route authenticates itself.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, registry *hub.Registry, cfg config.Config) {
	r.HandleMethodNotAllowed = true
	apiBase := normalizePrefix(cfg.APIBasePath)
	wsPath := apiBase + "/ws"

	// 1) Trace all HTTP requests
	r.Use(otelgin.Middleware(cfg.OTEL.ServiceName))

	// 2) Correlate requests and logs
	r.Use(middleware.RequestID())

	// 3) Structured logging with redaction
	r.Use(middleware.RedactingLogger(middleware.RedactOptions{
		MaskHeaders: []string{
			"Sec-WebSocket-Key",      // handshake nonce
			"Sec-WebSocket-Protocol", // some clients smuggle tokens here
		},
	}))

	// 4) Panic recovery to JSON 500 (with request id)
	r.Use(middleware.Recovery())

	// 5) Global body size limit (1 MiB)
	r.Use(limitBody(1 << 20))

	// 6) Prometheus metrics and /metrics endpoint
	r.Use(middleware.Metrics())
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// 7) Response compression; hijacked and streamed responses are excluded
	r.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPaths([]string{wsPath, "/metrics"})))

	// 8) CORS posture (safe defaults: allow all if none configured)
	allowHeaders := []string{"Origin", "Content-Type", "Accept", "Authorization", "If-None-Match", middleware.HeaderIdempotencyKey}
	exposeHeaders := []string{"X-Request-ID", "Content-Length", "ETag", "Idempotency-Replayed"}
	if len(cfg.CORS.AllowedOrigins) == 0 {
		// Force ACAO: * even for requests without an Origin header (helps simple health checks).
		r.Use(func(c *gin.Context) {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
			c.Next()
		})
		r.Use(cors.New(cors.Config{
			AllowAllOrigins:  true,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false, // must remain false with AllowAllOrigins
			MaxAge:           12 * time.Hour,
		}))
	} else {
		r.Use(cors.New(cors.Config{
			AllowOrigins:     cfg.CORS.AllowedOrigins,
			AllowMethods:     []string{"GET", "POST", "OPTIONS"},
			AllowHeaders:     allowHeaders,
			ExposeHeaders:    exposeHeaders,
			AllowCredentials: false,
			MaxAge:           12 * time.Hour,
		}))
	}

	// Security headers (HSTS only when enabled and request is HTTPS)
	r.Use(middleware.SecurityHeaders(middleware.SecurityOptions{
		EnableHSTS:   cfg.Security.EnableHSTS,
		HSTSMaxAge:   cfg.Security.HSTSMaxAge,
		NoStore:      false,
		EnablePolicy: true,
	}))

	// Fallbacks
	r.NoRoute(func(c *gin.Context) {
		handlers.Fail(c, http.StatusNotFound, handlers.ErrCodeNotFound, "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.Fail(c, http.StatusMethodNotAllowed, handlers.ErrCodeMethodNotAllowed, "method not allowed")
	})

	// Liveness/health
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "connections": registry.Count()})
	})

	// API docs
	if cfg.SwaggerEnabled {
		docs.SwaggerInfo.BasePath = apiBase
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	// Dependency injection: services ← repo/db/registry
	convSvc := services.NewConversationService(db, conversationRepoShim{}, messageRepoShim{})
	msgSvc := &services.MessageService{
		DB:              db,
		Messages:        messageRepoShim{},
		Conversations:   conversationRepoShim{},
		Reads:           readRepoShim{},
		Hub:             registry,
		MaxContentRunes: cfg.MaxContentRunes,
		DefaultLimit:    cfg.HistoryDefaultLimit,
		MaxLimit:        cfg.HistoryMaxLimit,
	}
	h := handlers.New(convSvc, msgSvc, cfg.IdempotencyTTL)

	tokens := auth.NewVerifier(cfg.Auth.Secret, cfg.Auth.Issuer)
	frames := dispatch.New(msgSvc, cfg.DispatchTimeout, log.Logger)
	ws := handlers.NewWSHandler(registry, frames, tokens, cfg.CORS.AllowedOrigins, hub.ClientOptions{
		SendBuffer:     cfg.WS.SendBuffer,
		MaxMessageSize: cfg.WS.MaxMessageSize,
		WriteWait:      cfg.WS.WriteWait,
		PongWait:       cfg.WS.PongWait,
		PingPeriod:     cfg.WS.PingPeriod,
		FrameRPS:       cfg.WS.FrameRPS,
		FrameBurst:     cfg.WS.FrameBurst,
	})

	rl := middleware.NewRateLimiter(cfg.RateRPS, cfg.RateBurst, middleware.KeyByUserOrIP())
	idem := middleware.IdempotencyValidator(
		middleware.IdempotencyOptions{MaxLen: 200},
		func(ctx context.Context, userID, conversationID int64, key string, now time.Time) (bool, error) {
			rec, err := repo.GetIdempotency(ctx, db, userID, conversationID, key, now)
			if err != nil || rec == nil {
				return false, nil
			}
			return true, nil
		},
	)

	// Realtime: handshakes are limited per IP, frames per connection.
	r.GET(wsPath, rl.Handler(), ws.Serve)

	// Public API
	api := r.Group(apiBase, middleware.Auth(tokens), idem, rl.Handler())
	{
		// Conversations
		api.GET("/conversations", h.ListConversations)
		api.POST("/conversations", h.CreateConversation)

		// Messages
		api.GET("/conversations/:id/messages", h.ListMessages)
		api.POST("/conversations/:id/messages", h.SendMessage)
	}
}

// limitBody returns a Gin middleware that caps the request body size for all
// endpoints to maxBytes using http.MaxBytesReader. Requests exceeding the cap
// will cause downstream body reads to error.
func limitBody(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}

// normalizePrefix maps "/" (or empty) to "" so routes join cleanly.
func normalizePrefix(prefix string) string {
	if prefix == "" || prefix == "/" {
		return ""
	}
	return prefix
}
