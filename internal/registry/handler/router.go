package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/agentvault/agentvault/internal/identity"
	"github.com/agentvault/agentvault/pkg/agentcard"
)

// RouterDeps bundles everything the gateway serves. Optional handlers may
// be nil; their routes are simply not mounted.
type RouterDeps struct {
	Auth       *AuthHandler
	Agents     *AgentHandler
	Onboard    *OnboardHandler
	Federation *FederationHandler
	TEG        *TEGHandler
	A2A        *A2AHandler
	Admin      *AdminHandler
	Health     *HealthHandler
	Activity   *ActivityHandler

	Tokens *identity.TokenIssuer
	Limits *RateLimits
	Logger *zap.Logger

	// APIKeys, when set, lets X-Api-Key headers stand in for bearer tokens
	// on authenticated routes.
	APIKeys identity.APIKeyAuthenticator

	// ServiceCard, when set, is served at /.well-known/agent.json.
	ServiceCard *agentcard.Card

	CORSOrigins []string
}

// NewRouter assembles the full API surface with auth, rate limiting, and
// metrics middleware applied per route class.
func NewRouter(d RouterDeps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	corsConfig := cors.Config{
		AllowOrigins:     d.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "Accept", IdempotencyKeyHeader, BootstrapTokenHeader, identity.APIKeyHeader},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: !containsWildcard(d.CORSOrigins),
		MaxAge:           12 * time.Hour,
	}
	if len(d.CORSOrigins) == 0 {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(corsConfig))

	router.Use(func(c *gin.Context) {
		c.Header("X-Frame-Options", "DENY")
		c.Header("X-Content-Type-Options", "nosniff")
		c.Header("Referrer-Policy", "strict-origin-when-cross-origin")
		c.Next()
	})

	// Request body size limit (1 MB)
	router.Use(func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, 1<<20)
		c.Next()
	})

	router.Use(MetricsMiddleware())
	router.Use(requestLogger(d.Logger))

	router.GET("/metrics", MetricsRoute())

	if d.ServiceCard != nil {
		card := *d.ServiceCard
		router.GET("/.well-known/agent.json", func(c *gin.Context) {
			c.JSON(http.StatusOK, card)
		})
	}

	v1 := router.Group("/api/v1")

	// Public routes: health, reputation, activity feed, peer search, and
	// onboarding redemption.
	public := v1.Group("")
	public.Use(d.Limits.Unauthed())
	if d.Health != nil {
		d.Health.Register(public)
	}
	if d.TEG != nil {
		d.TEG.RegisterPublic(public)
	}
	if d.Activity != nil {
		d.Activity.Register(public)
	}
	if d.Agents != nil {
		d.Agents.RegisterPublic(public)
	}

	if d.Auth != nil {
		d.Auth.Register(v1, d.Limits)
	}
	if d.Onboard != nil {
		d.Onboard.RegisterPublic(v1, d.Limits)
	}

	// API keys resolve to developer or admin principals before the kind
	// checks run, so a key works anywhere its owner's session token would.
	apiKeyAuth := func(rg *gin.RouterGroup) {
		if d.APIKeys != nil {
			rg.Use(identity.APIKeyAuth(d.APIKeys))
		}
	}

	// Developer session routes.
	dev := v1.Group("")
	apiKeyAuth(dev)
	dev.Use(identity.RequireDeveloper(d.Tokens), d.Limits.Authed())
	if d.Agents != nil {
		d.Agents.Register(dev)
	}
	if d.Auth != nil {
		d.Auth.RegisterProfile(dev)
	}
	if d.Onboard != nil {
		d.Onboard.RegisterAuthed(dev, d.Limits)
	}

	// Agent token routes: the ledger and the task engine.
	agent := v1.Group("")
	apiKeyAuth(agent)
	agent.Use(identity.RequireAgent(d.Tokens), d.Limits.Authed())
	if d.TEG != nil {
		d.TEG.Register(agent, d.Limits)
	}
	if d.A2A != nil {
		d.A2A.Register(agent)
	}

	// Admin routes.
	admin := v1.Group("")
	apiKeyAuth(admin)
	admin.Use(identity.RequireAdmin(d.Tokens), d.Limits.Authed())
	if d.Federation != nil {
		d.Federation.Register(admin)
	}
	if d.Admin != nil {
		d.Admin.Register(admin)
	}

	return router
}

// containsWildcard returns true if origins includes "*".
func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}

// requestLogger logs each request with zap.
func requestLogger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("request",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("client_ip", c.ClientIP()),
		)
	}
}
