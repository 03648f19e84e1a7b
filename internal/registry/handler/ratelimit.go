package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/agentvault/agentvault/internal/identity"
)

// Rate limit classes. Limits are steady-state; burst equals the window
// allowance so a quiet principal can use its whole budget at once.
var (
	limitLogin     = classConfig{rate.Every(time.Minute / 5), 5}
	limitRegister  = classConfig{rate.Every(time.Hour / 3), 3}
	limitBootstrap = classConfig{rate.Every(time.Minute / 5), 5}
	limitOnboard   = classConfig{rate.Every(time.Minute / 60), 60} // global, not per key
	limitTransfer  = classConfig{rate.Every(time.Hour / 100), 100}
	limitAuthed    = classConfig{rate.Every(time.Minute / 100), 100}
	limitUnauthed  = classConfig{rate.Every(time.Minute / 30), 30}
)

type classConfig struct {
	limit rate.Limit
	burst int
}

type keyedLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// classLimiter enforces one rate class across many principals. Keys are the
// authenticated principal when present, the client IP otherwise. Stale
// entries are evicted lazily on access.
type classLimiter struct {
	mu       sync.Mutex
	cfg      classConfig
	limiters map[string]*keyedLimiter
	lastGC   time.Time
}

func newClassLimiter(cfg classConfig) *classLimiter {
	return &classLimiter{
		cfg:      cfg,
		limiters: make(map[string]*keyedLimiter),
		lastGC:   time.Now(),
	}
}

func (l *classLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := time.Now()
	if now.Sub(l.lastGC) > 10*time.Minute {
		for k, kl := range l.limiters {
			if now.Sub(kl.lastSeen) > 30*time.Minute {
				delete(l.limiters, k)
			}
		}
		l.lastGC = now
	}

	kl, ok := l.limiters[key]
	if !ok {
		kl = &keyedLimiter{limiter: rate.NewLimiter(l.cfg.limit, l.cfg.burst)}
		l.limiters[key] = kl
	}
	kl.lastSeen = now
	return kl.limiter.Allow()
}

// RateLimits bundles the per-class limiters shared by the router.
type RateLimits struct {
	login     *classLimiter
	register  *classLimiter
	bootstrap *classLimiter
	onboard   *rate.Limiter // global
	transfer  *classLimiter
	authed    *classLimiter
	unauthed  *classLimiter
}

func NewRateLimits() *RateLimits {
	return &RateLimits{
		login:     newClassLimiter(limitLogin),
		register:  newClassLimiter(limitRegister),
		bootstrap: newClassLimiter(limitBootstrap),
		onboard:   rate.NewLimiter(limitOnboard.limit, limitOnboard.burst),
		transfer:  newClassLimiter(limitTransfer),
		authed:    newClassLimiter(limitAuthed),
		unauthed:  newClassLimiter(limitUnauthed),
	}
}

func (r *RateLimits) Register() gin.HandlerFunc  { return perKey(r.register) }
func (r *RateLimits) Bootstrap() gin.HandlerFunc { return perKey(r.bootstrap) }
func (r *RateLimits) Transfer() gin.HandlerFunc  { return perKey(r.transfer) }
func (r *RateLimits) Authed() gin.HandlerFunc    { return perKey(r.authed) }
func (r *RateLimits) Unauthed() gin.HandlerFunc  { return perKey(r.unauthed) }

// Login limits the account under attack, not the caller: the bucket key is
// the submitted email when the body carries one, the client IP otherwise.
func (r *RateLimits) Login() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := "ip:" + c.ClientIP()
		if email := peekEmail(c); email != "" {
			key = "email:" + email
		}
		if !r.login.allow(key) {
			tooManyRequests(c)
			return
		}
		c.Next()
	}
}

// peekEmail reads the email field out of the request body and puts the
// body back for the handler's own bind.
func peekEmail(c *gin.Context) string {
	if c.Request.Body == nil {
		return ""
	}
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		return ""
	}
	c.Request.Body = io.NopCloser(bytes.NewReader(body))
	var req struct {
		Email string `json:"email"`
	}
	if err := json.Unmarshal(body, &req); err != nil {
		return ""
	}
	return strings.ToLower(strings.TrimSpace(req.Email))
}

// Onboard is a single global bucket shared by all callers: redemption is
// unauthenticated, so per-key budgets would be trivial to evade.
func (r *RateLimits) Onboard() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !r.onboard.Allow() {
			tooManyRequests(c)
			return
		}
		c.Next()
	}
}

func perKey(l *classLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !l.allow(limitKey(c)) {
			tooManyRequests(c)
			return
		}
		c.Next()
	}
}

// limitKey identifies the caller for rate accounting: the verified
// principal when the request is authenticated, the client IP otherwise.
func limitKey(c *gin.Context) string {
	if p := identity.PrincipalFromCtx(c); p != nil {
		if p.AgentDID != "" {
			return "agent:" + p.AgentDID
		}
		if p.DeveloperID != "" {
			return "dev:" + p.DeveloperID
		}
	}
	return "ip:" + c.ClientIP()
}

func tooManyRequests(c *gin.Context) {
	c.Header("Retry-After", "1")
	c.AbortWithStatusJSON(http.StatusTooManyRequests, errorBody{
		ErrorCode: "RATE_LIMITED",
		Message:   "rate limit exceeded, retry later",
	})
}
