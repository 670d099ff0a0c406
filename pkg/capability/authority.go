package capability

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/arbitra-ai/oversight/pkg/audit"
	"github.com/arbitra-ai/oversight/pkg/metrics"
)

// DefaultTTL applies when a mint request does not specify a TTL.
const DefaultTTL = 3600 * time.Second

// MintRequest carries the parameters for minting a capability token.
// TTLSeconds is a pointer so that an explicit zero (a token that is never
// valid) can be told apart from an omitted field (use the default TTL).
type MintRequest struct {
	ToolID         string         `json:"tool_id"`
	Caller         string         `json:"caller"`
	AllowedActions []string       `json:"allowed_actions"`
	TTLSeconds     *int64         `json:"ttl_seconds,omitempty"`
	Scope          map[string]any `json:"scope,omitempty"`
}

// Authority mints, verifies and revokes capability tokens. Minted tokens are
// cached for fast verification; tokens presented cold are verified through
// signature checking alone, so the authority stays stateless from the
// caller's perspective. Revocations are tracked as tombstones until the
// revoked token would have expired anyway, which keeps a revoked token from
// re-validating through the signature path.
type Authority struct {
	key        []byte
	defaultTTL time.Duration
	log        *zap.SugaredLogger
	audit      *audit.Service

	mu      sync.RWMutex
	cache   map[string]Token
	revoked map[string]int64 // token string -> exp (unix seconds), for pruning

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAuthority constructs an Authority with the given signing key. The key is
// mandatory; there is no built-in default.
func NewAuthority(key string, log *zap.SugaredLogger) (*Authority, error) {
	if key == "" {
		return nil, errors.New("capability signing key must not be empty")
	}
	return &Authority{
		key:        []byte(key),
		defaultTTL: DefaultTTL,
		log:        log,
		cache:      make(map[string]Token),
		revoked:    make(map[string]int64),
		done:       make(chan struct{}),
	}, nil
}

// WithDefaultTTL overrides the TTL applied to mint requests without one.
// Non-positive values are ignored.
func (a *Authority) WithDefaultTTL(ttl time.Duration) *Authority {
	if ttl > 0 {
		a.defaultTTL = ttl
	}
	return a
}

// WithAudit attaches an audit service. Nil disables audit emission.
func (a *Authority) WithAudit(svc *audit.Service) *Authority {
	a.audit = svc
	return a
}

func (a *Authority) getLogger() *zap.SugaredLogger {
	if a.log != nil {
		return a.log
	}
	return zap.S()
}

// Mint creates, signs and caches a new capability token and returns its wire
// form. The token string is the only handle the caller ever receives.
func (a *Authority) Mint(ctx context.Context, req MintRequest) (string, error) {
	if req.ToolID == "" {
		return "", errors.New("tool_id must not be empty")
	}
	if req.Caller == "" {
		return "", errors.New("caller must not be empty")
	}

	ttl := a.defaultTTL
	if req.TTLSeconds != nil {
		ttl = time.Duration(*req.TTLSeconds) * time.Second
	}

	now := time.Now().Unix()
	token := Token{
		ToolID:         req.ToolID,
		Caller:         req.Caller,
		AllowedActions: req.AllowedActions,
		Exp:            now + int64(ttl/time.Second),
		Iat:            now,
		Scope:          req.Scope,
	}

	tokenString, err := encode(token, a.key)
	if err != nil {
		return "", errors.Wrap(err, "minting capability token")
	}

	a.mu.Lock()
	a.cache[tokenString] = token
	a.mu.Unlock()

	metrics.TokenMinted.WithLabelValues(token.ToolID).Inc()
	a.getLogger().Infow("Minted capability token",
		"tool", token.ToolID, "caller", token.Caller,
		"actions", token.AllowedActions, "ttl", ttl, "fingerprint", fingerprint(tokenString))
	a.emitAudit(ctx, audit.EventTokenMinted, token.ToolID, token.Caller, map[string]interface{}{
		"actions":     token.AllowedActions,
		"expiresAt":   time.Unix(token.Exp, 0),
		"fingerprint": fingerprint(tokenString),
	})

	return tokenString, nil
}

// Verify validates a token string and returns its payload, or nil when the
// token is revoked, expired, tampered with, or malformed. Verification never
// returns an error: an invalid token is an expected outcome.
func (a *Authority) Verify(ctx context.Context, tokenString string) *Token {
	now := time.Now()

	a.mu.RLock()
	_, isRevoked := a.revoked[tokenString]
	cached, inCache := a.cache[tokenString]
	a.mu.RUnlock()

	if isRevoked {
		a.reject(ctx, tokenString, "revoked")
		return nil
	}

	if inCache {
		if cached.ExpiredAt(now) {
			a.mu.Lock()
			delete(a.cache, tokenString)
			a.mu.Unlock()
			a.reject(ctx, tokenString, "expired")
			return nil
		}
		metrics.TokenVerified.WithLabelValues("cache").Inc()
		token := cached
		a.emitAudit(ctx, audit.EventTokenVerified, token.ToolID, token.Caller, map[string]interface{}{
			"source":      "cache",
			"fingerprint": fingerprint(tokenString),
		})
		return &token
	}

	token, err := decode(tokenString, a.key)
	if err != nil {
		a.getLogger().Debugw("Token verification failed",
			"fingerprint", fingerprint(tokenString), "error", err)
		a.reject(ctx, tokenString, "invalid")
		return nil
	}
	if token.ExpiredAt(now) {
		a.reject(ctx, tokenString, "expired")
		return nil
	}

	metrics.TokenVerified.WithLabelValues("decode").Inc()
	a.emitAudit(ctx, audit.EventTokenVerified, token.ToolID, token.Caller, map[string]interface{}{
		"source":      "decode",
		"fingerprint": fingerprint(tokenString),
	})
	return &token
}

// CanPerformAction reports whether the token string permits action on toolID.
// Any verification failure yields false.
func (a *Authority) CanPerformAction(ctx context.Context, tokenString, toolID, action string) bool {
	token := a.Verify(ctx, tokenString)
	if token == nil {
		return false
	}
	return token.Allows(toolID, action)
}

// Revoke invalidates a token immediately. Revocation is idempotent and
// succeeds even for tokens that never were valid.
func (a *Authority) Revoke(ctx context.Context, tokenString string) {
	exp := int64(0)
	toolID := ""

	a.mu.Lock()
	if cached, ok := a.cache[tokenString]; ok {
		exp = cached.Exp
		toolID = cached.ToolID
		delete(a.cache, tokenString)
	}
	if exp == 0 {
		if token, err := decode(tokenString, a.key); err == nil {
			exp = token.Exp
			toolID = token.ToolID
		}
	}
	if exp == 0 {
		// Not a token we ever signed; verification already fails, so no
		// tombstone is needed.
		a.mu.Unlock()
		return
	}
	if _, already := a.revoked[tokenString]; !already {
		a.revoked[tokenString] = exp
	}
	a.mu.Unlock()

	metrics.TokenRevoked.Inc()
	a.getLogger().Infow("Revoked capability token",
		"tool", toolID, "fingerprint", fingerprint(tokenString))
	a.emitAudit(ctx, audit.EventTokenRevoked, toolID, "", map[string]interface{}{
		"fingerprint": fingerprint(tokenString),
	})
}

// Cleanup evicts expired cache entries and prunes tombstones for tokens that
// have passed their natural expiry.
func (a *Authority) Cleanup() int {
	now := time.Now()
	nowUnix := now.Unix()
	swept := 0

	a.mu.Lock()
	for tokenString, token := range a.cache {
		if token.ExpiredAt(now) {
			delete(a.cache, tokenString)
			swept++
		}
	}
	for tokenString, exp := range a.revoked {
		if nowUnix >= exp {
			delete(a.revoked, tokenString)
		}
	}
	a.mu.Unlock()

	if swept > 0 {
		metrics.TokenSwept.Add(float64(swept))
		a.getLogger().Debugw("Swept expired capability tokens", "count", swept)
	}
	return swept
}

// StartSweeper launches the periodic cleanup goroutine. Stop terminates it.
func (a *Authority) StartSweeper(interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.Cleanup()
			case <-a.done:
				return
			}
		}
	}()
}

// Stop terminates the sweeper goroutine. Safe to call multiple times and
// without a prior StartSweeper.
func (a *Authority) Stop() {
	a.stopOnce.Do(func() { close(a.done) })
	a.wg.Wait()
}

// CachedTokens returns the number of live cache entries (for tests and health
// reporting).
func (a *Authority) CachedTokens() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.cache)
}

func (a *Authority) reject(ctx context.Context, tokenString, reason string) {
	metrics.TokenRejected.WithLabelValues(reason).Inc()
	a.emitAudit(ctx, audit.EventTokenRejected, "", "", map[string]interface{}{
		"reason":      reason,
		"fingerprint": fingerprint(tokenString),
	})
}

func (a *Authority) emitAudit(ctx context.Context, eventType audit.EventType, toolID, caller string, details map[string]interface{}) {
	if a.audit == nil {
		return
	}
	a.audit.Emit(ctx, &audit.Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Severity:  audit.SeverityForEventType(eventType),
		Timestamp: time.Now(),
		Actor:     audit.Actor{User: caller},
		Target:    audit.Target{Kind: "CapabilityToken", Name: toolID},
		Details:   details,
	})
}
