package middleware

import (
	"context"
	"net/http"
	"regexp"

	"github.com/gin-gonic/gin"
)

// HeaderIdempotencyKey lets connectors name a delivery when the payload
// carries no external message id of its own.
const HeaderIdempotencyKey = "Idempotency-Key"

const (
	ctxKeyIdemKey    = "idem.key"
	ctxKeyIdemReplay = "idem.replay"
	ctxKeyRateBypass = "rate.bypass"
)

// GetIdempotencyKey returns the validated key stashed by
// IdempotencyValidator.
func GetIdempotencyKey(c *gin.Context) (string, bool) {
	s := asString(mustGet(c, ctxKeyIdemKey))
	return s, s != ""
}

// IsReplay reports whether the key names a delivery that was already
// accepted.
func IsReplay(c *gin.Context) bool {
	b, _ := mustGet(c, ctxKeyIdemReplay).(bool)
	return b
}

// IdempotencyOptions configures header validation.
type IdempotencyOptions struct {
	// MaxLen caps the key length; values <= 0 mean 200.
	MaxLen int
	// Pattern restricts the key alphabet; nil means ^[A-Za-z0-9._~\-:]+$.
	Pattern *regexp.Regexp
	// ScopeParam is the route parameter that scopes keys, "channel" when
	// empty. Keys are only unique within a channel.
	ScopeParam string
}

// IdempotencyLookup reports whether a delivery with key was already
// accepted on scope. Errors do not block the request.
type IdempotencyLookup func(ctx context.Context, scope, key string) (bool, error)

// IdempotencyValidator validates Idempotency-Key when present and stashes
// it. When lookup finds a prior delivery the request is marked as a
// replay and exempted from rate limiting; the handler still answers it,
// since ingestion is idempotent on its own.
func IdempotencyValidator(opts IdempotencyOptions, lookup IdempotencyLookup) gin.HandlerFunc {
	maxLen := opts.MaxLen
	if maxLen <= 0 {
		maxLen = 200
	}
	pat := opts.Pattern
	if pat == nil {
		pat = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)
	}
	scopeParam := opts.ScopeParam
	if scopeParam == "" {
		scopeParam = "channel"
	}

	return func(c *gin.Context) {
		key := c.GetHeader(HeaderIdempotencyKey)
		if key == "" {
			c.Next()
			return
		}
		if len(key) > maxLen || !pat.MatchString(key) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"request_id": c.Writer.Header().Get(requestIDHeader),
				"code":       "bad_idempotency_key",
				"message":    "invalid Idempotency-Key",
			})
			return
		}
		c.Set(ctxKeyIdemKey, key)

		if scope := c.Param(scopeParam); lookup != nil && scope != "" {
			if seen, _ := lookup(c.Request.Context(), scope, key); seen {
				c.Set(ctxKeyIdemReplay, true)
				c.Set(ctxKeyRateBypass, true)
			}
		}
		c.Next()
	}
}
