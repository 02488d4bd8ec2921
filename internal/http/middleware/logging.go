// Package middleware contains the Gin middleware shared by the inbox API.
//
// This file provides request correlation, agent attribution and panic
// recovery:
//
//   - RequestID propagates or generates X-Request-ID.
//   - Agent records the acting agent from X-Agent-ID so merges, notes and
//     suggestion decisions carry an actor in the provenance log.
//   - Recovery converts panics into the standard JSON 500 envelope.
//   - LoggerFrom returns the request-scoped logger attached by
//     RedactingLogger.
//
// Recommended order: RequestID, Agent, RedactingLogger, Recovery.
package middleware

import (
	"net/http"
	"regexp"
	"runtime/debug"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	requestIDKey    = "requestID"
	requestIDHeader = "X-Request-ID"

	agentIDKey    = "agentID"
	agentIDHeader = "X-Agent-ID"

	loggerKey = "logger"

	// maxQueryLogLength caps the logged raw query in bytes.
	maxQueryLogLength = 2048
)

// agentRE bounds what an agent id may look like.
var agentRE = regexp.MustCompile(`^[A-Za-z0-9._@\-]{1,64}$`)

// RequestID reuses an incoming X-Request-ID or generates a UUIDv4, stores
// it in the context and echoes it on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		rid := c.GetHeader(requestIDHeader)
		if rid == "" {
			rid = uuid.NewString()
		}
		c.Set(requestIDKey, rid)
		c.Writer.Header().Set(requestIDHeader, rid)
		c.Next()
	}
}

// Agent stores the X-Agent-ID header in the context. Malformed values are
// ignored rather than rejected; handlers fall back to "system".
func Agent() gin.HandlerFunc {
	return func(c *gin.Context) {
		if id := c.GetHeader(agentIDHeader); agentRE.MatchString(id) {
			c.Set(agentIDKey, id)
		}
		c.Next()
	}
}

// AgentFrom returns the acting agent, or "system" when none was supplied.
func AgentFrom(c *gin.Context) string {
	if s := asString(mustGet(c, agentIDKey)); s != "" {
		return s
	}
	return "system"
}

// Recovery logs a panic with its stack and answers 500 with the standard
// error envelope if nothing was written yet.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			rid := asString(mustGet(c, requestIDKey))
			log.Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Str("request_id", rid).
				Msg("panic recovered")

			if c.Writer.Written() {
				c.AbortWithStatus(http.StatusInternalServerError)
				return
			}
			c.Header(requestIDHeader, rid)
			c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
				"request_id": rid,
				"code":       "internal_error",
				"message":    "internal server error",
			})
		}()
		c.Next()
	}
}

// LoggerFrom returns the request-scoped logger, or the global logger when
// none was attached. The result is never nil.
func LoggerFrom(c *gin.Context) *zerolog.Logger {
	if lg, ok := mustGet(c, loggerKey).(*zerolog.Logger); ok {
		return lg
	}
	l := log.With().Logger()
	return &l
}

func mustGet(c *gin.Context, key string) any {
	if c == nil {
		return nil
	}
	v, _ := c.Get(key)
	return v
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// truncate caps s at max bytes; max <= 0 disables it.
func truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "…"
}
