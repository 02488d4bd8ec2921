package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/tbourn/unified-inbox/internal/services"
)

func TestFail_ServerErrorLogsCause(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()

	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	r.Use(func(c *gin.Context) {
		c.Writer.Header().Set("X-Request-ID", "rid-500")
		c.Set("logger", &logger)
		c.Next()
	})
	r.GET("/boom", func(c *gin.Context) {
		failErr(c, errors.New("disk on fire"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d", w.Code)
	}
	var resp ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("json: %v", err)
	}
	if resp.RequestID != "rid-500" || resp.Code != ErrCodeInternal || resp.Message != "internal error" {
		t.Fatalf("unexpected body: %+v", resp)
	}
	if strings.Contains(w.Body.String(), "disk on fire") {
		t.Fatalf("cause leaked to client")
	}
	logs := buf.String()
	if !strings.Contains(logs, `"level":"error"`) || !strings.Contains(logs, "disk on fire") {
		t.Fatalf("expected error log with cause, got: %s", logs)
	}
}

func TestFailErr_Mapping(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("%w: empty body", services.ErrInvalidInbound), http.StatusBadRequest, ErrCodeBadRequest},
		{services.ErrInvalidOrder, http.StatusBadRequest, ErrCodeBadRequest},
		{services.ErrInvalidFilter, http.StatusBadRequest, ErrCodeInvalidFilter},
		{services.ErrContactNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrSuggestionNotFound, http.StatusNotFound, ErrCodeNotFound},
		{services.ErrNotOwned, http.StatusConflict, ErrCodeNotOwned},
		{services.ErrConflictingVersion, http.StatusConflict, ErrCodeVersionConflict},
		{services.ErrThreadClosed, http.StatusConflict, ErrCodeThreadClosed},
		{services.ErrThreadContactMismatch, http.StatusUnprocessableEntity, ErrCodeContactMismatch},
		{services.ErrDuplicateFeed, http.StatusConflict, ErrCodeDuplicateFeed},
		{fmt.Errorf("wait: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, ErrCodeTimeout},
	}
	for _, tc := range cases {
		t.Run(tc.code+"/"+tc.err.Error(), func(t *testing.T) {
			r := gin.New()
			r.GET("/x", func(c *gin.Context) { failErr(c, tc.err) })
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
			if w.Code != tc.status {
				t.Fatalf("status=%d want %d", w.Code, tc.status)
			}
			var er ErrorResponse
			if err := json.Unmarshal(w.Body.Bytes(), &er); err != nil || er.Code != tc.code {
				t.Fatalf("body=%s err=%v", w.Body.String(), err)
			}
		})
	}

	r := gin.New()
	r.GET("/gone", func(c *gin.Context) { failErr(c, context.Canceled) })
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/gone", nil))
	if w.Code != 499 || w.Body.Len() != 0 {
		t.Fatalf("canceled: status=%d body=%q", w.Code, w.Body.String())
	}
}

func TestSuccessHelpers(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/missing", func(c *gin.Context) { Fail(c, http.StatusNotFound, ErrCodeNotFound, "nope") })
	r.GET("/ok", func(c *gin.Context) { ok(c, http.StatusCreated, gin.H{"n": 1}) })
	r.DELETE("/gone", func(c *gin.Context) { noContent(c) })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))
	if w.Code != http.StatusNotFound {
		t.Fatalf("status=%d", w.Code)
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ok", nil))
	var body map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil || w.Code != http.StatusCreated || body["n"] != float64(1) {
		t.Fatalf("ok: %d %s", w.Code, w.Body.String())
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/gone", nil))
	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Fatalf("noContent: %d", w.Code)
	}
}
