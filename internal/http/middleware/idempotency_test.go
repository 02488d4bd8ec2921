package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestIdempotencyValidator(t *testing.T) {
	var gotScope, gotKey string
	lookup := func(_ context.Context, scope, key string) (bool, error) {
		gotScope, gotKey = scope, key
		return key == "seen-1", nil
	}
	r := newEngine(IdempotencyValidator(IdempotencyOptions{MaxLen: 16}, lookup))
	r.POST("/channels/:channel/messages", func(c *gin.Context) {
		key, _ := GetIdempotencyKey(c)
		c.JSON(http.StatusOK, gin.H{"key": key, "replay": IsReplay(c), "bypass": IsRateBypass(c)})
	})

	post := func(key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/channels/sms/messages", nil)
		if key != "" {
			req.Header.Set(HeaderIdempotencyKey, key)
		}
		return do(r, req)
	}

	if w := post(""); w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("no key = %d %s", w.Code, w.Body.String())
	}
	if w := post("fresh-1"); !strings.Contains(w.Body.String(), `"key":"fresh-1"`) || !strings.Contains(w.Body.String(), `"replay":false`) {
		t.Fatalf("fresh key = %s", w.Body.String())
	}
	if gotScope != "sms" || gotKey != "fresh-1" {
		t.Fatalf("lookup args = %q %q", gotScope, gotKey)
	}
	if w := post("seen-1"); !strings.Contains(w.Body.String(), `"replay":true`) || !strings.Contains(w.Body.String(), `"bypass":true`) {
		t.Fatalf("seen key = %s", w.Body.String())
	}
	for _, bad := range []string{"has space", strings.Repeat("k", 17), "semi;colon"} {
		if w := post(bad); w.Code != http.StatusBadRequest || !strings.Contains(w.Body.String(), "bad_idempotency_key") {
			t.Fatalf("key %q = %d %s", bad, w.Code, w.Body.String())
		}
	}
}

func TestIdempotencyValidator_NoScopeSkipsLookup(t *testing.T) {
	called := false
	r := newEngine(IdempotencyValidator(IdempotencyOptions{}, func(context.Context, string, string) (bool, error) {
		called = true
		return true, nil
	}))
	r.POST("/feeds", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	req := httptest.NewRequest(http.MethodPost, "/feeds", nil)
	req.Header.Set(HeaderIdempotencyKey, "k1")
	do(r, req)
	if called {
		t.Fatalf("lookup must only run on channel-scoped routes")
	}
}
