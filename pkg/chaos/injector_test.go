package chaos

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{Latency: "100±20ms", ErrorRate: 0.25}.Validate())
	assert.NoError(t, Config{ErrorStatus: 503}.Validate())

	assert.Error(t, Config{ErrorRate: 1.5}.Validate())
	assert.Error(t, Config{ErrorRate: -0.1}.Validate())
	assert.Error(t, Config{Latency: "soon"}.Validate())
	assert.Error(t, Config{ErrorStatus: 200}.Validate())
}

func TestConfigEnabled(t *testing.T) {
	assert.False(t, Config{}.Enabled())
	assert.True(t, Config{Latency: "1ms"}.Enabled())
	assert.True(t, Config{ErrorRate: 0.1}.Enabled())
}

func TestInjectorErrorRateBounds(t *testing.T) {
	never := NewInjector(Config{ErrorRate: 0})
	always := NewInjector(Config{ErrorRate: 1})
	for i := 0; i < 100; i++ {
		assert.False(t, never.ShouldError())
		assert.True(t, always.ShouldError())
	}
}

func TestInjectorErrorStatusDefault(t *testing.T) {
	assert.Equal(t, 500, NewInjector(Config{ErrorRate: 1}).ErrorStatus())
	assert.Equal(t, 503, NewInjector(Config{ErrorRate: 1, ErrorStatus: 503}).ErrorStatus())
}

func TestInjectorSleepCancellation(t *testing.T) {
	inj := NewInjector(Config{Latency: "5s"})
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := inj.Sleep(ctx)
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestMiddlewareDisabledPassesThrough(t *testing.T) {
	var called bool
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusNoContent)
	})

	h := Middleware(NewInjector(Config{}), next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))

	assert.True(t, called)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestMiddlewareInjectsError(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run when the error fault fires")
	})

	h := Middleware(NewInjector(Config{ErrorRate: 1, ErrorStatus: 503}), next)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/pets", nil))

	assert.Equal(t, 503, rec.Code)
	assert.Equal(t, "application/problem+json", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Body.String(), TypeInjected)
}

func TestMiddlewareAppliesLatency(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	h := Middleware(NewInjector(Config{Latency: "30ms"}), next)
	rec := httptest.NewRecorder()

	start := time.Now()
	h.ServeHTTP(rec, httptest.NewRequest("GET", "/x", nil))

	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, http.StatusOK, rec.Code)
}
