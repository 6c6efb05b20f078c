package main

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	verifygw "github.com/ferro-labs/verifygw"
	"github.com/ferro-labs/verifygw/internal/kv"
	"github.com/ferro-labs/verifygw/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(t *testing.T) *verifygw.Config {
	t.Helper()
	cfg := verifygw.DefaultConfig()
	cfg.Database.DSN = filepath.Join(t.TempDir(), "verifygw.db")
	cfg.Auth.JWTSecret = "wiring-secret"
	return &cfg
}

func TestBuild_ServesAPI(t *testing.T) {
	a, err := build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.close)
	require.NotNil(t, a.limiter)

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	body := `{"member_id":"ABC123","dob":"1990-01-01","last_name":"Doe"}`
	req := httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer wiring-secret")
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"source":"provider"`)

	req = httptest.NewRequest(http.MethodPost, "/api/verify", strings.NewReader(body))
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestBuild_UserAccounts(t *testing.T) {
	a, err := build(context.Background(), testConfig(t))
	require.NoError(t, err)
	t.Cleanup(a.close)

	post := func(path, body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		a.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, strings.NewReader(body)))
		return rec
	}
	rec := post("/api/auth/register", `{"email":"ops@example.com","password":"correct-horse","full_name":"Ops"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = post("/api/auth/login", `{"email":"ops@example.com","password":"correct-horse"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"token_type":"bearer"`)
}

func TestBuild_RateLimitDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.RateLimit.Enabled = false
	a, err := build(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(a.close)
	assert.Nil(t, a.limiter)
}

func TestNewKV(t *testing.T) {
	s, err := newKV(context.Background(), verifygw.CacheConfig{Backend: verifygw.CacheMemory})
	require.NoError(t, err)
	assert.IsType(t, &kv.Memory{}, s)

	s, err = newKV(context.Background(), verifygw.CacheConfig{
		Backend:          verifygw.CacheMemcached,
		MemcachedServers: []string{"127.0.0.1:11211"},
	})
	require.NoError(t, err)
	assert.IsType(t, &kv.Memcached{}, s)

	_, err = newKV(context.Background(), verifygw.CacheConfig{Backend: "disk"})
	assert.Error(t, err)
}

func TestBuild_UnknownDatabaseDriver(t *testing.T) {
	cfg := testConfig(t)
	cfg.Database.Driver = "mysql"
	_, err := build(context.Background(), cfg)
	assert.Error(t, err)
}

func TestNewProviders(t *testing.T) {
	reg, err := newProviders([]verifygw.ProviderConfig{
		{Name: "provider_a", Type: verifygw.ProviderStub},
		{Name: "acme", Type: verifygw.ProviderHTTP, VerifyURL: "https://acme.example/api/verify"},
	}, "acme")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"provider_a", "acme"}, reg.List())

	def, ok := reg.Default()
	require.True(t, ok)
	assert.IsType(t, &provider.HTTPClient{}, def)

	_, err = newProviders([]verifygw.ProviderConfig{{Name: "x", Type: "grpc"}}, "")
	assert.Error(t, err)

	_, err = newProviders([]verifygw.ProviderConfig{{Name: "x", Type: verifygw.ProviderStub}}, "missing")
	assert.Error(t, err)
}

func TestNewCompleter(t *testing.T) {
	c, err := newCompleter(context.Background(), verifygw.ChatConfig{Classifier: verifygw.ClassifierRules})
	require.NoError(t, err)
	assert.Nil(t, c)

	c, err = newCompleter(context.Background(), verifygw.ChatConfig{Classifier: verifygw.ClassifierOpenAI, APIKey: "sk-test"})
	require.NoError(t, err)
	assert.Equal(t, "openai", c.Name())

	_, err = newCompleter(context.Background(), verifygw.ChatConfig{Classifier: "ollama"})
	assert.Error(t, err)
}

func TestServe_WaitsForInFlightRequests(t *testing.T) {
	started := make(chan struct{})
	release := make(chan struct{})
	srv := &http.Server{
		ReadHeaderTimeout: time.Second,
		Handler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			close(started)
			<-release
			_, _ = io.WriteString(w, "done")
		}),
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	served := make(chan error, 1)
	go func() { served <- serve(ctx, srv, ln, 5*time.Second) }()

	resp := make(chan string, 1)
	go func() {
		r, err := http.Get("http://" + ln.Addr().String() + "/")
		if err != nil {
			resp <- err.Error()
			return
		}
		defer r.Body.Close()
		b, _ := io.ReadAll(r.Body)
		resp <- string(b)
	}()

	<-started
	cancel()
	select {
	case <-served:
		t.Fatal("serve returned while a request was still running")
	case <-time.After(100 * time.Millisecond):
	}

	close(release)
	select {
	case err := <-served:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("serve did not return after the request finished")
	}
	assert.Equal(t, "done", <-resp)
}

func TestServe_ListenerError(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	require.NoError(t, ln.Close())

	srv := &http.Server{ReadHeaderTimeout: time.Second, Handler: http.NotFoundHandler()}
	assert.Error(t, serve(context.Background(), srv, ln, time.Second))
}
