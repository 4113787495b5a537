package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"facturas/internal/core/apperror"
	appctx "facturas/internal/core/context"
	"facturas/internal/domain/auth"
	"facturas/internal/infrastructure/storage/postgres"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type storedKey struct {
	userID, operation, hash string
	done                    bool
	status                  int
	contentType             string
	body                    []byte
}

// fakeStore mirrors the postgres store's acquire/finish rules in memory.
type fakeStore struct {
	mu       sync.Mutex
	keys     map[string]*storedKey
	released []string
	failed   []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{keys: map[string]*storedKey{}}
}

func (s *fakeStore) AcquireKey(_ context.Context, key, userID, operation, requestHash string) (*postgres.IdempotencyReplay, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.keys[key]
	if !ok {
		s.keys[key] = &storedKey{userID: userID, operation: operation, hash: requestHash}
		return nil, nil
	}
	if rec.userID != userID || rec.operation != operation || rec.hash != requestHash {
		return nil, apperror.NewIdempotencyMismatch(key)
	}
	if !rec.done {
		return nil, apperror.NewIdempotencyConflict(key)
	}
	return &postgres.IdempotencyReplay{StatusCode: rec.status, ContentType: rec.contentType, Body: rec.body}, nil
}

func (s *fakeStore) finish(key string, status int, contentType string, body []byte) {
	rec := s.keys[key]
	rec.done = true
	rec.status = status
	rec.contentType = contentType
	rec.body = append([]byte(nil), body...)
}

func (s *fakeStore) CompleteKey(_ context.Context, key string, status int, contentType string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finish(key, status, contentType, body)
	return nil
}

func (s *fakeStore) FailKey(_ context.Context, key string, status int, contentType string, body []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed = append(s.failed, key)
	s.finish(key, status, contentType, body)
	return nil
}

func (s *fakeStore) ReleaseKey(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.released = append(s.released, key)
	delete(s.keys, key)
	return nil
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestErrorHandler_AppError(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(apperror.NewConcurrentModification("invoice", "abc"))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	body := decodeError(t, w)
	assert.Equal(t, apperror.CodeConcurrentModification, body["code"])
	details := body["details"].(map[string]any)
	assert.Equal(t, "abc", details["id"])
}

func TestErrorHandler_WrappedAppError(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/x", func(c *gin.Context) {
		_ = c.Error(fmt.Errorf("finalize: %w", apperror.NewReadOnly("invoice", "abc")))
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))

	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apperror.CodeReadOnly, decodeError(t, w)["code"])
}

func TestErrorHandler_HidesInternalErrors(t *testing.T) {
	r := gin.New()
	r.Use(ErrorHandler())
	r.GET("/plain", func(c *gin.Context) {
		_ = c.Error(errors.New("pq: password authentication failed"))
	})
	r.GET("/internal", func(c *gin.Context) {
		_ = c.Error(apperror.NewInternal(errors.New("disk full")).WithDetail("path", "/var"))
	})

	for _, path := range []string{"/plain", "/internal"} {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))

		assert.Equal(t, http.StatusInternalServerError, w.Code, path)
		assert.NotContains(t, w.Body.String(), "password", path)
		assert.NotContains(t, w.Body.String(), "disk", path)
		assert.Equal(t, apperror.CodeInternal, decodeError(t, w)["code"], path)
	}
}

func TestRecovery_ConvertsPanic(t *testing.T) {
	r := gin.New()
	r.Use(Recovery())
	r.Use(ErrorHandler())
	r.GET("/boom", func(c *gin.Context) { panic("boom") })

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/boom", nil))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, apperror.CodeInternal, decodeError(t, w)["code"])
}

func TestTrace_PropagatesIDs(t *testing.T) {
	r := gin.New()
	r.Use(Trace())
	var seen *appctx.TraceContext
	r.GET("/x", func(c *gin.Context) {
		seen = appctx.GetTrace(c.Request.Context())
		c.Status(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(HeaderRequestID, "req-1")
	req.Header.Set(HeaderTraceID, "trace-1")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.NotNil(t, seen)
	assert.Equal(t, "req-1", seen.RequestID)
	assert.Equal(t, "trace-1", seen.TraceID)
	assert.Equal(t, "req-1", w.Header().Get(HeaderRequestID))

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.NotEmpty(t, w.Header().Get(HeaderRequestID))
	assert.NotEmpty(t, w.Header().Get(HeaderTraceID))
}

func authRouter(jwt *auth.JWTService) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(Auth(jwt))
	r.GET("/me", func(c *gin.Context) {
		c.String(http.StatusOK, appctx.GetUserID(c.Request.Context()))
	})
	return r
}

func TestAuth(t *testing.T) {
	jwt := auth.NewJWTService(auth.DefaultJWTConfig("test-secret-0123456789abcdef-0123456789"))
	token, _, err := jwt.GenerateAccessToken("buyer-1", "b@example.com", nil)
	require.NoError(t, err)
	r := authRouter(jwt)

	tests := []struct {
		name   string
		header string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)

			assert.Equal(t, tt.status, w.Code)
			if tt.status == http.StatusOK {
				assert.Equal(t, "buyer-1", w.Body.String())
			} else {
				assert.Equal(t, apperror.CodeUnauthorized, decodeError(t, w)["code"])
			}
		})
	}
}

// idempotentRouter counts executions of POST /invoices. The handler stores
// its response like BaseHandler does.
func idempotentRouter(store *fakeStore, calls *int, fail error) *gin.Engine {
	r := gin.New()
	r.Use(ErrorHandler())
	r.Use(func(c *gin.Context) {
		ctx := appctx.WithUser(c.Request.Context(), &appctx.UserContext{UserID: c.GetHeader("X-User")})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.Use(Idempotency(store))
	r.POST("/invoices", func(c *gin.Context) {
		*calls++
		if fail != nil {
			_ = c.Error(fail)
			c.Abort()
			return
		}
		body, _ := io.ReadAll(c.Request.Body)
		resp := []byte(`{"echo":` + string(body) + `}`)
		if key, ok := c.Get(ctxIdempotencyKey); ok {
			_ = store.CompleteKey(c.Request.Context(), key.(string), http.StatusCreated, "application/json", resp)
		}
		c.Data(http.StatusCreated, "application/json", resp)
	})
	r.GET("/invoices", func(c *gin.Context) {
		*calls++
		c.Status(http.StatusOK)
	})
	return r
}

func post(r *gin.Engine, key, user, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(body))
	if key != "" {
		req.Header.Set(HeaderIdempotencyKey, key)
	}
	req.Header.Set("X-User", user)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestIdempotency_ReplaysCompletedResponse(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := idempotentRouter(store, &calls, nil)

	first := post(r, "k1", "buyer-1", `{"n":1}`)
	require.Equal(t, http.StatusCreated, first.Code)

	second := post(r, "k1", "buyer-1", `{"n":1}`)
	assert.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "true", second.Header().Get("Idempotent-Replayed"))
	assert.Equal(t, 1, calls, "handler ran once")
}

func TestIdempotency_Mismatch(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := idempotentRouter(store, &calls, nil)

	require.Equal(t, http.StatusCreated, post(r, "k1", "buyer-1", `{"n":1}`).Code)

	tests := []struct {
		name string
		user string
		body string
	}{
		{"different body", "buyer-1", `{"n":2}`},
		{"different user", "buyer-2", `{"n":1}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := post(r, "k1", tt.user, tt.body)
			assert.Equal(t, http.StatusConflict, w.Code)
			assert.Equal(t, apperror.CodeIdempotency, decodeError(t, w)["code"])
		})
	}
	assert.Equal(t, 1, calls)
}

func TestIdempotency_WithoutKeyOrOnReads(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := idempotentRouter(store, &calls, nil)

	post(r, "", "buyer-1", `{}`)
	post(r, "", "buyer-1", `{}`)

	req := httptest.NewRequest(http.MethodGet, "/invoices", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-get")
	r.ServeHTTP(httptest.NewRecorder(), req)

	assert.Equal(t, 3, calls)
	assert.Empty(t, store.keys)
}

func TestIdempotency_ClientErrorIsReplayed(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := idempotentRouter(store, &calls, apperror.NewValidation("bad payload"))

	first := post(r, "k1", "buyer-1", `{}`)
	require.Equal(t, http.StatusBadRequest, first.Code)
	assert.Equal(t, []string{"k1"}, store.failed)

	second := post(r, "k1", "buyer-1", `{}`)
	assert.Equal(t, http.StatusBadRequest, second.Code)
	assert.JSONEq(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, calls)
}

func TestIdempotency_ServerErrorReleasesKey(t *testing.T) {
	store := newFakeStore()
	calls := 0
	r := idempotentRouter(store, &calls, errors.New("connection reset"))

	first := post(r, "k1", "buyer-1", `{}`)
	require.Equal(t, http.StatusInternalServerError, first.Code)
	assert.Equal(t, []string{"k1"}, store.released)

	post(r, "k1", "buyer-1", `{}`)
	assert.Equal(t, 2, calls, "released key lets the retry run")
}

func TestIdempotency_PanicReleasesKey(t *testing.T) {
	store := newFakeStore()
	calls := 0

	r := gin.New()
	r.Use(Recovery())
	r.Use(ErrorHandler())
	r.Use(func(c *gin.Context) {
		ctx := appctx.WithUser(c.Request.Context(), &appctx.UserContext{UserID: c.GetHeader("X-User")})
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	})
	r.Use(Idempotency(store))
	r.POST("/invoices", func(c *gin.Context) {
		calls++
		if calls == 1 {
			panic("nil map write")
		}
		c.Status(http.StatusNoContent)
	})

	first := post(r, "k1", "buyer-1", `{}`)
	require.Equal(t, http.StatusInternalServerError, first.Code)
	assert.Equal(t, []string{"k1"}, store.released)

	second := post(r, "k1", "buyer-1", `{}`)
	assert.Equal(t, http.StatusNoContent, second.Code)
	assert.Equal(t, 2, calls)
}

func TestBodyLimit(t *testing.T) {
	r := gin.New()
	r.Use(BodyLimit(8))
	r.POST("/x", func(c *gin.Context) {
		_, err := io.ReadAll(c.Request.Body)
		if err != nil {
			c.Status(http.StatusRequestEntityTooLarge)
			return
		}
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("short")))
	assert.Equal(t, http.StatusOK, w.Code)

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/x", strings.NewReader("much too long")))
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}
