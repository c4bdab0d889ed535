package directory

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

func newTestClient(t *testing.T, srv *httptest.Server, maxRetries int) *Client {
	t.Helper()
	c, err := NewClient(StaticToken("test-token"), ClientConfig{
		GraphURL:          srv.URL + "/v1.0",
		PageSize:          2,
		RequestsPerSecond: 1000,
		MaxRetries:        maxRetries,
		BaseBackoff:       time.Millisecond,
		HTTPClient:        srv.Client(),
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func user(id, name, managerID string) map[string]any {
	u := map[string]any{
		"id":          id,
		"displayName": name,
		"jobTitle":    "Engineer",
		"department":  "R&D",
		"mail":        id + "@example.com",
	}
	if managerID != "" {
		u["manager"] = map[string]any{"id": managerID, "displayName": "m"}
	}
	return u
}

// TestNewClient tests constructor validation.
func TestNewClient(t *testing.T) {
	_, err := NewClient(nil, ClientConfig{GraphURL: "https://graph.example.com"}, zap.NewNop())
	assert.Error(t, err)

	_, err = NewClient(StaticToken("x"), ClientConfig{GraphURL: "https://graph.example.com"}, nil)
	assert.Error(t, err)

	_, err = NewClient(StaticToken("x"), ClientConfig{GraphURL: "not a url"}, zap.NewNop())
	assert.Error(t, err)

	c, err := NewClient(StaticToken("x"), ClientConfig{GraphURL: "https://graph.example.com/v1.0/"}, zap.NewNop())
	require.NoError(t, err)
	assert.Contains(t, c.FirstPageURL(), "https://graph.example.com/v1.0/users?")
	assert.Contains(t, c.FirstPageURL(), "%24top=999")
}

// TestClient_Fetch tests paging through users with the manager expanded.
func TestClient_Fetch(t *testing.T) {
	var srv *httptest.Server
	srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))
		switch r.URL.Query().Get("page") {
		case "":
			assert.Equal(t, "/v1.0/users", r.URL.Path)
			assert.Equal(t, "2", r.URL.Query().Get("$top"))
			assert.Contains(t, r.URL.Query().Get("$expand"), "manager")
			writeJSON(w, http.StatusOK, map[string]any{
				"value":           []any{user("1", "Ceo", ""), user("2", "Vp", "1")},
				"@odata.nextLink": srv.URL + "/v1.0/users?page=2",
			})
		case "2":
			writeJSON(w, http.StatusOK, map[string]any{
				"value": []any{user("3", "Eng", "2"), map[string]any{"id": "4", "displayName": nil}},
			})
		default:
			t.Errorf("unexpected page %q", r.URL.Query().Get("page"))
		}
	}))
	defer srv.Close()

	recs, err := newTestClient(t, srv, 0).Fetch(context.Background())
	require.NoError(t, err)
	require.Len(t, recs, 4)

	assert.Equal(t, "1", recs[0].ID)
	assert.Equal(t, "", recs[0].ManagerID)
	assert.Equal(t, "1", recs[1].ManagerID)
	assert.Equal(t, "2", recs[2].ManagerID)
	assert.Equal(t, "2@example.com", recs[1].Email)
	assert.Equal(t, "", recs[3].Name)
}

// TestClient_Errors tests status classification.
func TestClient_Errors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, ErrUnauthorized},
		{"forbidden", http.StatusForbidden, ErrForbidden},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls.Add(1)
				writeJSON(w, tt.status, map[string]any{
					"error": map[string]string{"code": "Authorization_RequestDenied", "message": "denied"},
				})
			}))
			defer srv.Close()

			_, err := newTestClient(t, srv, 3).Fetch(context.Background())
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.want), "got %v", err)
			assert.Contains(t, err.Error(), "denied")
			assert.Equal(t, int32(1), calls.Load(), "auth errors must not be retried")
		})
	}

	t.Run("bad request not retried", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusBadRequest)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv, 3).Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "400")
		assert.Equal(t, int32(1), calls.Load())
	})
}

// TestClient_Retry tests retries on throttling and server errors.
func TestClient_Retry(t *testing.T) {
	t.Run("throttled then ok", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if calls.Add(1) == 1 {
				w.Header().Set("Retry-After", "1")
				w.WriteHeader(http.StatusTooManyRequests)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"value": []any{user("1", "Ceo", "")}})
		}))
		defer srv.Close()

		start := time.Now()
		recs, err := newTestClient(t, srv, 2).Fetch(context.Background())
		require.NoError(t, err)
		assert.Len(t, recs, 1)
		assert.Equal(t, int32(2), calls.Load())
		assert.GreaterOrEqual(t, time.Since(start), time.Second, "Retry-After must be honored")
	})

	t.Run("server errors exhaust retries", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusServiceUnavailable)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv, 2).Fetch(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "max retries exceeded")
		assert.Equal(t, int32(3), calls.Load())
	})

	t.Run("retries disabled", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			w.WriteHeader(http.StatusInternalServerError)
		}))
		defer srv.Close()

		_, err := newTestClient(t, srv, -1).Fetch(context.Background())
		require.Error(t, err)
		assert.Equal(t, int32(1), calls.Load())
	})
}

// TestClient_BreakerOpens tests that repeated failures stop further requests.
func TestClient_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := newTestClient(t, srv, 10)
	_, err := c.Fetch(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnavailable), "got %v", err)
	assert.Equal(t, int32(5), calls.Load())
}

// TestClient_InvalidCursor tests that next links to another host are refused.
func TestClient_InvalidCursor(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"value":           []any{user("1", "Ceo", "")},
			"@odata.nextLink": "https://evil.example.com/users?page=2",
		})
	}))
	defer srv.Close()

	_, err := newTestClient(t, srv, 0).Fetch(context.Background())
	assert.ErrorIs(t, err, ErrInvalidCursor)
}

// TestClient_ContextCanceled tests that a canceled context stops paging.
func TestClient_ContextCanceled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c, err := NewClient(StaticToken("t"), ClientConfig{
		GraphURL:          srv.URL,
		RequestsPerSecond: 1000,
		BaseBackoff:       time.Hour,
		HTTPClient:        srv.Client(),
	}, zap.NewNop())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = c.Fetch(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestParseRetryAfter(t *testing.T) {
	assert.Equal(t, 5*time.Second, parseRetryAfter("5"))
	assert.Equal(t, maxRetryAfter, parseRetryAfter("3600"))
	assert.Equal(t, time.Duration(0), parseRetryAfter(""))
	assert.Equal(t, time.Duration(0), parseRetryAfter("Wed, 21 Oct 2015 07:28:00 GMT"))
}

// TestClientCredentials tests token acquisition and error mapping.
func TestClientCredentials(t *testing.T) {
	t.Run("token cached", func(t *testing.T) {
		var calls atomic.Int32
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
			assert.NoError(t, r.ParseForm())
			assert.Equal(t, "client_credentials", r.PostForm.Get("grant_type"))
			assert.Equal(t, "app", r.PostForm.Get("client_id"))
			assert.Equal(t, "s3cret", r.PostForm.Get("client_secret"))
			assert.Equal(t, GraphScope, r.PostForm.Get("scope"))
			writeJSON(w, http.StatusOK, map[string]any{
				"access_token": "abc",
				"token_type":   "Bearer",
				"expires_in":   3600,
			})
		}))
		defer srv.Close()

		cc := NewClientCredentials(srv.URL+"/token", "app", "s3cret", srv.Client())
		for i := 0; i < 3; i++ {
			tok, err := cc.Token(context.Background())
			require.NoError(t, err)
			assert.Equal(t, "abc", tok)
		}
		assert.Equal(t, int32(1), calls.Load())
	})

	t.Run("invalid client", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusUnauthorized, map[string]any{
				"error":             "invalid_client",
				"error_description": "AADSTS7000215: Invalid client secret provided.",
			})
		}))
		defer srv.Close()

		cc := NewClientCredentials(srv.URL+"/token", "app", "wrong", srv.Client())
		_, err := cc.Token(context.Background())
		assert.ErrorIs(t, err, ErrUnauthorized)
	})

	t.Run("endpoint down", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer srv.Close()

		cc := NewClientCredentials(srv.URL+"/token", "app", "s", srv.Client())
		_, err := cc.Token(context.Background())
		assert.ErrorIs(t, err, ErrUnavailable)
	})
}
