package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"golang.org/x/oauth2"

	"github.com/desertthunder/ytsync/internal/shared"
)

type fakeExchanger struct {
	codes []string
	err   error
}

func (f *fakeExchanger) Exchange(ctx context.Context, code string, opts ...oauth2.AuthCodeOption) (*oauth2.Token, error) {
	f.codes = append(f.codes, code)
	if f.err != nil {
		return nil, f.err
	}
	return &oauth2.Token{AccessToken: "access-" + code, RefreshToken: "refresh-" + code}, nil
}

func callback(t *testing.T, h http.Handler, query string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/callback?"+query, nil))
	return rec
}

func TestOAuthHandler(t *testing.T) {
	t.Run("exchanges code once", func(t *testing.T) {
		ex := &fakeExchanger{}
		h := NewOAuthHandler(ex, "state-1")

		rec := callback(t, h, "state=state-1&code=abc")
		if rec.Code != http.StatusOK {
			t.Fatalf("expected 200, got %d", rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "Spotify connected") {
			t.Errorf("unexpected body: %s", rec.Body.String())
		}

		result := <-h.Result()
		if result.Error() != nil || result.Token.RefreshToken != "refresh-abc" {
			t.Fatalf("unexpected result: %+v", result)
		}

		if rec := callback(t, h, "state=state-1&code=def"); rec.Code != http.StatusBadRequest {
			t.Errorf("second callback should be rejected, got %d", rec.Code)
		}
		if len(ex.codes) != 1 {
			t.Errorf("expected a single exchange, got %v", ex.codes)
		}
	})

	t.Run("state mismatch", func(t *testing.T) {
		ex := &fakeExchanger{}
		h := NewOAuthHandler(ex, "state-1")

		if rec := callback(t, h, "state=forged&code=abc"); rec.Code != http.StatusBadRequest {
			t.Errorf("expected 400, got %d", rec.Code)
		}
		result := <-h.Result()
		if !errors.Is(result.Error(), shared.ErrInvalidInput) {
			t.Errorf("expected ErrInvalidInput, got %v", result.Error())
		}
		if len(ex.codes) != 0 {
			t.Error("code must not be exchanged on state mismatch")
		}
	})

	t.Run("denied", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{}, "s")
		callback(t, h, "state=s&error=access_denied")
		result := <-h.Result()
		if result.Error() == nil || !strings.Contains(result.Error().Error(), "access_denied") {
			t.Errorf("expected access_denied error, got %v", result.Error())
		}
	})

	t.Run("exchange failure", func(t *testing.T) {
		h := NewOAuthHandler(&fakeExchanger{err: fmt.Errorf("invalid_grant")}, "s")
		if rec := callback(t, h, "state=s&code=abc"); rec.Code != http.StatusInternalServerError {
			t.Errorf("expected 500, got %d", rec.Code)
		}
		result := <-h.Result()
		if result.Error() == nil || !strings.Contains(result.Error().Error(), "invalid_grant") {
			t.Errorf("unexpected result error: %v", result.Error())
		}
	})
}

func TestBasicRouter(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}

	router := NewBasicRouter()
	router.Use(tag("outer"), tag("inner"))
	router.Handle(http.MethodGet, "/ping", http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		order = append(order, "handler")
		fmt.Fprint(w, "pong")
	}))

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ping", nil))
	if rec.Body.String() != "pong" {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if strings.Join(order, ",") != "outer,inner,handler" {
		t.Errorf("unexpected middleware order: %v", order)
	}

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/ping", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rec.Code)
	}
}

func TestCallbackServer(t *testing.T) {
	var logs bytes.Buffer
	handler := NewOAuthHandler(&fakeExchanger{}, "state-1")
	router := NewBasicRouter()
	router.Use(RequestLogger(shared.NewLogger(&logs)))
	router.Handler(handler)

	srv, err := Listen("127.0.0.1:0", router)
	if err != nil {
		t.Fatalf("Listen failed: %v", err)
	}
	defer srv.Close()

	t.Run("receives token", func(t *testing.T) {
		go func() {
			resp, err := http.Get("http://" + srv.Addr() + "/callback?state=state-1&code=xyz")
			if err == nil {
				resp.Body.Close()
			}
		}()

		token, err := srv.Wait(context.Background(), handler, 5*time.Second)
		if err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
		if token.AccessToken != "access-xyz" {
			t.Errorf("unexpected token: %+v", token)
		}
	})

	t.Run("times out", func(t *testing.T) {
		idle := NewOAuthHandler(&fakeExchanger{}, "other")
		_, err := srv.Wait(context.Background(), idle, 20*time.Millisecond)
		if !errors.Is(err, shared.ErrTimeout) {
			t.Errorf("expected ErrTimeout, got %v", err)
		}
	})

	t.Run("canceled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := srv.Wait(ctx, NewOAuthHandler(&fakeExchanger{}, "other"), time.Second)
		if !errors.Is(err, shared.ErrCanceled) {
			t.Errorf("expected ErrCanceled, got %v", err)
		}
	})
}
