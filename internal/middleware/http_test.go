package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"salesflow/internal/service"

	"github.com/gin-gonic/gin"
)

func TestHttpMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	for i := 0; i < 2; i++ {
		// building the middleware twice must not re-register metrics
		r := gin.New()
		r.Use(HttpMiddleware())
		r.GET("/test", func(c *gin.Context) {
			c.Status(200)
		})

		w := httptest.NewRecorder()
		req, _ := http.NewRequest("GET", "/test", nil)
		r.ServeHTTP(w, req)

		if w.Code != 200 {
			t.Errorf("expected 200, got %d", w.Code)
		}
	}
}

type staticSecret string

func (s staticSecret) CheckSecret(provided string) error {
	if provided != string(s) {
		return errors.New("bad secret")
	}
	return nil
}

func TestWebhookSecretMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/hook", WebhookSecretMiddleware(staticSecret("s3cret")), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	for _, tc := range []struct {
		header string
		want   int
	}{
		{"s3cret", http.StatusOK},
		{"wrong", http.StatusForbidden},
		{"", http.StatusForbidden},
	} {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodPost, "/hook", nil)
		if tc.header != "" {
			req.Header.Set(SecretTokenHeader, tc.header)
		}
		r.ServeHTTP(w, req)
		if w.Code != tc.want {
			t.Errorf("header %q: got %d, want %d", tc.header, w.Code, tc.want)
		}
	}
}

type fakeParser struct{}

func (fakeParser) ParseToken(token string) (*service.UserClaims, error) {
	if token != "good" {
		return nil, service.ErrTokenInvalid
	}
	return &service.UserClaims{UserID: "operator", Username: "ops", Role: "admin"}, nil
}

func TestJWTMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/me", JWTMiddleware(fakeParser{}), func(c *gin.Context) {
		c.String(http.StatusOK, service.GetOperator(c.Request.Context()))
	})

	cases := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{name: "bearer", header: "Bearer good", want: http.StatusOK},
		{name: "query token", query: "?token=good", want: http.StatusOK},
		{name: "missing", want: http.StatusUnauthorized},
		{name: "invalid", header: "Bearer bad", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic good", want: http.StatusUnauthorized},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/me"+tc.query, nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			r.ServeHTTP(w, req)
			if w.Code != tc.want {
				t.Fatalf("got %d, want %d", w.Code, tc.want)
			}
			if tc.want == http.StatusOK && w.Body.String() != "ops" {
				t.Errorf("operator = %q", w.Body.String())
			}
		})
	}
}

func TestTraceMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(RequestID(), TraceMiddleware())
	r.GET("/x", func(c *gin.Context) { c.String(http.StatusOK, c.GetString(TraceIDKey)) })

	const upstream = "0b9f0e4c-6a3d-4c47-9c43-3a4a9c2f1d10"
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Trace-ID", upstream)
	r.ServeHTTP(w, req)
	if w.Body.String() != upstream || w.Header().Get("X-Trace-ID") != upstream {
		t.Errorf("trace id not propagated: %q", w.Body.String())
	}
	if w.Header().Get("X-Request-ID") == "" {
		t.Error("missing request id")
	}

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("X-Trace-ID", "not-a-uuid")
	r.ServeHTTP(w, req)
	if w.Body.String() == "not-a-uuid" {
		t.Error("malformed trace id accepted")
	}
}
