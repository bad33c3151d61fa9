package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseLimit(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"", 1 << 20},
		{"512", 512},
		{"10K", 10 << 10},
		{"10kb", 10 << 10},
		{"1M", 1 << 20},
		{"2MB", 2 << 20},
		{"1G", 1 << 30},
		{"abc", 1 << 20},
		{"-5", 1 << 20},
	}
	for _, tt := range tests {
		if got := parseLimit(tt.in); got != tt.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPut, "/api/v1/orders/ord-1/drafts/a-1", strings.NewReader(`{"value":"12"}`))
	c := e.NewContext(req, httptest.NewRecorder())

	var body string
	h := BodyLimit("1K")(func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		body = string(b)
		return err
	})
	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if body != `{"value":"12"}` {
		t.Errorf("body = %q", body)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 100)))
	c := e.NewContext(req, httptest.NewRecorder())

	called := false
	h := BodyLimit("50")(func(c echo.Context) error {
		called = true
		return nil
	})
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %v", err)
	}
	if called {
		t.Error("handler must not run")
	}
}

func TestBodyLimit_EnforcesLimitDuringRead(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(strings.Repeat("x", 100)))
	req.ContentLength = -1
	c := e.NewContext(req, httptest.NewRecorder())

	h := BodyLimit("50")(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})
	err := h(c)
	he, ok := err.(*echo.HTTPError)
	if !ok || he.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 while reading, got %v", err)
	}
}

func TestBodyLimit_SkipsEmptyBody(t *testing.T) {
	e := echo.New()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder())
	called := false
	h := BodyLimit("1")(func(c echo.Context) error {
		called = true
		return nil
	})
	if err := h(c); err != nil || !called {
		t.Errorf("expected pass-through, err=%v called=%v", err, called)
	}
}
