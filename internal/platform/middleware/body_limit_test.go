package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func bodyLimitContext(body io.Reader) (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/prescriptions", body)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestBodyLimit_AllowsWithinLimit(t *testing.T) {
	c, rec := bodyLimitContext(bytes.NewReader(bytes.Repeat([]byte("x"), 512)))

	h := BodyLimit("1K")(func(c echo.Context) error {
		data, err := io.ReadAll(c.Request().Body)
		if err != nil {
			return err
		}
		if len(data) != 512 {
			t.Errorf("expected to read 512 bytes, got %d", len(data))
		}
		return c.String(http.StatusOK, "ok")
	})

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestBodyLimit_RejectsByContentLength(t *testing.T) {
	c, rec := bodyLimitContext(bytes.NewReader(bytes.Repeat([]byte("x"), 2048)))

	called := false
	h := BodyLimit("1K")(func(c echo.Context) error {
		called = true
		return nil
	})

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if called {
		t.Error("handler should not be called when body exceeds limit")
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to parse response body: %v", err)
	}
	if body["error"] == "" {
		t.Error("expected error message in 413 response")
	}
}

func TestBodyLimit_RejectsStreamedOverflow(t *testing.T) {
	// Strip Content-Length so the limiting reader has to catch the overflow.
	c, _ := bodyLimitContext(io.NopCloser(bytes.NewReader(bytes.Repeat([]byte("x"), 2048))))
	c.Request().ContentLength = -1

	h := BodyLimit("1K")(func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	})

	err := h(c)
	if err == nil {
		t.Fatal("expected error when streamed body exceeds limit")
	}
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413 HTTPError, got %v", err)
	}
}

func TestBodyLimit_NoBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/prescriptions", nil)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	h := BodyLimit("1K")(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	if err := h(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
}

func TestParseLimit(t *testing.T) {
	cases := []struct {
		in   string
		want int64
	}{
		{"1K", 1 << 10},
		{"512K", 512 << 10},
		{"1M", 1 << 20},
		{"10M", 10 << 20},
		{"1G", 1 << 30},
		{"2048", 2048},
		{"", 1 << 20},
		{"garbage", 1 << 20},
	}
	for _, tc := range cases {
		if got := parseLimit(tc.in); got != tc.want {
			t.Errorf("parseLimit(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}
