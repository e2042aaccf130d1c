package auth

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/danmuck/edgerelay/internal/testutil/testlog"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

func TestStaticTokenValidate(t *testing.T) {
	testlog.Start(t)

	tests := []struct {
		name    string
		stored  string
		input   string
		wantErr error
	}{
		{name: "missing token", stored: "abc", input: "", wantErr: ErrTokenMissing},
		{name: "empty stored token denied", stored: "", input: "abc", wantErr: ErrUnauthorized},
		{name: "mismatched token denied", stored: "abc", input: "xyz", wantErr: ErrUnauthorized},
		{name: "matching token accepted", stored: "abc", input: "abc", wantErr: nil},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			log.Debug().Str("stored", tc.stored).Str("input", tc.input).Msg("auth/static-token")
			err := (StaticToken{Token: tc.stored}).Validate(tc.input)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("expected err %v, got %v", tc.wantErr, err)
			}
		})
	}
}

func TestFuncValidator(t *testing.T) {
	testlog.Start(t)

	validator := FuncValidator(func(token string) error {
		if token != "ok" {
			return ErrUnauthorized
		}
		return nil
	})

	if err := validator.Validate("bad"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected unauthorized for bad token, got %v", err)
	}
	if err := validator.Validate("ok"); err != nil {
		t.Fatalf("expected success for ok token, got %v", err)
	}
}

func gatedEngine() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(TokenGate(StaticToken{Token: "s3cret"}))
	handler := func(c *gin.Context) {
		body, _ := io.ReadAll(c.Request.Body)
		c.String(http.StatusOK, "ok:%s", body)
	}
	r.GET("/clients", handler)
	r.POST("/sendCommand", handler)
	return r
}

func TestTokenGateStatusCodes(t *testing.T) {
	testlog.Start(t)

	r := gatedEngine()
	tests := []struct {
		name   string
		req    func() *http.Request
		status int
	}{
		{
			name:   "missing token",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/clients", nil) },
			status: http.StatusBadRequest,
		},
		{
			name:   "wrong query token",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/clients?token=nope", nil) },
			status: http.StatusForbidden,
		},
		{
			name:   "query token",
			req:    func() *http.Request { return httptest.NewRequest(http.MethodGet, "/clients?token=s3cret", nil) },
			status: http.StatusOK,
		},
		{
			name: "header token",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodGet, "/clients", nil)
				req.Header.Set(HeaderToken, "s3cret")
				return req
			},
			status: http.StatusOK,
		},
		{
			name: "body token",
			req: func() *http.Request {
				req := httptest.NewRequest(http.MethodPost, "/sendCommand", strings.NewReader(`{"token":"s3cret","clientId":"A1"}`))
				req.Header.Set("Content-Type", "application/json")
				return req
			},
			status: http.StatusOK,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, tc.req())
			if rec.Code != tc.status {
				t.Fatalf("expected %d, got %d (%s)", tc.status, rec.Code, rec.Body.String())
			}
		})
	}
}

func TestTokenGateRestoresBody(t *testing.T) {
	testlog.Start(t)

	r := gatedEngine()
	body := `{"token":"s3cret","clientId":"A1","command":"screenshot"}`
	req := httptest.NewRequest(http.MethodPost, "/sendCommand", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "ok:"+body {
		t.Fatalf("body not restored: %q", rec.Body.String())
	}
}

func TestTokenGateKeepsLargeBodyIntact(t *testing.T) {
	testlog.Start(t)

	r := gatedEngine()
	body := `{"clientId":"A1","command":"upload","payload":"` + strings.Repeat("x", 2*MaxTokenBody) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/sendCommand?token=s3cret", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if got := rec.Body.Len(); got != len("ok:")+len(body) {
		t.Fatalf("body truncated: got %d bytes, want %d", got, len("ok:")+len(body))
	}
}

func TestTokenGateRejectsOversizedTokenBody(t *testing.T) {
	testlog.Start(t)

	r := gatedEngine()
	body := `{"payload":"` + strings.Repeat("x", 2*MaxTokenBody) + `","token":"s3cret"}`
	req := httptest.NewRequest(http.MethodPost, "/sendCommand", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"request body too large"`) {
		t.Fatalf("unexpected body: %s", rec.Body.String())
	}
}

func TestTokenFromRequestRestoresBodyPastLimit(t *testing.T) {
	testlog.Start(t)

	body := strings.Repeat("y", MaxTokenBody+512)
	req := httptest.NewRequest(http.MethodPost, "/sendCommand", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if _, err := TokenFromRequest(req); !errors.Is(err, ErrBodyTooLarge) {
		t.Fatalf("expected ErrBodyTooLarge, got %v", err)
	}
	restored, err := io.ReadAll(req.Body)
	if err != nil {
		t.Fatalf("read restored body: %v", err)
	}
	if len(restored) != len(body) {
		t.Fatalf("restored %d bytes, want %d", len(restored), len(body))
	}
}

func TestTokenGateErrorBodies(t *testing.T) {
	testlog.Start(t)

	r := gatedEngine()
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients", nil))
	if !strings.Contains(rec.Body.String(), `"token required"`) {
		t.Fatalf("unexpected missing-token body: %s", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/clients?token=x", nil))
	if !strings.Contains(rec.Body.String(), `"access denied: invalid token"`) {
		t.Fatalf("unexpected denied body: %s", rec.Body.String())
	}
}
