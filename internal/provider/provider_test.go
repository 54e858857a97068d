package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	errorsx "github.com/instill-ai/x/errors"

	"github.com/TobiSchelling/tunedesk/internal/api"
)

type fakeChecker struct {
	result api.KeyVerification
	err    error
	calls  int
}

func (f *fakeChecker) VerifyProviderAPIKey(context.Context, string, string) (api.KeyVerification, error) {
	f.calls++
	return f.result, f.err
}

func intp(n int) *int { return &n }

func TestBackendZeroCreditsIsInvalid(t *testing.T) {
	fc := &fakeChecker{result: api.KeyVerification{Valid: true, Credits: intp(0)}}
	v, err := NewBackend(fc, nil).Verify(context.Background(), OpenAI, "sk-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Valid {
		t.Error("expected key with zero credits to be invalid")
	}
	if v.Message == "" {
		t.Error("expected explanation message")
	}
}

func TestBackendUnknownCreditsStayValid(t *testing.T) {
	fc := &fakeChecker{result: api.KeyVerification{Valid: true, Message: "ok"}}
	v, err := NewBackend(fc, nil).Verify(context.Background(), OpenAI, "sk-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Valid || v.Credits != nil {
		t.Errorf("unexpected verification %+v", v)
	}
	if v.CheckedAt.IsZero() {
		t.Error("expected check time to be set")
	}
}

func TestBackendPositiveCredits(t *testing.T) {
	fc := &fakeChecker{result: api.KeyVerification{Valid: true, Credits: intp(12)}}
	v, _ := NewBackend(fc, nil).Verify(context.Background(), OpenAI, "sk-1")
	if !v.Valid || *v.Credits != 12 {
		t.Errorf("unexpected verification %+v", v)
	}
}

func TestEmptyKeyRejectedBeforeCall(t *testing.T) {
	fc := &fakeChecker{}
	_, err := NewBackend(fc, nil).Verify(context.Background(), OpenAI, "  ")
	if !errors.Is(err, errorsx.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
	if fc.calls != 0 {
		t.Errorf("expected no backend call, got %d", fc.calls)
	}
}

func TestBackendErrorPropagates(t *testing.T) {
	fc := &fakeChecker{err: errors.New("down")}
	if _, err := NewBackend(fc, nil).Verify(context.Background(), OpenAI, "sk-1"); err == nil {
		t.Error("expected error")
	}
}

func newOpenAIServer(t *testing.T, status int) *OpenAIVerifier {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer sk-test" {
			t.Errorf("unexpected authorization %q", r.Header.Get("Authorization"))
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		if status == http.StatusOK {
			w.Write([]byte(`{"object":"list","data":[{"id":"gpt-4o-mini","object":"model","created":1,"owned_by":"openai"},{"id":"gpt-4o","object":"model","created":1,"owned_by":"openai"}]}`))
			return
		}
		w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`))
	}))
	t.Cleanup(srv.Close)
	v := NewOpenAI(nil)
	v.baseURL = srv.URL + "/v1/"
	return v
}

func TestOpenAIVerifierAcceptsKey(t *testing.T) {
	v, err := newOpenAIServer(t, http.StatusOK).Verify(context.Background(), OpenAI, "sk-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !v.Valid || v.Credits != nil {
		t.Errorf("unexpected verification %+v", v)
	}
}

func TestOpenAIVerifierRejectsKey(t *testing.T) {
	v, err := newOpenAIServer(t, http.StatusUnauthorized).Verify(context.Background(), OpenAI, "sk-test")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if v.Valid {
		t.Error("expected key to be rejected")
	}
}

func TestOpenAIVerifierOtherProvider(t *testing.T) {
	_, err := NewOpenAI(nil).Verify(context.Background(), "anthropic", "k")
	if !errors.Is(err, errorsx.ErrInvalidArgument) {
		t.Errorf("expected invalid argument, got %v", err)
	}
}

func TestNewModes(t *testing.T) {
	if v, err := New("", &fakeChecker{}, nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	} else if _, ok := v.(*Backend); !ok {
		t.Errorf("expected backend verifier, got %T", v)
	}
	if v, _ := New(ModeDirect, nil, nil); v == nil {
		t.Error("expected openai verifier")
	}
	if _, err := New("magic", nil, nil); err == nil {
		t.Error("expected error for unknown mode")
	}
}
