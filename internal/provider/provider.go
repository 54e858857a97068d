// Package provider checks third-party fine-tuning API keys before a job is launched.
package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	errorsx "github.com/instill-ai/x/errors"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/TobiSchelling/tunedesk/internal/api"
	"github.com/TobiSchelling/tunedesk/internal/logger"
)

const (
	OpenAI = "openai"

	ModeBackend = "backend"
	ModeDirect  = "openai"
)

// Verification is the outcome of checking a key. Credits is nil when the
// provider does not report a balance.
type Verification struct {
	Provider  string    `json:"provider"`
	Valid     bool      `json:"valid"`
	Credits   *int      `json:"credits,omitempty"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Verifier checks an API key for a provider.
type Verifier interface {
	Verify(ctx context.Context, provider, key string) (Verification, error)
}

// KeyChecker is the backend verification endpoint.
type KeyChecker interface {
	VerifyProviderAPIKey(ctx context.Context, provider, key string) (api.KeyVerification, error)
}

// New returns the verifier selected by mode.
func New(mode string, backend KeyChecker, log *logger.Logger) (Verifier, error) {
	switch mode {
	case "", ModeBackend:
		return NewBackend(backend, log), nil
	case ModeDirect:
		return NewOpenAI(log), nil
	}
	return nil, fmt.Errorf("unknown verify mode %q", mode)
}

func checkInput(provider, key string) error {
	if strings.TrimSpace(provider) == "" {
		return errorsx.AddMessage(fmt.Errorf("%w: empty provider", errorsx.ErrInvalidArgument), "Choose a provider.")
	}
	if strings.TrimSpace(key) == "" {
		return errorsx.AddMessage(fmt.Errorf("%w: empty api key", errorsx.ErrInvalidArgument), "Enter an API key.")
	}
	return nil
}

// applyCredits marks a key with zero credits left as unusable.
func applyCredits(v Verification) Verification {
	if v.Valid && v.Credits != nil && *v.Credits <= 0 {
		v.Valid = false
		v.Message = "The key is valid but has no credits left."
	}
	return v
}

// Backend verifies keys through the backend.
type Backend struct {
	checker KeyChecker
	log     *logger.Logger
}

// NewBackend creates a backend verifier.
func NewBackend(checker KeyChecker, log *logger.Logger) *Backend {
	if log == nil {
		log = logger.Nop()
	}
	return &Backend{checker: checker, log: log}
}

// Verify implements Verifier.
func (b *Backend) Verify(ctx context.Context, provider, key string) (Verification, error) {
	if err := checkInput(provider, key); err != nil {
		return Verification{}, err
	}
	kv, err := b.checker.VerifyProviderAPIKey(ctx, provider, key)
	if err != nil {
		return Verification{}, fmt.Errorf("verifying %s key: %w", provider, err)
	}
	v := applyCredits(Verification{
		Provider:  provider,
		Valid:     kv.Valid,
		Credits:   kv.Credits,
		Message:   kv.Message,
		CheckedAt: time.Now().UTC(),
	})
	b.log.Info("provider key verified", "provider", provider, "valid", v.Valid)
	return v, nil
}

// OpenAIVerifier checks OpenAI keys directly by listing models. OpenAI does
// not expose a balance, so Credits stays nil.
type OpenAIVerifier struct {
	baseURL string
	log     *logger.Logger
}

// NewOpenAI creates a direct OpenAI verifier.
func NewOpenAI(log *logger.Logger) *OpenAIVerifier {
	if log == nil {
		log = logger.Nop()
	}
	return &OpenAIVerifier{log: log}
}

// Verify implements Verifier.
func (o *OpenAIVerifier) Verify(ctx context.Context, provider, key string) (Verification, error) {
	if err := checkInput(provider, key); err != nil {
		return Verification{}, err
	}
	if provider != OpenAI {
		return Verification{}, errorsx.AddMessage(
			fmt.Errorf("%w: provider %s", errorsx.ErrInvalidArgument, provider),
			"Direct verification only supports OpenAI keys.",
		)
	}

	opts := []option.RequestOption{option.WithAPIKey(key), option.WithMaxRetries(0)}
	if o.baseURL != "" {
		opts = append(opts, option.WithBaseURL(o.baseURL))
	}
	client := openai.NewClient(opts...)

	v := Verification{Provider: provider, CheckedAt: time.Now().UTC()}
	page, err := client.Models.List(ctx)
	if err != nil {
		var apiErr *openai.Error
		if errors.As(err, &apiErr) && (apiErr.StatusCode == http.StatusUnauthorized || apiErr.StatusCode == http.StatusForbidden) {
			v.Message = "OpenAI rejected the key."
			o.log.Info("provider key rejected", "provider", provider, "status", apiErr.StatusCode)
			return v, nil
		}
		return Verification{}, errorsx.AddMessage(
			fmt.Errorf("listing openai models: %w", err),
			"Could not reach OpenAI to check the key.",
		)
	}

	v.Valid = true
	v.Message = fmt.Sprintf("Key accepted, %d models available.", len(page.Data))
	o.log.Info("provider key verified", "provider", provider, "models", len(page.Data))
	return v, nil
}
