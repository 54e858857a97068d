package content

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator"
	errorsx "github.com/instill-ai/x/errors"
)

var validate = validator.New()

// invalid builds a validation error carrying msg as its user-facing message.
func invalid(msg string) error {
	return errorsx.AddMessage(
		fmt.Errorf("%w: %s", errorsx.ErrInvalidArgument, strings.ToLower(strings.TrimSuffix(msg, "."))),
		msg,
	)
}

func notFound(id string) error {
	return errorsx.AddMessage(
		fmt.Errorf("content %s: %w", id, errorsx.ErrNotFound),
		"That content item is not part of this project.",
	)
}

// withFallback makes sure err carries a user-facing message.
func withFallback(err error, msg string) error {
	if errorsx.Message(err) != "" {
		return err
	}
	return errorsx.AddMessage(err, msg)
}
