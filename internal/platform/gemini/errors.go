package gemini

import "errors"

// Error definitions for the gemini package.
var (
	// ErrInvalidConfig is returned when the provider configuration is
	// missing or malformed.
	ErrInvalidConfig = errors.New("invalid gemini configuration")

	// ErrEmptyPrompt is returned when a request carries no prompt text.
	ErrEmptyPrompt = errors.New("prompt cannot be empty")

	// ErrInvalidResponse is returned when the API responds without a
	// usable image or verdict.
	ErrInvalidResponse = errors.New("invalid gemini response")
)
