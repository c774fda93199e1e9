// Package gemini provides the Gemini-backed implementations of the
// pipeline.ImageGenerator and pipeline.Moderation interfaces.
//
// This package is an infrastructure adapter: it translates between the
// pipeline's provider-neutral requests and Google's genai client without
// exposing the external service to the core application. Transient API
// failures are retried with exponential backoff; safety blocks surface as
// pipeline.ErrModerationBlocked and are never retried.
package gemini
