package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/storyloom/storyloom-api/internal/config"
	"github.com/storyloom/storyloom-api/internal/pipeline"
	"google.golang.org/genai"
)

// moderationInstruction asks the model for a bare verdict so the reply can
// be parsed without a schema.
const moderationInstruction = `You are a content safety reviewer for a book illustration service.
Review the scene description below and decide whether an illustration of it
is appropriate for a general audience. Reply with exactly one word:
ALLOW if the content is acceptable, BLOCK if it is not.

Scene description:
`

// textAPI is the slice of the genai client the moderation provider depends
// on. client.Models satisfies it; tests substitute a fake.
type textAPI interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// ModerationProvider implements pipeline.Moderation by asking a Gemini text
// model for an ALLOW/BLOCK verdict on prompt text.
type ModerationProvider struct {
	logger *slog.Logger
	config config.LLMConfig
	api    textAPI
}

// Compile-time interface check.
var _ pipeline.Moderation = (*ModerationProvider)(nil)

// NewModerationProvider creates a ModerationProvider bound to the given client.
func NewModerationProvider(
	logger *slog.Logger,
	cfg config.LLMConfig,
	client *genai.Client,
) (*ModerationProvider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if client == nil {
		return nil, errors.New("client cannot be nil")
	}
	if cfg.ModerationModel == "" {
		return nil, fmt.Errorf("%w: moderation model cannot be empty", ErrInvalidConfig)
	}

	return &ModerationProvider{
		logger: logger.With(slog.String("component", "gemini_moderation")),
		config: cfg,
		api:    client.Models,
	}, nil
}

// CheckText screens the text and returns an error wrapping
// pipeline.ErrModerationBlocked when the verdict is BLOCK. Transient API
// failures are retried; a block is permanent.
func (p *ModerationProvider) CheckText(ctx context.Context, text string) error {
	if text == "" {
		return ErrEmptyPrompt
	}

	contents := genai.Text(moderationInstruction + text)

	return retry.Do(
		func() error {
			resp, err := p.api.GenerateContent(ctx, p.config.ModerationModel, contents, nil)
			if err != nil {
				p.logger.WarnContext(ctx, "gemini moderation call failed",
					slog.String("model", p.config.ModerationModel),
					slog.String("error", err.Error()))
				return err
			}
			return evaluateVerdict(resp)
		},
		retry.Context(ctx),
		retry.Attempts(p.attempts()),
		retry.Delay(p.baseDelay()),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
}

func (p *ModerationProvider) attempts() uint {
	if p.config.MaxRetries < 0 {
		return 1
	}
	return uint(p.config.MaxRetries) + 1
}

func (p *ModerationProvider) baseDelay() time.Duration {
	if p.config.RetryDelaySeconds < 1 {
		return 2 * time.Second
	}
	return time.Duration(p.config.RetryDelaySeconds) * time.Second
}

// evaluateVerdict interprets the model reply. A safety-filtered response
// counts as a block: if the model refuses to even discuss the text, the
// image provider certainly should not render it.
func evaluateVerdict(resp *genai.GenerateContentResponse) error {
	if resp == nil || len(resp.Candidates) == 0 {
		return fmt.Errorf("%w: no candidates in moderation response", ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return fmt.Errorf("%w: moderation model refused the text", pipeline.ErrModerationBlocked)
	}

	verdict := parseVerdict(candidateText(candidate))
	switch verdict {
	case "ALLOW":
		return nil
	case "BLOCK":
		return fmt.Errorf("%w: content rejected by moderation", pipeline.ErrModerationBlocked)
	default:
		return fmt.Errorf("%w: unrecognized moderation verdict %q", ErrInvalidResponse, verdict)
	}
}

// candidateText concatenates the text parts of a candidate.
func candidateText(candidate *genai.Candidate) string {
	if candidate == nil || candidate.Content == nil {
		return ""
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	return sb.String()
}

// parseVerdict extracts the first token of the reply, tolerating extra
// prose after the verdict word.
func parseVerdict(text string) string {
	fields := strings.Fields(strings.ToUpper(strings.TrimSpace(text)))
	if len(fields) == 0 {
		return ""
	}
	return strings.Trim(fields[0], ".,:;!")
}
