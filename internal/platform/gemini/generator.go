package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/storyloom/storyloom-api/internal/config"
	"github.com/storyloom/storyloom-api/internal/pipeline"
	"google.golang.org/genai"
)

// imagesAPI is the slice of the genai client the generator depends on.
// client.Models satisfies it; tests substitute a fake.
type imagesAPI interface {
	GenerateImages(
		ctx context.Context,
		model string,
		prompt string,
		config *genai.GenerateImagesConfig,
	) (*genai.GenerateImagesResponse, error)
}

// ImageProvider implements pipeline.ImageGenerator on top of Gemini's
// image generation models.
type ImageProvider struct {
	logger *slog.Logger
	config config.LLMConfig
	api    imagesAPI
}

// Compile-time interface check.
var _ pipeline.ImageGenerator = (*ImageProvider)(nil)

// NewImageProvider creates an ImageProvider bound to the given client.
func NewImageProvider(
	logger *slog.Logger,
	cfg config.LLMConfig,
	client *genai.Client,
) (*ImageProvider, error) {
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if client == nil {
		return nil, errors.New("client cannot be nil")
	}
	if cfg.ImageModelName == "" {
		return nil, fmt.Errorf("%w: image model name cannot be empty", ErrInvalidConfig)
	}

	return &ImageProvider{
		logger: logger.With(slog.String("component", "gemini_image_provider")),
		config: cfg,
		api:    client.Models,
	}, nil
}

// Name identifies the provider for attempt bookkeeping.
func (p *ImageProvider) Name() string {
	return "gemini/" + p.config.ImageModelName
}

// GenerateImage produces one illustration for the request prompt. Transient
// API failures are retried with exponential backoff; safety rejections and
// malformed responses are permanent and returned immediately.
func (p *ImageProvider) GenerateImage(
	ctx context.Context,
	req pipeline.ImageRequest,
) (*pipeline.GeneratedImage, error) {
	if req.Prompt == "" {
		return nil, ErrEmptyPrompt
	}

	genCfg := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: mimeTypeFor(req.Format),
		AspectRatio:    aspectRatioFor(req.Width, req.Height),
	}

	var image *pipeline.GeneratedImage
	err := retry.Do(
		func() error {
			resp, err := p.api.GenerateImages(ctx, p.config.ImageModelName, req.Prompt, genCfg)
			if err != nil {
				p.logger.WarnContext(ctx, "gemini image call failed",
					slog.String("model", p.config.ImageModelName),
					slog.String("error", err.Error()))
				return err
			}

			image, err = p.extractImage(resp, req)
			return err
		},
		retry.Context(ctx),
		retry.Attempts(p.attempts()),
		retry.Delay(p.baseDelay()),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(isTransient),
	)
	if err != nil {
		return nil, err
	}

	return image, nil
}

// extractImage pulls the first generated image out of the response,
// distinguishing safety filtering from a malformed reply.
func (p *ImageProvider) extractImage(
	resp *genai.GenerateImagesResponse,
	req pipeline.ImageRequest,
) (*pipeline.GeneratedImage, error) {
	if resp == nil || len(resp.GeneratedImages) == 0 {
		return nil, fmt.Errorf("%w: no image in response", ErrInvalidResponse)
	}

	generated := resp.GeneratedImages[0]
	if generated.RAIFilteredReason != "" {
		return nil, fmt.Errorf("%w: %s", pipeline.ErrModerationBlocked, generated.RAIFilteredReason)
	}
	if generated.Image == nil || len(generated.Image.ImageBytes) == 0 {
		return nil, fmt.Errorf("%w: empty image payload", ErrInvalidResponse)
	}

	format := generated.Image.MIMEType
	if format == "" {
		format = mimeTypeFor(req.Format)
	}

	return &pipeline.GeneratedImage{
		Data:   generated.Image.ImageBytes,
		Format: format,
		Width:  req.Width,
		Height: req.Height,
	}, nil
}

func (p *ImageProvider) attempts() uint {
	if p.config.MaxRetries < 0 {
		return 1
	}
	return uint(p.config.MaxRetries) + 1
}

func (p *ImageProvider) baseDelay() time.Duration {
	if p.config.RetryDelaySeconds < 1 {
		return 2 * time.Second
	}
	return time.Duration(p.config.RetryDelaySeconds) * time.Second
}

// isTransient reports whether a failed call is worth retrying. Safety
// blocks and structurally invalid responses will not improve on retry.
func isTransient(err error) bool {
	return !errors.Is(err, pipeline.ErrModerationBlocked) &&
		!errors.Is(err, ErrInvalidResponse)
}

// mimeTypeFor maps a configured output format to its MIME type. Values
// already in MIME form pass through; unknown formats fall back to PNG.
func mimeTypeFor(format string) string {
	switch format {
	case "png", "image/png", "":
		return "image/png"
	case "jpg", "jpeg", "image/jpeg":
		return "image/jpeg"
	case "webp", "image/webp":
		return "image/webp"
	default:
		return "image/png"
	}
}

// aspectRatioFor picks the supported aspect ratio closest to the requested
// dimensions. Gemini image models accept a fixed set of ratios rather than
// arbitrary pixel sizes.
func aspectRatioFor(width, height int) string {
	if width <= 0 || height <= 0 {
		return "1:1"
	}

	target := float64(width) / float64(height)
	ratios := []struct {
		name  string
		value float64
	}{
		{"1:1", 1.0},
		{"3:4", 3.0 / 4.0},
		{"4:3", 4.0 / 3.0},
		{"9:16", 9.0 / 16.0},
		{"16:9", 16.0 / 9.0},
	}

	best := ratios[0]
	bestDiff := diff(target, best.value)
	for _, r := range ratios[1:] {
		if d := diff(target, r.value); d < bestDiff {
			best = r
			bestDiff = d
		}
	}
	return best.name
}

func diff(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}
