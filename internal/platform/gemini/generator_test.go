package gemini

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/storyloom/storyloom-api/internal/config"
	"github.com/storyloom/storyloom-api/internal/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

type fakeImagesAPI struct {
	calls     int
	responses []*genai.GenerateImagesResponse
	errs      []error
}

func (f *fakeImagesAPI) GenerateImages(
	_ context.Context,
	_ string,
	_ string,
	_ *genai.GenerateImagesConfig,
) (*genai.GenerateImagesResponse, error) {
	i := f.calls
	f.calls++
	if i < len(f.errs) && f.errs[i] != nil {
		return nil, f.errs[i]
	}
	if i < len(f.responses) {
		return f.responses[i], nil
	}
	return nil, errors.New("unexpected call")
}

func testImageProvider(api imagesAPI, maxRetries int) *ImageProvider {
	return &ImageProvider{
		logger: slog.Default(),
		config: config.LLMConfig{
			ImageModelName:    "imagen-test",
			MaxRetries:        maxRetries,
			RetryDelaySeconds: 1,
		},
		api: api,
	}
}

func imageResponse(data []byte, mimeType string) *genai.GenerateImagesResponse {
	return &genai.GenerateImagesResponse{
		GeneratedImages: []*genai.GeneratedImage{
			{Image: &genai.Image{ImageBytes: data, MIMEType: mimeType}},
		},
	}
}

func TestGenerateImageReturnsImage(t *testing.T) {
	t.Parallel()

	api := &fakeImagesAPI{responses: []*genai.GenerateImagesResponse{
		imageResponse([]byte{0x89, 0x50}, "image/png"),
	}}
	provider := testImageProvider(api, 0)

	image, err := provider.GenerateImage(context.Background(), pipeline.ImageRequest{
		Prompt: "a lighthouse at dusk",
		Width:  1024,
		Height: 1024,
		Format: "png",
	})

	require.NoError(t, err)
	assert.Equal(t, []byte{0x89, 0x50}, image.Data)
	assert.Equal(t, "image/png", image.Format)
	assert.Equal(t, 1024, image.Width)
	assert.Equal(t, 1024, image.Height)
	assert.Equal(t, 1, api.calls)
}

func TestGenerateImageEmptyPrompt(t *testing.T) {
	t.Parallel()

	api := &fakeImagesAPI{}
	provider := testImageProvider(api, 0)

	_, err := provider.GenerateImage(context.Background(), pipeline.ImageRequest{})

	assert.ErrorIs(t, err, ErrEmptyPrompt)
	assert.Zero(t, api.calls)
}

func TestGenerateImageRetriesTransientFailure(t *testing.T) {
	api := &fakeImagesAPI{
		errs: []error{errors.New("503 service unavailable"), nil},
		responses: []*genai.GenerateImagesResponse{
			nil,
			imageResponse([]byte{0x01}, "image/webp"),
		},
	}
	provider := testImageProvider(api, 2)

	image, err := provider.GenerateImage(context.Background(), pipeline.ImageRequest{
		Prompt: "a storm over the harbor",
		Width:  1024,
		Height: 576,
	})

	require.NoError(t, err)
	assert.Equal(t, "image/webp", image.Format)
	assert.Equal(t, 2, api.calls)
}

func TestGenerateImageSafetyFilterNotRetried(t *testing.T) {
	t.Parallel()

	api := &fakeImagesAPI{responses: []*genai.GenerateImagesResponse{
		{GeneratedImages: []*genai.GeneratedImage{{RAIFilteredReason: "violence"}}},
	}}
	provider := testImageProvider(api, 3)

	_, err := provider.GenerateImage(context.Background(), pipeline.ImageRequest{
		Prompt: "something grim",
	})

	assert.ErrorIs(t, err, pipeline.ErrModerationBlocked)
	assert.Equal(t, 1, api.calls)
}

func TestGenerateImageEmptyResponseNotRetried(t *testing.T) {
	t.Parallel()

	api := &fakeImagesAPI{responses: []*genai.GenerateImagesResponse{
		{GeneratedImages: nil},
	}}
	provider := testImageProvider(api, 3)

	_, err := provider.GenerateImage(context.Background(), pipeline.ImageRequest{
		Prompt: "a quiet meadow",
	})

	assert.ErrorIs(t, err, ErrInvalidResponse)
	assert.Equal(t, 1, api.calls)
}

func TestGenerateImageFallsBackToRequestedFormat(t *testing.T) {
	t.Parallel()

	api := &fakeImagesAPI{responses: []*genai.GenerateImagesResponse{
		imageResponse([]byte{0x02}, ""),
	}}
	provider := testImageProvider(api, 0)

	image, err := provider.GenerateImage(context.Background(), pipeline.ImageRequest{
		Prompt: "a ship in a bottle",
		Format: "jpg",
	})

	require.NoError(t, err)
	assert.Equal(t, "image/jpeg", image.Format)
}

func TestAspectRatioFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		width  int
		height int
		want   string
	}{
		{"square", 1024, 1024, "1:1"},
		{"portrait", 768, 1024, "3:4"},
		{"landscape", 1024, 768, "4:3"},
		{"tall", 720, 1280, "9:16"},
		{"wide", 1920, 1080, "16:9"},
		{"zero dimensions", 0, 0, "1:1"},
		{"near square", 1000, 1024, "1:1"},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tc.want, aspectRatioFor(tc.width, tc.height))
		})
	}
}

func TestMimeTypeFor(t *testing.T) {
	t.Parallel()

	cases := []struct {
		format string
		want   string
	}{
		{"png", "image/png"},
		{"image/png", "image/png"},
		{"jpg", "image/jpeg"},
		{"jpeg", "image/jpeg"},
		{"image/jpeg", "image/jpeg"},
		{"webp", "image/webp"},
		{"", "image/png"},
		{"tiff", "image/png"},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.want, mimeTypeFor(tc.format), "format %q", tc.format)
	}
}
