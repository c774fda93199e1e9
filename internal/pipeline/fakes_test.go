package pipeline_test

import (
	"context"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/storyloom/storyloom-api/internal/pipeline"
)

// Function-backed fakes for the pipeline collaborator interfaces. Store
// interfaces use the shared testify mocks; these small interfaces read
// better as closures.

type fakeSegmenter struct {
	drafts []pipeline.SceneDraft
	err    error
}

func (f *fakeSegmenter) Segment(_ context.Context, _ string, _ int) ([]pipeline.SceneDraft, error) {
	return f.drafts, f.err
}

type fakeChapterSource struct {
	text string
	err  error
}

func (f *fakeChapterSource) FetchChapter(_ context.Context, _ uuid.UUID) (string, error) {
	return f.text, f.err
}

type fakeModeration struct {
	err error
}

func (f *fakeModeration) CheckText(_ context.Context, _ string) error {
	return f.err
}

type fakeGenerator struct {
	image *pipeline.GeneratedImage
	err   error
	calls int
}

func (f *fakeGenerator) GenerateImage(_ context.Context, _ pipeline.ImageRequest) (*pipeline.GeneratedImage, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.image, nil
}

func (f *fakeGenerator) Name() string { return "fake" }

type fakeStorage struct {
	writes map[string][]byte
	err    error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{writes: make(map[string][]byte)}
}

func (f *fakeStorage) Write(_ context.Context, key string, data []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.writes[key] = data
	return "/storage/" + key, nil
}

func testRun(status domain.RunStatus) *domain.EnhancementRun {
	return &domain.EnhancementRun{
		ID:          uuid.New(),
		UserID:      uuid.New(),
		ChapterText: "Some chapter text.",
		Status:      status,
		StylePreset: "watercolor",
		Config:      domain.DefaultRunConfig(),
	}
}

func testScene(runID uuid.UUID, idx int, status domain.SceneStatus) *domain.Scene {
	return &domain.Scene{
		ID:          uuid.New(),
		RunID:       runID,
		Idx:         idx,
		Title:       "A scene",
		Description: "Something happens.",
		Status:      status,
	}
}
