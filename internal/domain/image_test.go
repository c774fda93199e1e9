package domain_test

import (
	"testing"

	"github.com/google/uuid"
	"github.com/storyloom/storyloom-api/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewScene(t *testing.T) {
	runID := uuid.New()

	scene, err := domain.NewScene(runID, 0, "Opening", "A ship departs at dawn.", []string{"Mara"})
	require.NoError(t, err)

	assert.Equal(t, runID, scene.RunID)
	assert.Equal(t, 0, scene.Idx)
	assert.Equal(t, domain.SceneStatusPending, scene.Status)
	assert.False(t, scene.Terminal())
}

func TestNewSceneValidation(t *testing.T) {
	_, err := domain.NewScene(uuid.Nil, 0, "t", "d", nil)
	assert.ErrorIs(t, err, domain.ErrEmptySceneRunID)

	_, err = domain.NewScene(uuid.New(), -1, "t", "d", nil)
	assert.ErrorIs(t, err, domain.ErrNegativeIdx)

	_, err = domain.NewScene(uuid.New(), 0, "t", "", nil)
	assert.ErrorIs(t, err, domain.ErrEmptySceneDesc)
}

func TestNewImageAttempt(t *testing.T) {
	sceneID := uuid.New()

	img, err := domain.NewImageAttempt(sceneID, 0, "a ship at dawn, watercolor", "gemini", 1024, 1024)
	require.NoError(t, err)

	assert.Equal(t, sceneID, img.SceneID)
	assert.Equal(t, 0, img.Attempt)
	assert.Equal(t, domain.ImageStatusGenerating, img.Status)
}

func TestNewImageAttemptValidation(t *testing.T) {
	_, err := domain.NewImageAttempt(uuid.Nil, 0, "p", "gemini", 1, 1)
	assert.ErrorIs(t, err, domain.ErrEmptyImageSceneID)

	_, err = domain.NewImageAttempt(uuid.New(), -1, "p", "gemini", 1, 1)
	assert.ErrorIs(t, err, domain.ErrNegativeAttempt)

	_, err = domain.NewImageAttempt(uuid.New(), 0, "", "gemini", 1, 1)
	assert.ErrorIs(t, err, domain.ErrEmptyImagePrompt)
}
