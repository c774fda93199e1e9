package pipeline

import (
	"strings"

	"github.com/storyloom/storyloom-api/internal/domain"
)

// maxPromptRunes bounds the scene description portion of a prompt so
// provider limits are never hit by very long scenes.
const maxPromptRunes = 1600

// ScenePrompter is the default Prompting implementation: a book-illustration
// prompt assembled from the scene description, its characters, and the run's
// style preset.
type ScenePrompter struct{}

// NewScenePrompter creates the default Prompting implementation.
func NewScenePrompter() *ScenePrompter {
	return &ScenePrompter{}
}

// Ensure ScenePrompter implements Prompting interface
var _ Prompting = (*ScenePrompter)(nil)

// BuildImagePrompt implements Prompting.
func (p *ScenePrompter) BuildImagePrompt(scene *domain.Scene, stylePreset string) string {
	var sb strings.Builder

	sb.WriteString("Book illustration of the following scene")
	if stylePreset != "" {
		sb.WriteString(", in the style of ")
		sb.WriteString(stylePreset)
	}
	sb.WriteString(". ")

	if scene.Title != "" {
		sb.WriteString(scene.Title)
		sb.WriteString(". ")
	}
	sb.WriteString(truncateRunes(scene.Description, maxPromptRunes))

	if len(scene.Characters) > 0 {
		sb.WriteString(" Featuring: ")
		sb.WriteString(strings.Join(scene.Characters, ", "))
		sb.WriteString(".")
	}

	return sb.String()
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
