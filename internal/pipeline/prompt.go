package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/maauso/renderly/internal/job"
)

const promptSeparator = " | "

// BuildPrompt joins the product title with the scene's visual description,
// camera movement and mood, in that order.
func BuildPrompt(title string, scene job.Scene) string {
	return strings.Join([]string{
		title,
		scene.VisualDescription,
		scene.CameraMovement,
		scene.Mood,
	}, promptSeparator)
}

// BuildPrompts returns one prompt per scene.
func BuildPrompts(title string, scenes []job.Scene) []string {
	prompts := make([]string, len(scenes))
	for i, s := range scenes {
		prompts[i] = BuildPrompt(title, s)
	}
	return prompts
}

// OutputHint is the relative location the clip for scene (1-based) is
// written under: {owner}/{YYYY-MM-DD}/scene_{n}/.
func OutputHint(owner string, created time.Time, scene int) string {
	return fmt.Sprintf("%s/%s/scene_%d/", owner, created.UTC().Format(time.DateOnly), scene)
}
