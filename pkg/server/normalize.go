package server

import "strings"

// Replacement captions for unusable model output.
const (
	CaptionEmpty   = "No description could be generated for this frame."
	CaptionRefused = "Model could not process the image as requested."
)

var refusalMarkers = []string{"Sorry, I can't", "I am unable to"}

// NormalizeCaption trims model output and swaps empty answers and refusals
// for fixed messages.
func NormalizeCaption(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return CaptionEmpty
	}
	for _, m := range refusalMarkers {
		if strings.Contains(text, m) {
			return CaptionRefused
		}
	}
	return text
}
