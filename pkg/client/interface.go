// Package client defines the vision-model backend contract shared by the
// transcription and recreation services.
package client

import (
	"context"
)

// VisionClient sends one prompt, with an optional base64 image, to a
// vision-language model and returns the raw reply text.
type VisionClient interface {
	// SimpleQuery returns the model's free-form answer
	SimpleQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
	// JSONQuery asks the backend to constrain the answer to a JSON object
	JSONQuery(ctx context.Context, model, prompt, imgB64 string) (string, error)
}

// ImageMIME guesses the media type of a base64 encoded image
func ImageMIME(imgB64 string) string {
	switch {
	case len(imgB64) >= 5 && imgB64[:5] == "iVBOR":
		return "image/png"
	case len(imgB64) >= 4 && imgB64[:4] == "UklG":
		return "image/webp"
	default:
		return "image/jpeg"
	}
}
