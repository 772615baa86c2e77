package client

import "context"

// VisionClassifier is the single capability the segment classifier needs
// from an external vision model: given a prompt and a base64-encoded image,
// return the model's raw text answer. Implementations are expected to be
// rate-limited and fallible; callers treat every error as recoverable.
type VisionClassifier interface {
	ClassifyImage(ctx context.Context, prompt, imgB64 string) (string, error)
}
