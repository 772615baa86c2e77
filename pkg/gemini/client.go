// Package gemini backs the vision classifier with Gemini on Vertex AI.
package gemini

import (
	"context"
	"encoding/base64"
	"fmt"

	"google.golang.org/genai"
)

const (
	defaultRegion = "europe-west1"
	defaultModel  = "gemini-2.5-flash"
)

// Client wraps the Google GenAI client behind the VisionClassifier contract.
type Client struct {
	client    *genai.Client
	modelName string
}

// NewClient creates a client using Application Default Credentials.
// Set GOOGLE_APPLICATION_CREDENTIALS to the service account key file path.
func NewClient(ctx context.Context, projectID, region, model string) (*Client, error) {
	if region == "" {
		region = defaultRegion
	}
	if model == "" {
		model = defaultModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		Project:  projectID,
		Location: region,
		Backend:  genai.BackendVertexAI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	return &Client{client: client, modelName: model}, nil
}

// ClassifyImage sends the prompt and image to Gemini and returns the raw
// text answer.
func (c *Client) ClassifyImage(ctx context.Context, prompt, imgB64 string) (string, error) {
	imgBytes, err := base64.StdEncoding.DecodeString(imgB64)
	if err != nil {
		return "", fmt.Errorf("decode base64 image: %w", err)
	}

	resp, err := c.client.Models.GenerateContent(ctx, c.modelName,
		[]*genai.Content{{
			Role: "user",
			Parts: []*genai.Part{
				{Text: prompt},
				{InlineData: &genai.Blob{MIMEType: "image/png", Data: imgBytes}},
			},
		}},
		&genai.GenerateContentConfig{
			Temperature: genai.Ptr(float32(0.1)),
			TopP:        genai.Ptr(float32(1)),
		},
	)
	if err != nil {
		return "", fmt.Errorf("gemini generate: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty gemini response")
	}
	return text, nil
}
