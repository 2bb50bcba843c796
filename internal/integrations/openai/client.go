// Package openai implements the content and image generators over an OpenAI-compatible API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"autopublish/internal/domain"
	"autopublish/internal/integrations/httpjson"
)

type Config struct {
	Endpoint   string // e.g. https://api.openai.com/v1
	APIKey     string
	Model      string
	ImageModel string
	ImageSize  string
}

type Client struct {
	http *httpjson.Client
	cfg  Config
}

func New(hc *httpjson.Client, cfg Config) *Client {
	cfg.Endpoint = strings.TrimRight(cfg.Endpoint, "/")
	if cfg.ImageSize == "" {
		cfg.ImageSize = "1024x1024"
	}
	return &Client{http: hc, cfg: cfg}
}

func (c *Client) headers() map[string]string {
	return map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	ResponseFormat map[string]string `json:"response_format"`
	Temperature    float64           `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

// complete sends one chat turn and returns the assistant's raw JSON content.
func (c *Client) complete(ctx context.Context, system, user string) ([]byte, error) {
	req := chatRequest{
		Model: c.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: map[string]string{"type": "json_object"},
		Temperature:    0.7,
	}
	var resp chatResponse
	if err := c.http.JSON(ctx, http.MethodPost, c.cfg.Endpoint+"/chat/completions", c.headers(), req, &resp); err != nil {
		return nil, err
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, errors.New("empty completion")
	}
	return []byte(resp.Choices[0].Message.Content), nil
}

// decodeStrict rejects unknown fields and trailing data so a malformed payload never
// silently yields zero values.
func decodeStrict(raw []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("decode generator payload: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return errors.New("decode generator payload: trailing data")
	}
	return nil
}

func generationError(stage string, err error) error {
	return &domain.StageError{Kind: domain.ErrGeneration, Stage: stage, Err: err}
}
