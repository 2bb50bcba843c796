package openai

import (
	"context"
	"errors"
	"net/http"

	"autopublish/internal/domain"
)

type imageRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	N      int    `json:"n"`
	Size   string `json:"size"`
}

type imageResponse struct {
	Data []struct {
		URL string `json:"url"`
	} `json:"data"`
}

// Images implements domain.ImageGenerator on the same client.
type Images struct{ c *Client }

func (c *Client) Images() *Images { return &Images{c: c} }

func (i *Images) Generate(ctx context.Context, subject string) (string, error) {
	req := imageRequest{
		Model:  i.c.cfg.ImageModel,
		Prompt: "Editorial blog cover illustration, no text: " + subject,
		N:      1,
		Size:   i.c.cfg.ImageSize,
	}
	var resp imageResponse
	if err := i.c.http.JSON(ctx, http.MethodPost, i.c.cfg.Endpoint+"/images/generations", i.c.headers(), req, &resp); err != nil {
		return "", &domain.StageError{Kind: domain.ErrImage, Stage: "image", Err: err}
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &domain.StageError{Kind: domain.ErrImage, Stage: "image", Err: errors.New("no image returned")}
	}
	return resp.Data[0].URL, nil
}
