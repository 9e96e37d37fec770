package ai

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"

	"cakeday/internal/domain"
)

const (
	imagesBaseURL    = "https://api.openai.com/v1"
	imageHTTPTimeout = 120 * time.Second
	maxRefPhotoBytes = 8 << 20
)

// ImageRequest is one generation job.
type ImageRequest struct {
	Prompt       string
	Quality      string
	Size         string
	ReferenceURL string // optional profile photo; switches to the edits endpoint
}

// ImageResult carries the decoded PNG.
type ImageResult struct {
	PNG []byte
}

// ImageGenerator is the abstract image model.
type ImageGenerator interface {
	Generate(ctx context.Context, req ImageRequest) (ImageResult, error)
}

// OpenAIImageClient calls the Images API directly over HTTP. Reference
// photos are fetched and submitted through the edits endpoint as multipart.
type OpenAIImageClient struct {
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

func NewOpenAIImageClient(apiKey, model string, logger *slog.Logger) *OpenAIImageClient {
	return &OpenAIImageClient{
		apiKey:     apiKey,
		model:      model,
		httpClient: &http.Client{Timeout: imageHTTPTimeout},
		logger:     logger,
	}
}

type imageAPIResponse struct {
	Data []struct {
		B64JSON string `json:"b64_json"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *OpenAIImageClient) Generate(ctx context.Context, req ImageRequest) (ImageResult, error) {
	if c.apiKey == "" {
		return ImageResult{}, domain.E(domain.KindUpstreamRefused, "image generation not configured")
	}

	var result ImageResult
	attempt := func() error {
		var (
			resp imageAPIResponse
			err  error
		)
		if req.ReferenceURL != "" {
			resp, err = c.edit(ctx, req)
		} else {
			resp, err = c.generate(ctx, req)
		}
		if err != nil {
			if domain.KindOf(err) == domain.KindUpstreamRefused {
				return backoff.Permanent(err)
			}
			return err
		}
		if len(resp.Data) == 0 || resp.Data[0].B64JSON == "" {
			return domain.E(domain.KindUpstreamTransient, "image response carried no data")
		}
		png, decodeErr := base64.StdEncoding.DecodeString(resp.Data[0].B64JSON)
		if decodeErr != nil {
			return backoff.Permanent(domain.Wrap(domain.KindUpstreamTransient, "decode image payload", decodeErr))
		}
		result = ImageResult{PNG: png}
		return nil
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewConstantBackOff(2*time.Second), 2), ctx)
	if err := backoff.Retry(attempt, policy); err != nil {
		return ImageResult{}, err
	}

	c.logger.DebugContext(ctx, "image generated",
		slog.Int("bytes", len(result.PNG)),
		slog.Bool("reference_photo", req.ReferenceURL != ""),
	)
	return result, nil
}

func (c *OpenAIImageClient) generate(ctx context.Context, req ImageRequest) (imageAPIResponse, error) {
	body, err := json.Marshal(map[string]any{
		"model":   c.model,
		"prompt":  req.Prompt,
		"n":       1,
		"size":    req.Size,
		"quality": req.Quality,
	})
	if err != nil {
		return imageAPIResponse{}, fmt.Errorf("marshal image request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, imagesBaseURL+"/images/generations", bytes.NewReader(body))
	if err != nil {
		return imageAPIResponse{}, fmt.Errorf("build image request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(httpReq)
}

// edit fetches the reference photo and submits it with the prompt as a
// multipart edit. A failed photo fetch downgrades to plain generation.
func (c *OpenAIImageClient) edit(ctx context.Context, req ImageRequest) (imageAPIResponse, error) {
	photo, err := c.fetchReference(ctx, req.ReferenceURL)
	if err != nil {
		c.logger.WarnContext(ctx, "reference photo unavailable, generating without it", slog.String("error", err.Error()))
		return c.generate(ctx, req)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("image", "reference.png")
	if err != nil {
		return imageAPIResponse{}, fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(photo); err != nil {
		return imageAPIResponse{}, fmt.Errorf("write reference photo: %w", err)
	}
	for field, value := range map[string]string{
		"model":   c.model,
		"prompt":  req.Prompt,
		"n":       "1",
		"size":    req.Size,
		"quality": req.Quality,
	} {
		if err := mw.WriteField(field, value); err != nil {
			return imageAPIResponse{}, fmt.Errorf("write field %s: %w", field, err)
		}
	}
	if err := mw.Close(); err != nil {
		return imageAPIResponse{}, fmt.Errorf("close multipart: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, imagesBaseURL+"/images/edits", &buf)
	if err != nil {
		return imageAPIResponse{}, fmt.Errorf("build image edit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	return c.do(httpReq)
}

func (c *OpenAIImageClient) do(req *http.Request) (imageAPIResponse, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return imageAPIResponse{}, domain.Wrap(domain.KindUpstreamTransient, "image api request", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 32<<20))
	if err != nil {
		return imageAPIResponse{}, domain.Wrap(domain.KindUpstreamTransient, "read image api response", err)
	}

	var parsed imageAPIResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return imageAPIResponse{}, domain.Wrap(domain.KindUpstreamTransient, "parse image api response", err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return imageAPIResponse{}, domain.E(domain.KindRateLimited, "image api rate limited")
	case resp.StatusCode >= 500:
		return imageAPIResponse{}, domain.E(domain.KindUpstreamTransient, fmt.Sprintf("image api status %d", resp.StatusCode))
	case resp.StatusCode >= 400:
		msg := fmt.Sprintf("image api status %d", resp.StatusCode)
		if parsed.Error != nil {
			msg = parsed.Error.Message
		}
		return imageAPIResponse{}, domain.E(domain.KindUpstreamRefused, msg)
	}
	return parsed, nil
}

func (c *OpenAIImageClient) fetchReference(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build photo request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch photo: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("photo fetch status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxRefPhotoBytes))
}
