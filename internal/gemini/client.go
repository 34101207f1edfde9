package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"nanograph/internal/logging"
	"nanograph/internal/media"
)

const DefaultModel = "gemini-3-pro-image-preview"

// Credentials supplies the API key. It is consulted on every request so that a
// key re-selected mid-session takes effect without rebuilding the client.
type Credentials interface {
	APIKey() string
}

// StaticKey is a fixed API key.
type StaticKey string

func (k StaticKey) APIKey() string { return string(k) }

type Options struct {
	Credentials Credentials
	BaseURL     string
	APIVersion  string
	Model       string
	HTTPClient  *http.Client
	Logger      *slog.Logger
}

type Client struct {
	credentials Credentials
	baseURL     string
	apiVersion  string
	model       string
	httpClient  *http.Client
	logger      *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = DefaultModel
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Client{
		credentials: opts.Credentials,
		baseURL:     baseURL,
		apiVersion:  apiVersion,
		model:       model,
		httpClient:  httpClient,
		logger:      logger,
	}
}

func (c *Client) Model() string {
	return c.model
}

// Generate performs exactly one generateContent round trip. There is no retry.
func (c *Client) Generate(ctx context.Context, req Request) (Result, error) {
	payload, err := buildRequest(req)
	if err != nil {
		return Result{}, err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, c.model)
	start := time.Now()
	raw, err := c.do(ctx, http.MethodPost, url, body)
	if err != nil {
		c.logger.Warn("generate failed", "model", c.model, "dur_ms", time.Since(start).Milliseconds(), "err", err)
		return Result{}, err
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("decode response: %w", err)
	}

	result := collect(parseResponse(decoded))
	c.logger.Info("generate done",
		"model", c.model,
		"aspect_ratio", req.Config.AspectRatio,
		"image_size", req.Config.ImageSize,
		"google_search", req.Config.GoogleSearch,
		"images", len(result.Images),
		"dur_ms", time.Since(start).Milliseconds(),
	)
	return result, nil
}

// CheckModel verifies that the current credential can see the configured model.
func (c *Client) CheckModel(ctx context.Context) error {
	url := fmt.Sprintf("%s/%s/models/%s", c.baseURL, c.apiVersion, c.model)
	_, err := c.do(ctx, http.MethodGet, url, nil)
	return err
}

func (c *Client) do(ctx context.Context, method, url string, body []byte) ([]byte, error) {
	apiKey := ""
	if c.credentials != nil {
		apiKey = strings.TrimSpace(c.credentials.APIKey())
	}
	if apiKey == "" {
		return nil, ErrNoCredential
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("content-type", "application/json")
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, newAPIError(httpResp.StatusCode, httpResp.Status, rawBody)
	}
	return rawBody, nil
}

func buildRequest(req Request) (generateContentRequest, error) {
	parts := make([]part, 0, 2)

	if req.Reference != nil && !req.Reference.IsZero() {
		ref, err := media.ParseDataURL(req.Reference.Data, req.Reference.MimeType)
		if err != nil {
			return generateContentRequest{}, fmt.Errorf("reference image: %w", err)
		}
		parts = append(parts, part{InlineData: &blob{
			Data:     ref.Data,
			MimeType: ref.MimeType,
		}})
	}

	parts = append(parts, part{Text: req.Prompt})

	out := generateContentRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			ImageConfig: &imageConfig{
				AspectRatio: string(req.Config.AspectRatio),
				ImageSize:   string(req.Config.ImageSize),
			},
		},
	}
	if req.Config.GoogleSearch {
		out.Tools = []tool{{GoogleSearch: &struct{}{}}}
	}
	return out, nil
}

func parseResponse(resp generateContentResponse) []Part {
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return nil
	}

	var out []Part
	for _, p := range resp.Candidates[0].Content.Parts {
		switch {
		// inlineData without bytes is not an image; it is dropped like unknown parts.
		case p.InlineData != nil && p.InlineData.Data != "":
			mimeType := strings.TrimSpace(p.InlineData.MimeType)
			if mimeType == "" {
				mimeType = media.DefaultMimeType
			}
			out = append(out, ImagePart{Image: media.Image{MimeType: mimeType, Data: p.InlineData.Data}})
		case p.Text != "":
			out = append(out, TextPart{Text: p.Text})
		}
	}
	return out
}

func collect(parts []Part) Result {
	result := Result{Images: []media.Image{}}
	for _, p := range parts {
		switch v := p.(type) {
		case ImagePart:
			result.Images = append(result.Images, v.Image)
		case TextPart:
			if result.Text == "" {
				result.Text = v.Text
			} else {
				result.Text += "\n" + v.Text
			}
		}
	}
	return result
}

type generateContentRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	Tools            []tool           `json:"tools,omitempty"`
}

type generationConfig struct {
	ImageConfig *imageConfig `json:"imageConfig,omitempty"`
}

type imageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type tool struct {
	GoogleSearch *struct{} `json:"googleSearch,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	Data     string `json:"data"`
	MimeType string `json:"mimeType"`
}

type generateContentResponse struct {
	Candidates []candidate `json:"candidates"`
}

type candidate struct {
	Content *content `json:"content"`
}
