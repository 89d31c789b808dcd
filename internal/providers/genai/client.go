package genai

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"image"
	"io"
	"net/http"
	"net/url"
	"strings"

	"mealgen/internal/domain"
	"mealgen/internal/domain/jsoncfg"
	"mealgen/internal/external"
	"mealgen/internal/infra"
)

// Options controls how the Gemini client is configured.
type Options struct {
	APIKey     string
	BaseURL    string
	Model      string
	ImageModel string
	HTTPClient *http.Client
	Logger     infra.Logger
}

// Client drafts recipe concepts and renders food photos through the Gemini
// generateContent API. Without an API key it produces deterministic synthetic
// content so local and CI runs exercise the whole pipeline.
type Client struct {
	apiKey     string
	baseURL    string
	model      string
	imageModel string
	httpClient *http.Client
	logger     infra.Logger
}

// ConceptRequest asks for one recipe matching the constraints.
type ConceptRequest struct {
	TaskID      string
	Index       int
	Constraints jsoncfg.MealConstraints
}

// ImageRequest asks for one photo of a drafted recipe. Variant changes the
// synthetic seed so a re-render does not repeat the previous image.
type ImageRequest struct {
	TaskID      string
	Prompt      string
	AspectRatio string
	Variant     int
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts,omitempty"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
	FileData   *geminiFileData   `json:"fileData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType,omitempty"`
	Data     string `json:"data,omitempty"`
}

type geminiFileData struct {
	MimeType string `json:"mimeType,omitempty"`
	FileURI  string `json:"fileUri,omitempty"`
}

type geminiGenerationConfig struct {
	CandidateCount     int      `json:"candidateCount,omitempty"`
	ResponseMimeType   string   `json:"responseMimeType,omitempty"`
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type geminiGenerateContentRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiGenerateContentResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code,omitempty"`
		Message string `json:"message,omitempty"`
	} `json:"error"`
}

// NewClient constructs a Gemini client with sane defaults. Callers may provide
// a nil HTTP client; one without its own timeout is created because the
// adapter enforces deadlines through the context.
func NewClient(opts Options) *Client {
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Transport: http.DefaultTransport}
	}

	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	model := opts.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	imageModel := opts.ImageModel
	if imageModel == "" {
		imageModel = "gemini-2.5-flash-image"
	}

	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		model:      model,
		imageModel: imageModel,
		httpClient: client,
		logger:     infra.Component(opts.Logger, "genai"),
	}
}

// Model returns the configured text model identifier.
func (c *Client) Model() string {
	return c.model
}

// Synthetic reports whether the client renders local content instead of
// calling the API.
func (c *Client) Synthetic() bool {
	return c.apiKey == ""
}

// DraftConcept produces one recipe concept. Provider failures come back as
// *external.StatusError and undecodable bodies wrap
// external.ErrMalformedResponse so the adapter can classify them.
func (c *Client) DraftConcept(ctx context.Context, req ConceptRequest) (domain.ConceptPayload, error) {
	if err := ctx.Err(); err != nil {
		return domain.ConceptPayload{}, err
	}
	if c.Synthetic() {
		return syntheticConcept(req), nil
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildConceptPrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			CandidateCount:   1,
			ResponseMimeType: "application/json",
		},
	}
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.model, payload, &response); err != nil {
		return domain.ConceptPayload{}, err
	}

	text := firstText(response)
	if text == "" {
		return domain.ConceptPayload{}, fmt.Errorf("%w: no concept text returned", external.ErrMalformedResponse)
	}
	var concept domain.ConceptPayload
	if err := json.Unmarshal([]byte(stripCodeFence(text)), &concept); err != nil {
		return domain.ConceptPayload{}, fmt.Errorf("%w: concept json: %v", external.ErrMalformedResponse, err)
	}
	if concept.Servings <= 0 {
		concept.Servings = req.Constraints.Servings
	}
	if concept.MealType == "" {
		concept.MealType = req.Constraints.MealType
	}
	concept.Title = normalizeTitle(concept.Title, req.Constraints.Locale)

	c.logger.Debug().
		Str("task_id", req.TaskID).
		Str("model", c.model).
		Msg("genai: drafted remote concept")
	return concept, nil
}

// RenderImage produces one photo for a concept.
func (c *Client) RenderImage(ctx context.Context, req ImageRequest) (domain.ImagePayload, error) {
	if err := ctx.Err(); err != nil {
		return domain.ImagePayload{}, err
	}
	if c.Synthetic() {
		return syntheticImage(req)
	}

	payload := geminiGenerateContentRequest{
		Contents: []geminiContent{{
			Role:  "user",
			Parts: []geminiPart{{Text: buildImagePrompt(req)}},
		}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"IMAGE"},
		},
	}
	var response geminiGenerateContentResponse
	if err := c.invokeGemini(ctx, c.imageModel, payload, &response); err != nil {
		return domain.ImagePayload{}, err
	}

	for _, candidate := range response.Candidates {
		for _, part := range candidate.Content.Parts {
			data, mime, err := c.decodeInlineAsset(ctx, part)
			if err != nil {
				return domain.ImagePayload{}, err
			}
			if len(data) == 0 {
				continue
			}
			if mime == "" {
				mime = "image/png"
			}
			w, h := decodeImageDimensions(data)
			c.logger.Debug().
				Str("task_id", req.TaskID).
				Str("model", c.imageModel).
				Int("bytes", len(data)).
				Msg("genai: rendered remote image")
			return domain.ImagePayload{Data: data, MIME: mime, Width: w, Height: h, Bytes: len(data)}, nil
		}
	}
	return domain.ImagePayload{}, fmt.Errorf("%w: no image content returned", external.ErrMalformedResponse)
}

func (c *Client) invokeGemini(ctx context.Context, model string, payload, out any) error {
	endpoint := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, url.PathEscape(model))
	body, err := json.Marshal(payload)
	if err != nil {
		return external.Permanent(fmt.Errorf("marshal request: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return external.Permanent(fmt.Errorf("create request: %w", err))
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("invoke gemini: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		var apiErr geminiErrorResponse
		if err := json.Unmarshal(data, &apiErr); err == nil && apiErr.Error.Message != "" {
			return &external.StatusError{Code: resp.StatusCode, Body: apiErr.Error.Message}
		}
		return &external.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decode gemini response: %v", external.ErrMalformedResponse, err)
	}
	return nil
}

func (c *Client) decodeInlineAsset(ctx context.Context, part geminiPart) ([]byte, string, error) {
	if part.InlineData != nil && part.InlineData.Data != "" {
		data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
		if err != nil {
			return nil, "", fmt.Errorf("%w: inline data: %v", external.ErrMalformedResponse, err)
		}
		return data, part.InlineData.MimeType, nil
	}
	if part.FileData != nil && part.FileData.FileURI != "" {
		data, mime, err := c.downloadFile(ctx, part.FileData.FileURI)
		if err != nil {
			return nil, "", err
		}
		return data, firstNonEmpty(part.FileData.MimeType, mime), nil
	}
	return nil, "", nil
}

func (c *Client) downloadFile(ctx context.Context, uri string) ([]byte, string, error) {
	target := uri
	if !strings.HasPrefix(uri, "http://") && !strings.HasPrefix(uri, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(uri, "/")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, "", external.Permanent(fmt.Errorf("create download request: %w", err))
	}
	q := req.URL.Query()
	q.Set("key", c.apiKey)
	req.URL.RawQuery = q.Encode()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("download file: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		data, _ := io.ReadAll(resp.Body)
		return nil, "", &external.StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(data))}
	}
	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read file: %w", err)
	}
	return blob, resp.Header.Get("Content-Type"), nil
}

func firstText(resp geminiGenerateContentResponse) string {
	for _, candidate := range resp.Candidates {
		for _, part := range candidate.Content.Parts {
			if t := strings.TrimSpace(part.Text); t != "" {
				return t
			}
		}
	}
	return ""
}

// stripCodeFence removes a ```json fence some models wrap around JSON output.
func stripCodeFence(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "```") {
		return text
	}
	text = strings.TrimPrefix(text, "```")
	if nl := strings.IndexByte(text, '\n'); nl >= 0 {
		text = text[nl+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "```"))
}

func decodeImageDimensions(data []byte) (int, int) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0
	}
	return cfg.Width, cfg.Height
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}
