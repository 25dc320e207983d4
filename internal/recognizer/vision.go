package recognizer

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	"image/png"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
)

// Instruction is the prompt sent alongside every label image.
const Instruction = `Extract the following structured information from the given image and return the output in valid JSON format. ` +
	`Ensure high accuracy in text extraction, preserving names, numbers, and medical terms correctly. ` +
	`The required fields are: {"Name": "<Extracted Name>", "Age": "<Extracted Age>", ` +
	`"Date of Birth": "<Extracted Date of Birth (DD-MM-YYYY or YYYY-MM-DD format)>", ` +
	`"Disease": "<List of Extracted Diseases, if mentioned>"}. ` +
	`Ensure that the output is well-formatted JSON with no missing or incorrect fields. ` +
	`If a field is not present in the image, return an empty string for that field.
** PLEASE RETURN ONLY THE JSON IN THE OUTPUT.`

// Providers.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// VisionConfig configures the vision-model recognizer.
type VisionConfig struct {
	Provider  string // "openai" (any OpenAI-compatible server such as vLLM) or "ollama"
	ServerURL string
	Model     string
	APIKey    string
	MaxTokens int
	Prompt    string
}

// VisionRecognizer sends label images to a multimodal chat model.
type VisionRecognizer struct {
	llm       llms.Model
	prompt    string
	maxTokens int
	model     string
}

// NewVisionRecognizer creates the client for cfg.Provider.
func NewVisionRecognizer(cfg VisionConfig) (*VisionRecognizer, error) {
	if cfg.Model == "" {
		return nil, errors.New("recognition model id cannot be empty")
	}

	var (
		model llms.Model
		err   error
	)
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI, "":
		token := cfg.APIKey
		if token == "" {
			// vLLM accepts any token.
			token = "EMPTY"
		}
		opts := []openai.Option{openai.WithModel(cfg.Model), openai.WithToken(token)}
		if cfg.ServerURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.ServerURL))
		}
		model, err = openai.New(opts...)
	case ProviderOllama:
		opts := []ollama.Option{ollama.WithModel(cfg.Model)}
		if cfg.ServerURL != "" {
			opts = append(opts, ollama.WithServerURL(cfg.ServerURL))
		}
		model, err = ollama.New(opts...)
	default:
		return nil, fmt.Errorf("unsupported recognition provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("error creating recognition client: %w", err)
	}

	return NewVisionRecognizerWithModel(model, cfg), nil
}

// NewVisionRecognizerWithModel wraps an existing llms.Model.
func NewVisionRecognizerWithModel(model llms.Model, cfg VisionConfig) *VisionRecognizer {
	prompt := cfg.Prompt
	if prompt == "" {
		prompt = Instruction
	}
	return &VisionRecognizer{llm: model, prompt: prompt, maxTokens: cfg.MaxTokens, model: cfg.Model}
}

// Recognize encodes img as PNG and asks the model for the label fields. The
// deadline comes from ctx.
func (r *VisionRecognizer) Recognize(ctx context.Context, img image.Image) (string, error) {
	if img == nil {
		return "", errors.New("input image is nil")
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("encode label image: %w", err)
	}

	parts := []llms.ContentPart{
		llms.TextPart(r.prompt),
		llms.ImageURLPart("data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes())),
	}
	var opts []llms.CallOption
	if r.maxTokens > 0 {
		opts = append(opts, llms.WithMaxTokens(r.maxTokens))
	}

	resp, err := r.llm.GenerateContent(ctx, []llms.MessageContent{
		{Role: llms.ChatMessageTypeHuman, Parts: parts},
	}, opts...)
	if err != nil {
		return "", fmt.Errorf("recognition request failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("recognition response has no choices")
	}
	slog.Debug("recognition response", "model", r.model, "length", len(resp.Choices[0].Content))
	return resp.Choices[0].Content, nil
}
