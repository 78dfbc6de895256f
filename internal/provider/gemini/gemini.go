// Package gemini implements the image gateway on top of the Gemini API:
// edits go through generateContent on an image-capable Gemini model and
// generations through the Imagen predict endpoint.
package gemini

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"

	"github.com/manash/imgcanvas/internal/provider"
	"github.com/manash/imgcanvas/pkg/models"
)

const (
	fallbackEditText  = "The model did not return an image or specific text."
	noImagesReturned  = "The model did not return any images. Try a different prompt."
	defaultOutputMIME = "image/png"
)

// modelsAPI is the slice of *genai.Models used by the gateway.
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
	GenerateImages(ctx context.Context, model string, prompt string, config *genai.GenerateImagesConfig) (*genai.GenerateImagesResponse, error)
}

type Provider struct {
	api           modelsAPI
	editModel     string
	generateModel string
}

var _ provider.Gateway = (*Provider)(nil)

// New creates a gateway backed by a Gemini API client. cfg must already have
// passed provider.ValidateConfig.
func New(ctx context.Context, cfg *provider.Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, provider.ErrAPIKeyRequired
	}

	clientCfg := &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return newWithAPI(client.Models, cfg), nil
}

func newWithAPI(api modelsAPI, cfg *provider.Config) *Provider {
	p := &Provider{
		api:           api,
		editModel:     cfg.EditModel,
		generateModel: cfg.GenerateModel,
	}
	if p.editModel == "" {
		p.editModel = models.DefaultEditModel
	}
	if p.generateModel == "" {
		p.generateModel = models.DefaultGenerateModel
	}
	return p
}

func (p *Provider) Name() models.ProviderType {
	return models.ProviderGemini
}

// EditImage sends the image and instruction to the edit model. The result
// carries the returned image and/or text; when the model returns neither a
// fallback explanation is filled in.
func (p *Provider) EditImage(ctx context.Context, img *models.Image, instruction string) (*models.EditResult, error) {
	req := models.NewEditRequest(img, instruction)
	req.Model = p.editModel
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	log.Info().
		Str("model", req.Model).
		Int("image_bytes", len(img.Data)).
		Str("image_mime", img.MIMEType).
		Str("instruction", truncate(instruction, 80)).
		Msg("Sending image to Gemini for editing")

	contents := []*genai.Content{{
		Role: "user",
		Parts: []*genai.Part{
			{InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data}},
			{Text: instruction},
		},
	}}
	config := &genai.GenerateContentConfig{
		ResponseModalities: []string{"IMAGE", "TEXT"},
	}

	resp, err := p.api.GenerateContent(ctx, req.Model, contents, config)
	if err != nil {
		log.Error().Err(err).Str("model", req.Model).Dur("duration", time.Since(start)).Msg("Gemini edit call failed")
		return nil, provider.NewRemoteError(err)
	}

	result := parseEditResponse(resp)

	log.Info().
		Str("model", req.Model).
		Bool("has_image", result.HasImage()).
		Int("text_length", len(result.Text)).
		Dur("duration", time.Since(start)).
		Msg("Gemini edit complete")

	return result, nil
}

func parseEditResponse(resp *genai.GenerateContentResponse) *models.EditResult {
	result := &models.EditResult{}
	if resp == nil {
		result.Text = fallbackEditText
		return result
	}

	if len(resp.Candidates) > 0 && resp.Candidates[0].Content != nil {
		for _, part := range resp.Candidates[0].Content.Parts {
			if part == nil || part.Thought {
				continue
			}
			if part.InlineData != nil && len(part.InlineData.Data) > 0 {
				result.Image = &models.Image{
					Data:     part.InlineData.Data,
					MIMEType: part.InlineData.MIMEType,
				}
			} else if part.Text != "" {
				result.Text = part.Text
			}
		}
	}

	if result.Image != nil && result.Image.MIMEType == "" {
		result.Image.MIMEType = defaultOutputMIME
	}

	if result.Image == nil && result.Text == "" {
		result.Text = resp.Text()
		if result.Text == "" {
			result.Text = fallbackEditText
		}
	}
	return result
}

// GenerateImage asks the generation model for one image.
func (p *Provider) GenerateImage(ctx context.Context, instruction string) (*models.Image, error) {
	req := models.NewGenerateRequest(instruction)
	req.Model = p.generateModel
	if err := req.Validate(); err != nil {
		return nil, err
	}

	start := time.Now()
	log.Info().
		Str("model", req.Model).
		Str("prompt", truncate(instruction, 80)).
		Msg("Requesting image generation")

	config := &genai.GenerateImagesConfig{
		NumberOfImages: 1,
		OutputMIMEType: req.Format.MIMEType(),
		AspectRatio:    req.AspectRatio,
	}

	resp, err := p.api.GenerateImages(ctx, req.Model, req.Prompt, config)
	if err != nil {
		log.Error().Err(err).Str("model", req.Model).Dur("duration", time.Since(start)).Msg("Image generation call failed")
		return nil, provider.NewRemoteError(err)
	}

	img := firstGeneratedImage(resp)
	if img == nil {
		log.Warn().Str("model", req.Model).Msg("Image generation returned no images")
		return nil, &provider.RemoteError{Message: noImagesReturned, Err: provider.ErrNoImage}
	}

	log.Info().
		Str("model", req.Model).
		Int("image_bytes", len(img.Data)).
		Dur("duration", time.Since(start)).
		Msg("Image generation complete")

	return img, nil
}

func firstGeneratedImage(resp *genai.GenerateImagesResponse) *models.Image {
	if resp == nil {
		return nil
	}
	for _, gen := range resp.GeneratedImages {
		if gen == nil || gen.Image == nil || len(gen.Image.ImageBytes) == 0 {
			continue
		}
		mimeType := gen.Image.MIMEType
		if mimeType == "" {
			mimeType = defaultOutputMIME
		}
		return &models.Image{
			Data:     gen.Image.ImageBytes,
			MIMEType: mimeType,
			Origin:   models.OriginGeneration,
		}
	}
	return nil
}

func truncate(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
