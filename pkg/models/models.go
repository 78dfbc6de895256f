package models

import (
	"errors"
	"fmt"
	"slices"
	"sort"
	"strings"
)

var (
	ErrEmptyPrompt      = errors.New("prompt cannot be empty")
	ErrNoImageData      = errors.New("image data is required for editing")
	ErrUnknownModel     = errors.New("unknown model")
	ErrEditNotSupported = errors.New("image editing not supported by model")
	ErrGenNotSupported  = errors.New("image generation not supported by model")
)

type ProviderType string

const (
	ProviderGemini ProviderType = "gemini"
)

type OutputFormat string

const (
	FormatPNG  OutputFormat = "png"
	FormatJPEG OutputFormat = "jpeg"
	FormatWebP OutputFormat = "webp"
)

func ValidFormats() []OutputFormat {
	return []OutputFormat{FormatPNG, FormatJPEG, FormatWebP}
}

func (f OutputFormat) IsValid() bool {
	return slices.Contains(ValidFormats(), f)
}

func (f OutputFormat) String() string {
	return string(f)
}

// MIMEType returns the media type written for the format.
func (f OutputFormat) MIMEType() string {
	return "image/" + string(f)
}

// FormatForMIME maps an image media type to its output format.
func FormatForMIME(mimeType string) (OutputFormat, bool) {
	switch strings.ToLower(mimeType) {
	case "image/png":
		return FormatPNG, true
	case "image/jpeg", "image/jpg":
		return FormatJPEG, true
	case "image/webp":
		return FormatWebP, true
	}
	return "", false
}

type EditRequest struct {
	Image       *Image
	Instruction string
	Model       string
}

func NewEditRequest(img *Image, instruction string) *EditRequest {
	return &EditRequest{
		Image:       img,
		Instruction: instruction,
	}
}

func (r *EditRequest) Validate() error {
	if r.Image == nil || len(r.Image.Data) == 0 {
		return ErrNoImageData
	}
	if strings.TrimSpace(r.Instruction) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

type GenerateRequest struct {
	Prompt      string
	Model       string
	AspectRatio string
	Format      OutputFormat
}

func NewGenerateRequest(prompt string) *GenerateRequest {
	return &GenerateRequest{
		Prompt:      prompt,
		AspectRatio: "1:1",
		Format:      FormatPNG,
	}
}

func (r *GenerateRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// EditResult is what the edit model handed back. Image may be nil when the
// model only answered with text.
type EditResult struct {
	Image *Image
	Text  string
}

func (r *EditResult) HasImage() bool {
	return r != nil && r.Image != nil && len(r.Image.Data) > 0
}

type ModelCapabilities struct {
	Name             string
	Provider         ProviderType
	SupportsEdit     bool
	SupportsGenerate bool
	AspectRatios     []string
	OutputMIMEType   string
}

type ModelRegistry struct {
	models map[string]*ModelCapabilities
}

func NewModelRegistry() *ModelRegistry {
	return &ModelRegistry{
		models: make(map[string]*ModelCapabilities),
	}
}

func (r *ModelRegistry) Register(cap *ModelCapabilities) {
	r.models[cap.Name] = cap
}

func (r *ModelRegistry) Get(name string) (*ModelCapabilities, bool) {
	cap, ok := r.models[name]
	return cap, ok
}

func (r *ModelRegistry) List() []string {
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// EditModel checks that name is registered and can edit images.
func (r *ModelRegistry) EditModel(name string) (*ModelCapabilities, error) {
	cap, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if !cap.SupportsEdit {
		return nil, fmt.Errorf("%w: %s", ErrEditNotSupported, name)
	}
	return cap, nil
}

// GenerateModel checks that name is registered and can generate images.
func (r *ModelRegistry) GenerateModel(name string) (*ModelCapabilities, error) {
	cap, ok := r.models[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownModel, name)
	}
	if !cap.SupportsGenerate {
		return nil, fmt.Errorf("%w: %s", ErrGenNotSupported, name)
	}
	return cap, nil
}

const (
	DefaultEditModel     = "gemini-2.5-flash-image-preview"
	DefaultGenerateModel = "imagen-4.0-generate-001"
)

func DefaultRegistry() *ModelRegistry {
	r := NewModelRegistry()

	r.Register(&ModelCapabilities{
		Name:         "gemini-2.5-flash-image-preview",
		Provider:     ProviderGemini,
		SupportsEdit: true,
	})

	r.Register(&ModelCapabilities{
		Name:         "gemini-2.5-flash-image",
		Provider:     ProviderGemini,
		SupportsEdit: true,
	})

	r.Register(&ModelCapabilities{
		Name:         "gemini-3-pro-image-preview",
		Provider:     ProviderGemini,
		SupportsEdit: true,
	})

	r.Register(&ModelCapabilities{
		Name:             "imagen-4.0-generate-001",
		Provider:         ProviderGemini,
		SupportsGenerate: true,
		AspectRatios:     []string{"1:1", "3:4", "4:3", "9:16", "16:9"},
		OutputMIMEType:   "image/png",
	})

	r.Register(&ModelCapabilities{
		Name:             "imagen-4.0-fast-generate-001",
		Provider:         ProviderGemini,
		SupportsGenerate: true,
		AspectRatios:     []string{"1:1", "3:4", "4:3", "9:16", "16:9"},
		OutputMIMEType:   "image/png",
	})

	return r
}
