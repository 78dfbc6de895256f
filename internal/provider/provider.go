package provider

import (
	"context"
	"errors"
	"fmt"

	"github.com/manash/imgcanvas/pkg/models"
)

var (
	ErrAPIKeyRequired = errors.New("API key is required")
	ErrRemote         = errors.New("remote model call failed")
	ErrNoImage        = errors.New("model returned no image")
)

// Gateway is the boundary to the remote generative-image service. Each call
// is a single attempt; failures come back as *RemoteError or *NoImageError.
type Gateway interface {
	Name() models.ProviderType
	EditImage(ctx context.Context, img *models.Image, instruction string) (*models.EditResult, error)
	GenerateImage(ctx context.Context, instruction string) (*models.Image, error)
}

type Config struct {
	APIKey        string
	BaseURL       string
	EditModel     string
	GenerateModel string
}

// RemoteError carries the message of a failed remote call.
type RemoteError struct {
	Message string
	Err     error
}

func (e *RemoteError) Error() string {
	return "Gemini API Error: " + e.Message
}

func (e *RemoteError) Unwrap() error {
	return e.Err
}

func (e *RemoteError) Is(target error) bool {
	return target == ErrRemote
}

// NewRemoteError normalizes err into a *RemoteError. An existing
// *RemoteError is returned unchanged.
func NewRemoteError(err error) *RemoteError {
	var re *RemoteError
	if errors.As(err, &re) {
		return re
	}
	return &RemoteError{Message: err.Error(), Err: err}
}

// NoImageError is returned when an edit call succeeded but the model only
// answered with text. The text is the message.
type NoImageError struct {
	Text string
}

func (e *NoImageError) Error() string {
	if e.Text == "" {
		return "No image was returned from the AI. Try a different prompt."
	}
	return e.Text
}

func (e *NoImageError) Is(target error) bool {
	return target == ErrNoImage
}

// RequireImage turns a text-only edit result into a *NoImageError.
func RequireImage(res *models.EditResult) (*models.Image, error) {
	if res.HasImage() {
		return res.Image, nil
	}
	if res == nil {
		return nil, &NoImageError{}
	}
	return nil, &NoImageError{Text: res.Text}
}

// ValidateConfig checks the model names against the registry and fills in
// defaults.
func ValidateConfig(cfg *Config, registry *models.ModelRegistry) error {
	if cfg.APIKey == "" {
		return ErrAPIKeyRequired
	}
	if cfg.EditModel == "" {
		cfg.EditModel = models.DefaultEditModel
	}
	if cfg.GenerateModel == "" {
		cfg.GenerateModel = models.DefaultGenerateModel
	}
	if _, err := registry.EditModel(cfg.EditModel); err != nil {
		return fmt.Errorf("edit model: %w", err)
	}
	if _, err := registry.GenerateModel(cfg.GenerateModel); err != nil {
		return fmt.Errorf("generate model: %w", err)
	}
	return nil
}
