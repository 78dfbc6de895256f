package image

import (
	"bytes"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/jpeg"
	_ "image/png"
	"net/http"
	"os"
	"path/filepath"

	_ "golang.org/x/image/webp"

	"github.com/manash/imgcanvas/pkg/models"
)

// MaxUploadBytes bounds the size of an image sent inline to the edit model.
const MaxUploadBytes = 20 << 20

var (
	ErrNotAnImage = errors.New("file is not a supported image")
	ErrTooLarge   = errors.New("image exceeds the upload size limit")
)

var supportedTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
}

// Sniff identifies data by content and returns its media type. Only PNG,
// JPEG and WebP are accepted, and the header must decode.
func Sniff(data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrNotAnImage
	}

	mimeType := http.DetectContentType(data)
	if !supportedTypes[mimeType] {
		return "", fmt.Errorf("%w: detected %s", ErrNotAnImage, mimeType)
	}

	if _, _, err := stdimage.DecodeConfig(bytes.NewReader(data)); err != nil {
		return "", fmt.Errorf("%w: %v", ErrNotAnImage, err)
	}
	return mimeType, nil
}

// FromBytes validates an uploaded payload and wraps it as an upload-origin
// image. The bytes are copied.
func FromBytes(name string, data []byte) (*models.Image, error) {
	if len(data) > MaxUploadBytes {
		return nil, fmt.Errorf("%s: %w (%d bytes)", name, ErrTooLarge, len(data))
	}
	mimeType, err := Sniff(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return &models.Image{
		Data:     bytes.Clone(data),
		MIMEType: mimeType,
		Origin:   models.OriginUpload,
	}, nil
}

// ReadFile loads and validates an image from disk.
func ReadFile(path string) (*models.Image, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s: %w: is a directory", path, ErrNotAnImage)
	}
	if info.Size() > MaxUploadBytes {
		return nil, fmt.Errorf("%s: %w (%d bytes)", path, ErrTooLarge, info.Size())
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromBytes(filepath.Base(path), data)
}
