package models

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

var ErrInvalidDataURL = errors.New("invalid data URL")

// Origin records how the first image of a lineage came to be.
type Origin string

const (
	OriginUpload     Origin = "upload"
	OriginGeneration Origin = "generation"
)

// Image is an encoded raster image held in memory.
type Image struct {
	Data     []byte
	MIMEType string
	Origin   Origin
}

func (i *Image) Clone() *Image {
	if i == nil {
		return nil
	}
	return &Image{
		Data:     bytes.Clone(i.Data),
		MIMEType: i.MIMEType,
		Origin:   i.Origin,
	}
}

// Equal reports whether both images carry the same bytes and media type.
func (i *Image) Equal(other *Image) bool {
	if i == nil || other == nil {
		return i == other
	}
	return i.MIMEType == other.MIMEType && bytes.Equal(i.Data, other.Data)
}

func (i *Image) DataURL() string {
	return "data:" + i.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(i.Data)
}

// ParseDataURL decodes a base64 data URL of the form
// data:<mime>;base64,<payload>.
func ParseDataURL(s string) (*Image, error) {
	rest, ok := strings.CutPrefix(s, "data:")
	if !ok {
		return nil, fmt.Errorf("%w: missing data: prefix", ErrInvalidDataURL)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, fmt.Errorf("%w: missing payload", ErrInvalidDataURL)
	}
	mimeType, ok := strings.CutSuffix(meta, ";base64")
	if !ok {
		return nil, fmt.Errorf("%w: only base64 payloads are supported", ErrInvalidDataURL)
	}
	if mimeType == "" {
		return nil, fmt.Errorf("%w: missing media type", ErrInvalidDataURL)
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrInvalidDataURL)
	}
	return &Image{Data: data, MIMEType: mimeType}, nil
}

// GalleryEntry is a saved image kept as a self-contained data URL.
type GalleryEntry string

func NewGalleryEntry(img *Image) GalleryEntry {
	return GalleryEntry(img.DataURL())
}

func (e GalleryEntry) Image() (*Image, error) {
	return ParseDataURL(string(e))
}

// MIMEType returns the media type in the entry header, or "" when the entry
// is malformed.
func (e GalleryEntry) MIMEType() string {
	rest, ok := strings.CutPrefix(string(e), "data:")
	if !ok {
		return ""
	}
	meta, _, _ := strings.Cut(rest, ",")
	return strings.TrimSuffix(meta, ";base64")
}

// Size is the decoded byte length of the entry payload.
func (e GalleryEntry) Size() int {
	_, payload, ok := strings.Cut(string(e), ",")
	if !ok {
		return 0
	}
	return base64.StdEncoding.DecodedLen(len(payload)) - strings.Count(payload, "=")
}
