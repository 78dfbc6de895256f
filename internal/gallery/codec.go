package gallery

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"

	"github.com/manash/imgcanvas/pkg/models"
)

// ContentType of an encoded gallery payload.
const ContentType = "application/zstd"

var ErrCorrupt = errors.New("gallery payload is corrupt")

var zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}

// The encoder and decoder are shared; EncodeAll and DecodeAll are safe for
// concurrent use.
var (
	zstdEncoder = sync.OnceValues(func() (*zstd.Encoder, error) {
		return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	})
	zstdDecoder = sync.OnceValues(func() (*zstd.Decoder, error) {
		return zstd.NewReader(nil, zstd.WithDecoderMaxMemory(1<<30))
	})
)

// Encode serializes entries as a JSON array of data URLs inside a zstd frame.
func Encode(entries []models.GalleryEntry) ([]byte, error) {
	if entries == nil {
		entries = []models.GalleryEntry{}
	}
	raw, err := json.Marshal(entries)
	if err != nil {
		return nil, fmt.Errorf("encode gallery: %w", err)
	}
	encoder, err := zstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("create zstd encoder: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// Decode reverses Encode. Unframed JSON is accepted too. Any entry that is
// not a decodable data URL makes the whole payload corrupt.
func Decode(payload []byte) ([]models.GalleryEntry, error) {
	raw := payload
	if bytes.HasPrefix(payload, zstdMagic) {
		decoder, err := zstdDecoder()
		if err != nil {
			return nil, fmt.Errorf("create zstd decoder: %w", err)
		}
		raw, err = decoder.DecodeAll(payload, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
	}

	var entries []models.GalleryEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	for i, e := range entries {
		if _, err := e.Image(); err != nil {
			return nil, fmt.Errorf("%w: entry %d: %v", ErrCorrupt, i, err)
		}
	}
	if entries == nil {
		entries = []models.GalleryEntry{}
	}
	return entries, nil
}
