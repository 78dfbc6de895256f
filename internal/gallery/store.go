package gallery

import (
	"context"
	"errors"
	"io"
	"slices"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/manash/imgcanvas/pkg/models"
)

// StorageKey is the single key the whole gallery lives under.
const StorageKey = "imaginativeCanvasGallery"

// Store reads and writes the gallery list. Persistence problems never reach
// the caller: they are logged and the gallery degrades to empty (on load) or
// in-memory only (on save).
type Store struct {
	backend Backend
	key     string
}

func NewStore(backend Backend) *Store {
	return &Store{backend: backend, key: StorageKey}
}

// Load returns the persisted gallery, most recent first. Absent, unreadable
// or corrupt data yields an empty list.
func (s *Store) Load(ctx context.Context) []models.GalleryEntry {
	payload, err := s.backend.Get(ctx, s.key)
	if errors.Is(err, ErrNotFound) {
		return []models.GalleryEntry{}
	}
	if err != nil {
		log.Warn().Err(err).Str("key", s.key).Msg("Failed to read gallery, starting empty")
		return []models.GalleryEntry{}
	}

	entries, err := Decode(payload)
	if err != nil {
		log.Warn().Err(err).Str("key", s.key).Int("bytes", len(payload)).Msg("Discarding unreadable gallery")
		return []models.GalleryEntry{}
	}

	log.Debug().Str("key", s.key).Int("entries", len(entries)).Msg("Gallery loaded")
	return entries
}

// Save overwrites the persisted list with entries.
func (s *Store) Save(ctx context.Context, entries []models.GalleryEntry) {
	start := time.Now()

	payload, err := Encode(entries)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode gallery")
		return
	}
	if err := s.backend.Put(ctx, s.key, payload); err != nil {
		log.Error().Err(err).Str("key", s.key).Int("entries", len(entries)).Msg("Failed to persist gallery")
		return
	}

	log.Debug().
		Str("key", s.key).
		Int("entries", len(entries)).
		Int("bytes", len(payload)).
		Dur("duration", time.Since(start)).
		Msg("Gallery saved")
}

// Close releases the backend if it holds resources.
func (s *Store) Close() error {
	if c, ok := s.backend.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Prepend returns entries with e in front, or entries unchanged and false
// when an identical entry is already present.
func Prepend(entries []models.GalleryEntry, e models.GalleryEntry) ([]models.GalleryEntry, bool) {
	if slices.Contains(entries, e) {
		return entries, false
	}
	out := make([]models.GalleryEntry, 0, len(entries)+1)
	out = append(out, e)
	return append(out, entries...), true
}
