// Package session holds the state of one editing session: the working image,
// the original it started from, the edit history and the saved gallery.
package session

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/manash/imgcanvas/internal/gallery"
	imgpkg "github.com/manash/imgcanvas/internal/image"
	"github.com/manash/imgcanvas/internal/provider"
	"github.com/manash/imgcanvas/pkg/models"
)

// GalleryStore persists the gallery list. Implementations handle their own
// failures.
type GalleryStore interface {
	Load(ctx context.Context) []models.GalleryEntry
	Save(ctx context.Context, entries []models.GalleryEntry)
}

const (
	opTransform = "transform"
	opGenerate  = "generate"
)

// Controller owns the session state. All methods are safe for concurrent
// use; gateway calls run without holding the lock, and at most one runs at a
// time.
type Controller struct {
	id      string
	gateway provider.Gateway
	store   GalleryStore

	saveMu sync.Mutex

	mu       sync.Mutex
	state    State
	current  *models.Image
	original *models.Image
	history  []string
	errMsg   string
	prompt   string
	gallery  []models.GalleryEntry

	// generation changes whenever the lineage restarts; completions that
	// started under an older generation are dropped.
	generation uint64
	inflight   string
}

// Snapshot is a copy of the controller state for display.
type Snapshot struct {
	SessionID   string
	State       State
	Current     *models.Image
	Original    *models.Image
	History     []string
	Error       string
	Prompt      string
	Busy        bool
	Operation   string
	GallerySize int
}

func (s Snapshot) HasImage() bool {
	return s.Current != nil
}

// NewController reads the gallery once from store.
func NewController(ctx context.Context, gateway provider.Gateway, store GalleryStore) *Controller {
	c := &Controller{
		id:      uuid.New().String(),
		gateway: gateway,
		store:   store,
		state:   StateEmpty,
		gallery: store.Load(ctx),
	}
	log.Debug().Str("session", c.id).Int("gallery", len(c.gallery)).Msg("Session started")
	return c
}

func (c *Controller) ID() string {
	return c.id
}

func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		SessionID:   c.id,
		State:       c.state,
		Current:     c.current.Clone(),
		Original:    c.original.Clone(),
		History:     slices.Clone(c.history),
		Error:       c.errMsg,
		Prompt:      c.prompt,
		Busy:        c.inflight != "",
		Operation:   c.inflight,
		GallerySize: len(c.gallery),
	}
}

func (c *Controller) History() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.history)
}

func (c *Controller) Gallery() []models.GalleryEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.gallery)
}

func (c *Controller) SetPrompt(prompt string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompt = prompt
}

// ApplyTemplate copies quick-start template n (1-based) into the prompt
// draft.
func (c *Controller) ApplyTemplate(n int) (string, error) {
	tmpl, err := models.Template(n)
	if err != nil {
		return "", err
	}
	c.SetPrompt(tmpl)
	return tmpl, nil
}

// fail records err as the session error. Callers hold c.mu.
func (c *Controller) fail(op string, err error) error {
	c.errMsg = Message(err)
	if c.inflight == "" {
		c.state = StateError
	}
	log.Debug().Str("session", c.id).Str("op", op).Err(err).Msg("Operation rejected")
	return err
}

// restart replaces the lineage with img. Callers hold c.mu.
func (c *Controller) restart(img *models.Image) {
	c.current = img
	c.original = img.Clone()
	c.history = nil
	c.errMsg = ""
	c.generation++
	if img == nil {
		c.state = StateEmpty
	} else {
		c.state = StateLoaded
	}
}

// Upload makes data the new working image and original. The content must be
// a PNG, JPEG or WebP image; the name is only used in messages.
func (c *Controller) Upload(name string, data []byte) error {
	img, err := imgpkg.FromBytes(name, data)

	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		return c.fail("upload", err)
	}
	c.restart(img)
	c.prompt = ""

	log.Info().
		Str("session", c.id).
		Str("name", name).
		Str("mime", img.MIMEType).
		Int("bytes", len(img.Data)).
		Msg("Image uploaded")
	return nil
}

// Reset restores the original image and clears the history. The gallery is
// untouched.
func (c *Controller) Reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.original == nil {
		return c.fail("reset", ErrNothingToReset)
	}
	c.restart(c.original.Clone())
	c.prompt = ""

	log.Info().Str("session", c.id).Msg("Session reset to original")
	return nil
}

// SaveToGallery prepends the working image to the gallery and writes the
// list through to the store. It reports false when an identical image is
// already saved.
func (c *Controller) SaveToGallery(ctx context.Context) (bool, error) {
	// saveMu keeps store writes in the same order as the list updates.
	c.saveMu.Lock()
	defer c.saveMu.Unlock()

	c.mu.Lock()
	if c.current == nil {
		err := c.fail("save", ErrNoImage)
		c.mu.Unlock()
		return false, err
	}
	entries, added := gallery.Prepend(c.gallery, models.NewGalleryEntry(c.current))
	if added {
		c.gallery = entries
	}
	c.mu.Unlock()

	if !added {
		log.Debug().Str("session", c.id).Msg("Image already in gallery")
		return false, nil
	}
	c.store.Save(ctx, slices.Clone(entries))

	log.Info().Str("session", c.id).Int("gallery", len(entries)).Msg("Image saved to gallery")
	return true, nil
}

// LoadFromGallery makes gallery entry index (0-based) the new working image,
// exactly as if it had been uploaded. The entry content is checked the same
// way as an upload; the MIME type in the data URL is not trusted.
func (c *Controller) LoadFromGallery(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if index < 0 || index >= len(c.gallery) {
		return c.fail("gallery", fmt.Errorf("%w: %d of %d", ErrGalleryIndex, index+1, len(c.gallery)))
	}
	decoded, err := c.gallery[index].Image()
	if err != nil {
		return c.fail("gallery", err)
	}
	img, err := imgpkg.FromBytes(fmt.Sprintf("gallery entry %d", index+1), decoded.Data)
	if err != nil {
		return c.fail("gallery", err)
	}

	c.restart(img)
	c.prompt = ""

	log.Info().Str("session", c.id).Int("index", index).Str("mime", img.MIMEType).Msg("Loaded image from gallery")
	return nil
}

type ticket struct {
	op          string
	generation  uint64
	instruction string
	image       *models.Image
	start       time.Time
}

// begin validates and claims the single in-flight slot. Callers hold c.mu.
func (c *Controller) begin(op, instruction string) (*ticket, error) {
	if c.inflight != "" {
		return nil, ErrBusy
	}

	if instruction == "" {
		instruction = c.prompt
	}
	instruction = strings.TrimSpace(instruction)

	if op == opTransform && c.current == nil {
		return nil, c.fail(op, ErrNoImage)
	}
	if instruction == "" {
		return nil, c.fail(op, models.ErrEmptyPrompt)
	}

	t := &ticket{
		op:          op,
		generation:  c.generation,
		instruction: instruction,
		start:       time.Now(),
	}
	if op == opTransform {
		t.image = c.current.Clone()
	}

	c.inflight = op
	c.state = StateTransforming
	c.errMsg = ""

	log.Info().Str("session", c.id).Str("op", op).Str("instruction", instruction).Msg("Operation started")
	return t, nil
}

// settle releases the in-flight slot and reports whether the ticket still
// belongs to the current lineage. Callers hold c.mu.
func (c *Controller) settle(t *ticket) bool {
	c.inflight = ""
	if t.generation != c.generation {
		log.Info().
			Str("session", c.id).
			Str("op", t.op).
			Dur("duration", time.Since(t.start)).
			Msg("Discarding stale result")
		return false
	}
	return true
}

// Transform applies instruction to the working image and blocks until the
// gateway answers. An empty instruction uses the prompt draft.
func (c *Controller) Transform(ctx context.Context, instruction string) (*models.Image, error) {
	c.mu.Lock()
	t, err := c.begin(opTransform, instruction)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.runTransform(ctx, t)
}

// StartTransform is the asynchronous form of Transform.
func (c *Controller) StartTransform(ctx context.Context, instruction string) *Pending {
	p := newPending()

	c.mu.Lock()
	t, err := c.begin(opTransform, instruction)
	c.mu.Unlock()
	if err != nil {
		p.resolve(nil, err)
		return p
	}

	go func() {
		p.resolve(c.runTransform(ctx, t))
	}()
	return p
}

func (c *Controller) runTransform(ctx context.Context, t *ticket) (*models.Image, error) {
	res, err := c.gateway.EditImage(ctx, t.image, t.instruction)
	var img *models.Image
	if err == nil {
		img, err = provider.RequireImage(res)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settle(t) {
		return nil, ErrSuperseded
	}
	if err != nil {
		c.fail(t.op, err)
		log.Warn().Str("session", c.id).Err(err).Dur("duration", time.Since(t.start)).Msg("Transform failed")
		return nil, err
	}

	img.Origin = t.image.Origin
	c.current = img
	c.history = append(c.history, t.instruction)
	c.prompt = ""
	c.state = StateLoaded

	log.Info().
		Str("session", c.id).
		Int("history", len(c.history)).
		Int("bytes", len(img.Data)).
		Dur("duration", time.Since(t.start)).
		Msg("Transform applied")
	return img.Clone(), nil
}

// Generate creates a new image from instruction, replacing the lineage. An
// empty instruction uses the prompt draft.
func (c *Controller) Generate(ctx context.Context, instruction string) (*models.Image, error) {
	c.mu.Lock()
	t, err := c.begin(opGenerate, instruction)
	c.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return c.runGenerate(ctx, t)
}

// StartGenerate is the asynchronous form of Generate.
func (c *Controller) StartGenerate(ctx context.Context, instruction string) *Pending {
	p := newPending()

	c.mu.Lock()
	t, err := c.begin(opGenerate, instruction)
	c.mu.Unlock()
	if err != nil {
		p.resolve(nil, err)
		return p
	}

	go func() {
		p.resolve(c.runGenerate(ctx, t))
	}()
	return p
}

func (c *Controller) runGenerate(ctx context.Context, t *ticket) (*models.Image, error) {
	img, err := c.gateway.GenerateImage(ctx, t.instruction)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.settle(t) {
		return nil, ErrSuperseded
	}
	if err != nil {
		c.restart(nil)
		c.fail(t.op, err)
		log.Warn().Str("session", c.id).Err(err).Dur("duration", time.Since(t.start)).Msg("Generation failed")
		return nil, err
	}

	img.Origin = models.OriginGeneration
	c.restart(img)

	log.Info().
		Str("session", c.id).
		Str("mime", img.MIMEType).
		Int("bytes", len(img.Data)).
		Dur("duration", time.Since(t.start)).
		Msg("Image generated")
	return img.Clone(), nil
}
