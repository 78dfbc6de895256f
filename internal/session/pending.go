package session

import (
	"context"
	"sync"

	"github.com/manash/imgcanvas/pkg/models"
)

// Pending is the eventual outcome of a transform or generate started with
// StartTransform or StartGenerate. It resolves exactly once.
type Pending struct {
	done chan struct{}
	once sync.Once

	img *models.Image
	err error
}

func newPending() *Pending {
	return &Pending{done: make(chan struct{})}
}

// resolve records the outcome. Later calls are ignored.
func (p *Pending) resolve(img *models.Image, err error) {
	p.once.Do(func() {
		p.img = img
		p.err = err
		close(p.done)
	})
}

// Done is closed once the operation has finished.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the operation finishes or ctx ends. Cancelling ctx only
// stops the wait; the operation keeps its own context.
func (p *Pending) Wait(ctx context.Context) (*models.Image, error) {
	select {
	case <-p.done:
		return p.img.Clone(), p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
