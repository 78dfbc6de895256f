package session

import (
	"errors"

	imgpkg "github.com/manash/imgcanvas/internal/image"
	"github.com/manash/imgcanvas/internal/provider"
	"github.com/manash/imgcanvas/pkg/models"
)

type State int

const (
	StateEmpty State = iota
	StateLoaded
	StateTransforming
	StateError
)

func (s State) String() string {
	switch s {
	case StateEmpty:
		return "empty"
	case StateLoaded:
		return "loaded"
	case StateTransforming:
		return "transforming"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

var (
	ErrNoImage        = errors.New("no working image")
	ErrNotAnImage     = imgpkg.ErrNotAnImage
	ErrNothingToReset = errors.New("nothing to reset")
	ErrGalleryIndex   = errors.New("gallery index out of range")
	ErrBusy           = errors.New("another operation is in progress")
	ErrSuperseded     = errors.New("result discarded: the working image changed while the request was in flight")
)

const noImageMessage = "Please provide an image and a prompt."

// Kind groups errors by how the front end should treat them.
type Kind int

const (
	KindNone Kind = iota
	KindValidation
	KindRemote
	KindEmptyResult
	KindSuperseded
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindValidation:
		return "validation"
	case KindRemote:
		return "remote"
	case KindEmptyResult:
		return "empty-result"
	case KindSuperseded:
		return "superseded"
	default:
		return "unknown"
	}
}

var validationErrors = []error{
	models.ErrEmptyPrompt,
	models.ErrNoImageData,
	models.ErrTemplateOutRange,
	models.ErrIncompleteScene,
	models.ErrUnknownGenre,
	ErrNoImage,
	ErrNotAnImage,
	imgpkg.ErrTooLarge,
	ErrNothingToReset,
	ErrGalleryIndex,
	ErrBusy,
}

// Classify maps an error returned by the controller to its Kind. Empty
// results are checked before remote failures because a generation that
// returned zero images is reported as both.
func Classify(err error) Kind {
	if err == nil {
		return KindNone
	}
	if errors.Is(err, provider.ErrNoImage) {
		return KindEmptyResult
	}
	if errors.Is(err, provider.ErrRemote) {
		return KindRemote
	}
	if errors.Is(err, ErrSuperseded) {
		return KindSuperseded
	}
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return KindValidation
		}
	}
	return KindUnknown
}

// Message is the text shown to the user for err.
func Message(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrNoImage) {
		return noImageMessage
	}
	return err.Error()
}
