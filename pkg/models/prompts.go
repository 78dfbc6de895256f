package models

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

var (
	ErrUnknownGenre     = errors.New("unknown genre")
	ErrIncompleteScene  = errors.New("scene and description are required")
	ErrTemplateOutRange = errors.New("template index out of range")
)

// EditTemplates are the quick-start edit instructions offered by the front end.
var EditTemplates = []string{
	"Add a pirate hat",
	"Change background to a futuristic city",
	"Make it an oil painting",
	"Add a small, cute robot",
	"Change season to winter, add snow",
}

// Template returns the 1-based quick-start template.
func Template(n int) (string, error) {
	if n < 1 || n > len(EditTemplates) {
		return "", fmt.Errorf("%w: %d (1-%d)", ErrTemplateOutRange, n, len(EditTemplates))
	}
	return EditTemplates[n-1], nil
}

var Genres = []string{"Fantasy", "Sci-Fi", "Cyberpunk", "Steampunk", "Horror", "Abstract"}

// Scene collects the inputs of the story scene creator.
type Scene struct {
	StoryName   string
	Genre       string
	Scene       string
	Description string
}

// Validate checks the required fields and rewrites Genre to its canonical
// spelling. Genres match case-insensitively.
func (s *Scene) Validate() error {
	if strings.TrimSpace(s.Scene) == "" || strings.TrimSpace(s.Description) == "" {
		return ErrIncompleteScene
	}
	if s.Genre == "" {
		return nil
	}
	i := slices.IndexFunc(Genres, func(g string) bool { return strings.EqualFold(g, s.Genre) })
	if i < 0 {
		return fmt.Errorf("%w: %q not in %v", ErrUnknownGenre, s.Genre, Genres)
	}
	s.Genre = Genres[i]
	return nil
}

// Prompt renders the scene into a single generation prompt. Genre defaults
// to the first entry of Genres.
func (s *Scene) Prompt() string {
	genre := s.Genre
	if genre == "" {
		genre = Genres[0]
	}
	return fmt.Sprintf("%s style. A scene for a story called \"%s\". The scene is: %s. Detailed description of the image: %s.",
		genre, s.StoryName, s.Scene, s.Description)
}
