// Package display renders images inline in terminals that speak the Kitty
// graphics protocol.
package display

import (
	"bytes"
	"errors"
	"fmt"
	stdimage "image"
	_ "image/jpeg"
	"image/png"
	"io"
	"strings"

	_ "golang.org/x/image/webp"
	"golang.org/x/term"

	"github.com/manash/imgcanvas/pkg/models"
)

var ErrNoImage = errors.New("nothing to display")

// View selects which image(s) of the session to show.
type View string

const (
	ViewCurrent  View = "current"
	ViewOriginal View = "original"
	ViewBoth     View = "both"
)

func ParseView(s string) (View, error) {
	switch v := View(strings.ToLower(strings.TrimSpace(s))); v {
	case "":
		return ViewCurrent, nil
	case ViewCurrent, ViewOriginal, ViewBoth:
		return v, nil
	default:
		return "", fmt.Errorf("unknown view %q: use current, original or both", s)
	}
}

type Displayer struct {
	out     io.Writer
	kitty   *KittyWriter
	columns int
}

// New returns a displayer writing to out. columns bounds the width of each
// image in cells; zero leaves sizing to the terminal.
func New(out io.Writer, columns int) *Displayer {
	return &Displayer{
		out:     out,
		kitty:   NewKittyWriter(out),
		columns: columns,
	}
}

// Show draws img under a one-line caption. Non-PNG images are re-encoded
// because the protocol's compressed format only accepts PNG.
func (d *Displayer) Show(img *models.Image, caption string) error {
	if img == nil || len(img.Data) == 0 {
		return ErrNoImage
	}

	data, err := asPNG(img)
	if err != nil {
		return err
	}

	if caption != "" {
		fmt.Fprintln(d.out, caption)
	}
	if err := d.kitty.WritePNG(data, Placement{Columns: d.columns}); err != nil {
		return fmt.Errorf("failed to encode image: %w", err)
	}
	fmt.Fprintln(d.out)
	return nil
}

// ShowView draws the original, the current image, or both one above the
// other.
func (d *Displayer) ShowView(view View, original, current *models.Image) error {
	switch view {
	case ViewOriginal:
		return d.Show(original, "")
	case ViewBoth:
		if err := d.Show(original, "Original:"); err != nil {
			return fmt.Errorf("original: %w", err)
		}
		if err := d.Show(current, "Current:"); err != nil {
			return fmt.Errorf("current: %w", err)
		}
		return nil
	default:
		return d.Show(current, "")
	}
}

func asPNG(img *models.Image) ([]byte, error) {
	if strings.EqualFold(img.MIMEType, "image/png") {
		return img.Data, nil
	}

	decoded, _, err := stdimage.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode %s image: %w", img.MIMEType, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, decoded); err != nil {
		return nil, fmt.Errorf("failed to convert image to PNG: %w", err)
	}
	return buf.Bytes(), nil
}

// IsTerminalSupported reports whether the environment looks like a terminal
// that understands the Kitty graphics protocol.
func IsTerminalSupported(getenv func(string) string) bool {
	termProgram := strings.ToLower(getenv("TERM_PROGRAM"))
	switch termProgram {
	case "kitty", "ghostty", "iterm.app", "wezterm":
		return true
	}

	if getenv("KITTY_WINDOW_ID") != "" || getenv("ITERM_SESSION_ID") != "" {
		return true
	}

	t := strings.ToLower(getenv("TERM"))
	return strings.Contains(t, "kitty") || strings.Contains(t, "ghostty")
}

// CanDisplay combines the environment check with a TTY check on fd, so that
// escape sequences are never written into pipes or files.
func CanDisplay(getenv func(string) string, fd int) bool {
	return term.IsTerminal(fd) && IsTerminalSupported(getenv)
}
