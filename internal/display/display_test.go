package display

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/manash/imgcanvas/pkg/models"
)

func rasterBytes(t *testing.T, encode func(*bytes.Buffer, image.Image) error) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 3, 3))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func pngData(t *testing.T) []byte {
	return rasterBytes(t, func(b *bytes.Buffer, i image.Image) error { return png.Encode(b, i) })
}

func jpegData(t *testing.T) []byte {
	return rasterBytes(t, func(b *bytes.Buffer, i image.Image) error { return jpeg.Encode(b, i, nil) })
}

func TestDisplayer_ShowPNG(t *testing.T) {
	var buf bytes.Buffer
	data := pngData(t)

	if err := New(&buf, 0).Show(&models.Image{Data: data, MIMEType: "image/png"}, "Current:"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "Current:\n\x1b_G") {
		t.Errorf("output should start with the caption and an escape sequence: %q", out[:20])
	}
	if !strings.Contains(out, base64.StdEncoding.EncodeToString(data)) {
		t.Error("PNG data should be sent unchanged")
	}
}

func TestDisplayer_ShowConvertsJPEG(t *testing.T) {
	var buf bytes.Buffer
	data := jpegData(t)

	if err := New(&buf, 30).Show(&models.Image{Data: data, MIMEType: "image/jpeg"}, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	out := buf.String()
	if strings.Contains(out, base64.StdEncoding.EncodeToString(data)) {
		t.Error("JPEG data should be re-encoded as PNG")
	}
	if !strings.Contains(out, "c=30") {
		t.Error("column limit should be passed to the terminal")
	}
}

func TestDisplayer_ShowErrors(t *testing.T) {
	var buf bytes.Buffer
	d := New(&buf, 0)

	if err := d.Show(nil, ""); !errors.Is(err, ErrNoImage) {
		t.Errorf("Show(nil) error = %v, want %v", err, ErrNoImage)
	}
	if err := d.Show(&models.Image{Data: []byte("junk"), MIMEType: "image/webp"}, ""); err == nil {
		t.Error("Show(undecodable) should fail")
	}
}

func TestDisplayer_ShowView(t *testing.T) {
	original := &models.Image{Data: pngData(t), MIMEType: "image/png"}
	current := &models.Image{Data: pngData(t), MIMEType: "image/png"}

	tests := []struct {
		view      View
		wantSeqs  int
		wantLabel bool
	}{
		{ViewCurrent, 1, false},
		{ViewOriginal, 1, false},
		{ViewBoth, 2, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.view), func(t *testing.T) {
			var buf bytes.Buffer
			if err := New(&buf, 0).ShowView(tt.view, original, current); err != nil {
				t.Fatalf("ShowView() error = %v", err)
			}
			if n := strings.Count(buf.String(), "\x1b_Ga=T"); n != tt.wantSeqs {
				t.Errorf("got %d images, want %d", n, tt.wantSeqs)
			}
			if got := strings.Contains(buf.String(), "Original:"); got != tt.wantLabel {
				t.Errorf("caption present = %v, want %v", got, tt.wantLabel)
			}
		})
	}

	var buf bytes.Buffer
	if err := New(&buf, 0).ShowView(ViewBoth, nil, current); !errors.Is(err, ErrNoImage) {
		t.Errorf("ShowView(both, nil original) error = %v", err)
	}
}

func TestParseView(t *testing.T) {
	tests := []struct {
		in      string
		want    View
		wantErr bool
	}{
		{"", ViewCurrent, false},
		{"current", ViewCurrent, false},
		{"ORIGINAL", ViewOriginal, false},
		{" both ", ViewBoth, false},
		{"side-by-side", "", true},
	}

	for _, tt := range tests {
		got, err := ParseView(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("ParseView(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestIsTerminalSupported(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		expected bool
	}{
		{"no env vars", map[string]string{}, false},
		{"kitty terminal program", map[string]string{"TERM_PROGRAM": "kitty"}, true},
		{"ghostty terminal program", map[string]string{"TERM_PROGRAM": "ghostty"}, true},
		{"iterm terminal program", map[string]string{"TERM_PROGRAM": "iTerm.app"}, true},
		{"wezterm terminal program", map[string]string{"TERM_PROGRAM": "WezTerm"}, true},
		{"kitty window id", map[string]string{"KITTY_WINDOW_ID": "123"}, true},
		{"iterm session id", map[string]string{"ITERM_SESSION_ID": "abc"}, true},
		{"term contains kitty", map[string]string{"TERM": "xterm-kitty"}, true},
		{"term contains ghostty", map[string]string{"TERM": "ghostty"}, true},
		{"unsupported terminal", map[string]string{"TERM_PROGRAM": "gnome-terminal"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			getenv := func(k string) string { return tt.envVars[k] }
			if got := IsTerminalSupported(getenv); got != tt.expected {
				t.Errorf("expected %v, got %v", tt.expected, got)
			}
		})
	}
}

func TestCanDisplay_NotATerminal(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	getenv := func(k string) string {
		if k == "TERM_PROGRAM" {
			return "kitty"
		}
		return ""
	}
	if CanDisplay(getenv, int(f.Fd())) {
		t.Error("a regular file should never be treated as a graphics terminal")
	}
}
