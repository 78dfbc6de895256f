package display

import (
	"encoding/base64"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const (
	apcStart = "\x1b_G"
	apcEnd   = "\x1b\\"

	// Kitty limits each escape payload to 4096 bytes of base64.
	maxChunk = 4096
)

// Placement controls how a transmitted image is laid out in cells. Zero
// values let the terminal use the image's natural size.
type Placement struct {
	Columns int
	Rows    int
}

func (p Placement) keys() string {
	var b strings.Builder
	b.WriteString("a=T,f=100,q=2")
	if p.Columns > 0 {
		b.WriteString(",c=" + strconv.Itoa(p.Columns))
	}
	if p.Rows > 0 {
		b.WriteString(",r=" + strconv.Itoa(p.Rows))
	}
	return b.String()
}

// KittyWriter transmits PNG data using the Kitty graphics protocol.
type KittyWriter struct {
	out io.Writer
}

func NewKittyWriter(out io.Writer) *KittyWriter {
	return &KittyWriter{out: out}
}

// WritePNG sends pngData in as many chunks as needed. Only the first chunk
// carries the placement keys; every chunk but the last sets m=1.
func (w *KittyWriter) WritePNG(pngData []byte, p Placement) error {
	if len(pngData) == 0 {
		return nil
	}

	payload := base64.StdEncoding.EncodeToString(pngData)
	keys := p.keys()

	for first := true; first || payload != ""; first = false {
		n := min(len(payload), maxChunk)
		chunk := payload[:n]
		payload = payload[n:]

		var ctrl string
		switch {
		case first && payload == "":
			ctrl = keys
		case first:
			ctrl = keys + ",m=1"
		case payload == "":
			ctrl = "m=0"
		default:
			ctrl = "m=1"
		}

		if _, err := fmt.Fprintf(w.out, "%s%s;%s%s", apcStart, ctrl, chunk, apcEnd); err != nil {
			return err
		}
	}
	return nil
}
