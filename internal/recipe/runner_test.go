package recipe

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/manash/imgcanvas/pkg/models"
)

type fakeTransformer struct {
	applied []string
	failAt  string
}

func (f *fakeTransformer) Transform(_ context.Context, instruction string) (*models.Image, error) {
	if instruction == f.failAt {
		return nil, errors.New("Gemini API Error: quota exceeded")
	}
	f.applied = append(f.applied, instruction)
	return &models.Image{Data: []byte(strings.Join(f.applied, "+")), MIMEType: "image/png"}, nil
}

func steps(instructions ...string) []Step {
	out := make([]Step, len(instructions))
	for i, s := range instructions {
		out[i] = Step{Index: i + 1, Instruction: s}
	}
	return out
}

func TestRunner_AppliesInOrder(t *testing.T) {
	var out, errOut bytes.Buffer
	target := &fakeTransformer{}
	r := NewRunner(target, &out, &errOut)

	results, err := r.Run(context.Background(), steps("Add a pirate hat", "Add fireworks"), nil)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("Run() returned %d results, want 2", len(results))
	}
	if strings.Join(target.applied, ",") != "Add a pirate hat,Add fireworks" {
		t.Errorf("applied = %v", target.applied)
	}
	if !strings.Contains(out.String(), "[1/2] Applying: \"Add a pirate hat\"") {
		t.Errorf("output = %q", out.String())
	}
	if errOut.Len() != 0 {
		t.Errorf("unexpected error output: %q", errOut.String())
	}
}

func TestRunner_StopsAtFirstFailure(t *testing.T) {
	var out, errOut bytes.Buffer
	target := &fakeTransformer{failAt: "two"}
	r := NewRunner(target, &out, &errOut)

	results, err := r.Run(context.Background(), steps("one", "two", "three"), nil)
	if err == nil || !strings.Contains(err.Error(), "stopped at step 2") {
		t.Fatalf("Run() error = %v", err)
	}
	if len(results) != 2 || results[1].Error == nil {
		t.Errorf("results = %+v", results)
	}
	if len(target.applied) != 1 {
		t.Errorf("applied = %v, want only the first step", target.applied)
	}
	if !strings.Contains(errOut.String(), "quota exceeded") {
		t.Errorf("error output = %q", errOut.String())
	}

	out.Reset()
	r.PrintSummary(results, 3)
	if !strings.Contains(out.String(), "Applied: 1/3 steps") || !strings.Contains(out.String(), "Failed at step 2") {
		t.Errorf("summary = %q", out.String())
	}
}

func TestRunner_SavesSteps(t *testing.T) {
	var out bytes.Buffer
	dir := t.TempDir()
	r := NewRunner(&fakeTransformer{}, &out, &out)

	results, err := r.Run(context.Background(), steps("Add a pirate hat!", "?!"), &Options{StepsDir: dir})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"001-add-a-pirate-hat.png", "002-step.png"}
	for i, name := range want {
		if results[i].Path != filepath.Join(dir, name) {
			t.Errorf("result %d path = %q, want %q", i, results[i].Path, name)
		}
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			t.Errorf("step file %s missing: %v", name, err)
		}
	}
}

func TestRunner_ContextCancelled(t *testing.T) {
	var out bytes.Buffer
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	target := &fakeTransformer{}
	_, err := NewRunner(target, &out, &out).Run(ctx, steps("one"), nil)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want %v", err, context.Canceled)
	}
	if len(target.applied) != 0 {
		t.Error("no step should run after cancellation")
	}
}

func TestSanitizeInstruction(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Add a pirate hat", "add-a-pirate-hat"},
		{"  Make it   retro!! ", "make-it-retro"},
		{"***", "step"},
		{strings.Repeat("a", 80), strings.Repeat("a", 50)},
	}

	for _, tt := range tests {
		if got := sanitizeInstruction(tt.in); got != tt.want {
			t.Errorf("sanitizeInstruction(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRunner_ProgressKeepsUTF8(t *testing.T) {
	var out bytes.Buffer
	instruction := strings.Repeat("雪", 80)
	r := NewRunner(&fakeTransformer{}, &out, &bytes.Buffer{})

	if _, err := r.Run(context.Background(), steps(instruction), nil); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if !utf8.ValidString(out.String()) {
		t.Errorf("progress output is not valid UTF-8: %q", out.String())
	}
	if !strings.Contains(out.String(), strings.Repeat("雪", 57)+"...") {
		t.Errorf("progress output should truncate to 60 runes: %q", out.String())
	}
}
