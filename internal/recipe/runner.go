package recipe

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	imgpkg "github.com/manash/imgcanvas/internal/image"
	"github.com/manash/imgcanvas/pkg/models"
)

// Transformer applies a single edit to the working image.
type Transformer interface {
	Transform(ctx context.Context, instruction string) (*models.Image, error)
}

type Result struct {
	Index       int
	Instruction string
	Path        string
	Error       error
	Duration    time.Duration
}

type Options struct {
	// StepsDir, when set, receives a copy of the image after every step.
	StepsDir string
	// Delay pauses between steps.
	Delay time.Duration
}

// Runner applies recipe steps in order. Each step edits the output of the
// previous one, so the run stops at the first failure.
type Runner struct {
	target Transformer
	out    io.Writer
	err    io.Writer
}

func NewRunner(target Transformer, out, errOut io.Writer) *Runner {
	return &Runner{target: target, out: out, err: errOut}
}

func (r *Runner) Run(ctx context.Context, steps []Step, opts *Options) ([]Result, error) {
	if opts == nil {
		opts = &Options{}
	}
	results := make([]Result, 0, len(steps))
	total := len(steps)

	for i, step := range steps {
		select {
		case <-ctx.Done():
			return results, ctx.Err()
		default:
		}

		result := r.runStep(ctx, step, opts, i+1, total)
		results = append(results, result)

		if result.Error != nil {
			return results, fmt.Errorf("stopped at step %d: %w", step.Index, result.Error)
		}

		if opts.Delay > 0 && i < len(steps)-1 {
			select {
			case <-ctx.Done():
				return results, ctx.Err()
			case <-time.After(opts.Delay):
			}
		}
	}

	return results, nil
}

func (r *Runner) runStep(ctx context.Context, step Step, opts *Options, current, total int) Result {
	start := time.Now()
	result := Result{
		Index:       step.Index,
		Instruction: step.Instruction,
	}

	fmt.Fprintf(r.out, "[%d/%d] Applying: %q\n", current, total, truncate(step.Instruction, 60))

	img, err := r.target.Transform(ctx, step.Instruction)
	if err != nil {
		result.Error = err
		result.Duration = time.Since(start)
		fmt.Fprintf(r.err, "       Error: %v\n", err)
		return result
	}

	if opts.StepsDir != "" {
		path := filepath.Join(opts.StepsDir, stepFilename(step, img))
		if err := imgpkg.Save(img, path); err != nil {
			result.Error = fmt.Errorf("save failed: %w", err)
			result.Duration = time.Since(start)
			fmt.Fprintf(r.err, "       Error: %v\n", result.Error)
			return result
		}
		result.Path = path
	}

	result.Duration = time.Since(start)
	log.Debug().Int("step", step.Index).Dur("duration", result.Duration).Msg("Recipe step applied")

	if result.Path != "" {
		fmt.Fprintf(r.out, "       Saved: %s\n", result.Path)
	}
	return result
}

func stepFilename(step Step, img *models.Image) string {
	return fmt.Sprintf("%03d-%s.%s", step.Index, sanitizeInstruction(step.Instruction), imgpkg.Extension(img))
}

var unsafeChars = regexp.MustCompile(`[^a-zA-Z0-9\s-]`)

func sanitizeInstruction(instruction string) string {
	sanitized := unsafeChars.ReplaceAllString(instruction, "")
	sanitized = strings.ToLower(sanitized)
	sanitized = strings.Join(strings.Fields(sanitized), "-")
	sanitized = strings.TrimLeft(sanitized, "-")

	if len(sanitized) > 50 {
		sanitized = sanitized[:50]
	}
	sanitized = strings.TrimSuffix(sanitized, "-")

	if sanitized == "" {
		sanitized = "step"
	}
	return sanitized
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}

// PrintSummary writes a short report of a run.
func (r *Runner) PrintSummary(results []Result, total int) {
	var applied int
	var failed *Result
	var elapsed time.Duration

	for i := range results {
		elapsed += results[i].Duration
		if results[i].Error != nil {
			failed = &results[i]
			continue
		}
		applied++
	}

	fmt.Fprintln(r.out)
	fmt.Fprintln(r.out, "Summary:")
	fmt.Fprintf(r.out, "  Applied: %d/%d steps\n", applied, total)
	fmt.Fprintf(r.out, "  Time: %s\n", elapsed.Round(time.Millisecond))
	if failed != nil {
		fmt.Fprintf(r.out, "  Failed at step %d: %v\n", failed.Index, failed.Error)
	}
}
