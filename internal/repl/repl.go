package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/manash/imgcanvas/internal/cost"
	"github.com/manash/imgcanvas/internal/display"
	"github.com/manash/imgcanvas/internal/session"
)

type REPL struct {
	in        io.Reader
	out       io.Writer
	err       io.Writer
	ctrl      *session.Controller
	displayer *display.Displayer
	meter     *cost.Meter
	autoShow  bool
	commands  map[string]Command
	ordered   []Command
	running   bool
}

type Config struct {
	In         io.Reader
	Out        io.Writer
	Err        io.Writer
	Controller *session.Controller
	// Displayer is nil when the terminal cannot show images inline.
	Displayer *display.Displayer
	// Meter, when set, is reported by the status command.
	Meter *cost.Meter
	// AutoShow draws the working image after every change.
	AutoShow bool
}

func New(cfg *Config) *REPL {
	r := &REPL{
		in:        cfg.In,
		out:       cfg.Out,
		err:       cfg.Err,
		ctrl:      cfg.Controller,
		displayer: cfg.Displayer,
		meter:     cfg.Meter,
		autoShow:  cfg.AutoShow && cfg.Displayer != nil,
		commands:  make(map[string]Command),
	}
	r.registerCommands()
	return r
}

func (r *REPL) Run(ctx context.Context) error {
	r.running = true
	r.printWelcome()

	scanner := bufio.NewScanner(r.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for r.running {
		r.printPrompt()
		if !scanner.Scan() {
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if err := r.execute(ctx, line); err != nil {
			fmt.Fprintf(r.err, "Error: %s\n", session.Message(err))
		}
	}

	return scanner.Err()
}

func (r *REPL) execute(ctx context.Context, line string) error {
	parts := parseCommand(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	cmd, ok := r.commands[cmdName]
	if !ok {
		return fmt.Errorf("unknown command: %s (type 'help' for available commands)", cmdName)
	}

	if _, ok := cmd.(freeTextCommand); ok {
		args = nil
		if _, rest, found := strings.Cut(line, " "); found && strings.TrimSpace(rest) != "" {
			args = []string{strings.TrimSpace(rest)}
		}
	}

	return cmd.Execute(ctx, r, args)
}

func (r *REPL) Stop() {
	r.running = false
}

func (r *REPL) printWelcome() {
	fmt.Fprintln(r.out, "imgcanvas interactive mode")
	fmt.Fprintln(r.out, "Open an image with 'open <file>' or create one with 'generate <prompt>'.")
	fmt.Fprintln(r.out, "Type 'help' for available commands, 'quit' to exit.")
	if n := r.ctrl.Snapshot().GallerySize; n > 0 {
		fmt.Fprintf(r.out, "Your gallery has %d saved image(s).\n", n)
	}
	fmt.Fprintln(r.out)
}

func (r *REPL) printPrompt() {
	snap := r.ctrl.Snapshot()
	switch {
	case !snap.HasImage():
		fmt.Fprint(r.out, "imgcanvas> ")
	case len(snap.History) > 0:
		fmt.Fprintf(r.out, "imgcanvas [%s, %d edit(s)]> ", snap.Current.MIMEType, len(snap.History))
	default:
		fmt.Fprintf(r.out, "imgcanvas [%s]> ", snap.Current.MIMEType)
	}
}

// showCurrent draws the working image when auto-show is on. Display problems
// are warnings, never command failures.
func (r *REPL) showCurrent() {
	if !r.autoShow {
		return
	}
	if err := r.displayer.Show(r.ctrl.Snapshot().Current, ""); err != nil {
		fmt.Fprintf(r.err, "Warning: failed to display: %v\n", err)
	}
}

func parseCommand(line string) []string {
	var parts []string
	var current strings.Builder
	inQuotes := false
	quoteChar := rune(0)

	for _, ch := range line {
		switch {
		case ch == '"' || ch == '\'':
			if inQuotes && ch == quoteChar {
				inQuotes = false
				quoteChar = 0
			} else if !inQuotes {
				inQuotes = true
				quoteChar = ch
			} else {
				current.WriteRune(ch)
			}
		case (ch == ' ' || ch == '\t') && !inQuotes:
			if current.Len() > 0 {
				parts = append(parts, current.String())
				current.Reset()
			}
		default:
			current.WriteRune(ch)
		}
	}

	if current.Len() > 0 {
		parts = append(parts, current.String())
	}

	return parts
}
