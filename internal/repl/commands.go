package repl

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/manash/imgcanvas/internal/display"
	imgpkg "github.com/manash/imgcanvas/internal/image"
	"github.com/manash/imgcanvas/internal/session"
	"github.com/manash/imgcanvas/pkg/models"
)

var errNoDisplay = errors.New("this terminal cannot display images inline (try kitty, ghostty, wezterm or iTerm2)")

type Command interface {
	Name() string
	Aliases() []string
	Description() string
	Usage() string
	Execute(ctx context.Context, r *REPL, args []string) error
}

// freeTextCommand marks commands whose argument is the rest of the line,
// taken verbatim. Quotes and apostrophes in instructions are kept.
type freeTextCommand interface {
	freeText()
}

func allCommands() []Command {
	return []Command{
		&OpenCommand{},
		&TransformCommand{},
		&PromptCommand{},
		&TemplatesCommand{},
		&TemplateCommand{},
		&GenerateCommand{},
		&CreateCommand{},
		&ResetCommand{},
		&HistoryCommand{},
		&ShowCommand{},
		&SaveCommand{},
		&GalleryCommand{},
		&ExportCommand{},
		&StatusCommand{},
		&HelpCommand{},
		&QuitCommand{},
	}
}

func (r *REPL) registerCommands() {
	r.ordered = allCommands()
	for _, cmd := range r.ordered {
		r.commands[cmd.Name()] = cmd
		for _, alias := range cmd.Aliases() {
			r.commands[alias] = cmd
		}
	}
}

// OpenCommand loads an image file as the new working image
type OpenCommand struct{}

func (c *OpenCommand) Name() string        { return "open" }
func (c *OpenCommand) Aliases() []string   { return []string{"o", "upload", "load"} }
func (c *OpenCommand) Description() string { return "Open a PNG, JPEG or WebP file for editing" }
func (c *OpenCommand) Usage() string       { return "open <file>" }

func (c *OpenCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	path := strings.Join(args, " ")

	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Size() > imgpkg.MaxUploadBytes {
		return fmt.Errorf("%s: %w (%s)", path, imgpkg.ErrTooLarge, formatSize(int(info.Size())))
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}

	if err := r.ctrl.Upload(filepath.Base(path), data); err != nil {
		return err
	}

	snap := r.ctrl.Snapshot()
	fmt.Fprintf(r.out, "Opened %s (%s, %s)\n", filepath.Base(path), snap.Current.MIMEType, formatSize(len(snap.Current.Data)))
	r.showCurrent()
	return nil
}

// TransformCommand edits the working image
type TransformCommand struct{}

func (c *TransformCommand) Name() string      { return "transform" }
func (c *TransformCommand) Aliases() []string { return []string{"t", "edit", "e"} }
func (c *TransformCommand) Description() string {
	return "Edit the working image (uses the prompt draft when no instruction is given)"
}
func (c *TransformCommand) Usage() string { return "transform [instruction]" }
func (c *TransformCommand) freeText()     {}

func (c *TransformCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	instruction := strings.Join(args, " ")

	fmt.Fprintln(r.out, "Transforming...")
	if _, err := r.ctrl.Transform(ctx, instruction); err != nil {
		return err
	}

	fmt.Fprintf(r.out, "Done. %d edit(s) in history.\n", len(r.ctrl.History()))
	r.showCurrent()
	return nil
}

// PromptCommand shows or sets the prompt draft
type PromptCommand struct{}

func (c *PromptCommand) Name() string        { return "prompt" }
func (c *PromptCommand) Aliases() []string   { return []string{"p"} }
func (c *PromptCommand) Description() string { return "Show or set the prompt draft" }
func (c *PromptCommand) Usage() string       { return "prompt [text]" }
func (c *PromptCommand) freeText()           {}

func (c *PromptCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		draft := r.ctrl.Snapshot().Prompt
		if draft == "" {
			fmt.Fprintln(r.out, "Prompt draft is empty")
			return nil
		}
		fmt.Fprintf(r.out, "Prompt: %s\n", draft)
		return nil
	}

	r.ctrl.SetPrompt(args[0])
	fmt.Fprintf(r.out, "Prompt: %s\n", args[0])
	return nil
}

// TemplatesCommand lists the quick-start edit templates
type TemplatesCommand struct{}

func (c *TemplatesCommand) Name() string        { return "templates" }
func (c *TemplatesCommand) Aliases() []string   { return []string{"tpl"} }
func (c *TemplatesCommand) Description() string { return "List quick-start edit templates" }
func (c *TemplatesCommand) Usage() string       { return "templates" }

func (c *TemplatesCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	for i, tmpl := range models.EditTemplates {
		fmt.Fprintf(r.out, "  [%d] %s\n", i+1, tmpl)
	}
	return nil
}

// TemplateCommand copies a template into the prompt draft
type TemplateCommand struct{}

func (c *TemplateCommand) Name() string        { return "template" }
func (c *TemplateCommand) Aliases() []string   { return []string{"use"} }
func (c *TemplateCommand) Description() string { return "Use a quick-start template as the prompt draft" }
func (c *TemplateCommand) Usage() string       { return "template <n>" }

func (c *TemplateCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: %s", c.Usage())
	}
	n, err := strconv.Atoi(args[0])
	if err != nil {
		return fmt.Errorf("invalid template number: %s", args[0])
	}

	tmpl, err := r.ctrl.ApplyTemplate(n)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Prompt: %s\n", tmpl)
	fmt.Fprintln(r.out, "Run 'transform' to apply it.")
	return nil
}

// GenerateCommand creates a new image from text
type GenerateCommand struct{}

func (c *GenerateCommand) Name() string      { return "generate" }
func (c *GenerateCommand) Aliases() []string { return []string{"gen", "g"} }
func (c *GenerateCommand) Description() string {
	return "Generate a new image from a prompt (replaces the working image)"
}
func (c *GenerateCommand) Usage() string { return "generate <prompt>" }
func (c *GenerateCommand) freeText()     {}

func (c *GenerateCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	return generate(ctx, r, strings.Join(args, " "))
}

func generate(ctx context.Context, r *REPL, prompt string) error {
	fmt.Fprintln(r.out, "Generating...")
	img, err := r.ctrl.Generate(ctx, prompt)
	if err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Generated %s (%s)\n", img.MIMEType, formatSize(len(img.Data)))
	r.showCurrent()
	return nil
}

// CreateCommand composes a story-scene prompt and generates it
type CreateCommand struct{}

func (c *CreateCommand) Name() string        { return "create" }
func (c *CreateCommand) Aliases() []string   { return []string{"scene"} }
func (c *CreateCommand) Description() string { return "Generate a scene for a story" }
func (c *CreateCommand) Usage() string {
	return `create scene="..." desc="..." [story="..."] [genre=...]`
}

func (c *CreateCommand) Execute(ctx context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		fmt.Fprintf(r.out, "usage: %s\n", c.Usage())
		fmt.Fprintf(r.out, "genres: %s\n", strings.Join(models.Genres, ", "))
		return nil
	}

	var scene models.Scene
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		if !ok {
			return fmt.Errorf("expected key=value, got %q", arg)
		}
		switch strings.ToLower(key) {
		case "story", "name":
			scene.StoryName = value
		case "genre":
			scene.Genre = value
		case "scene":
			scene.Scene = value
		case "desc", "description":
			scene.Description = value
		default:
			return fmt.Errorf("unknown field %q: use story, genre, scene or desc", key)
		}
	}

	if err := scene.Validate(); err != nil {
		return err
	}
	prompt := scene.Prompt()
	fmt.Fprintf(r.out, "Prompt: %s\n", prompt)
	return generate(ctx, r, prompt)
}

// ResetCommand restores the original image
type ResetCommand struct{}

func (c *ResetCommand) Name() string        { return "reset" }
func (c *ResetCommand) Aliases() []string   { return []string{"r", "revert"} }
func (c *ResetCommand) Description() string { return "Restore the original image and clear the history" }
func (c *ResetCommand) Usage() string       { return "reset" }

func (c *ResetCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	if err := r.ctrl.Reset(); err != nil {
		return err
	}
	fmt.Fprintln(r.out, "Reset to the original image")
	r.showCurrent()
	return nil
}

// HistoryCommand lists the edits applied since the last upload
type HistoryCommand struct{}

func (c *HistoryCommand) Name() string        { return "history" }
func (c *HistoryCommand) Aliases() []string   { return []string{"h", "hist"} }
func (c *HistoryCommand) Description() string { return "Show the edits applied to the working image" }
func (c *HistoryCommand) Usage() string       { return "history" }

func (c *HistoryCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	history := r.ctrl.History()
	if len(history) == 0 {
		fmt.Fprintln(r.out, "No edits yet")
		return nil
	}

	for i, instr := range history {
		marker := "  "
		if i == len(history)-1 {
			marker = "> "
		}
		fmt.Fprintf(r.out, "%s[%d] %q\n", marker, i+1, truncate(instr, 70))
	}
	return nil
}

// ShowCommand displays the working and/or original image
type ShowCommand struct{}

func (c *ShowCommand) Name() string        { return "show" }
func (c *ShowCommand) Aliases() []string   { return []string{"display", "view"} }
func (c *ShowCommand) Description() string { return "Display the current image, the original, or both" }
func (c *ShowCommand) Usage() string       { return "show [current|original|both]" }

func (c *ShowCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if r.displayer == nil {
		return errNoDisplay
	}

	var viewArg string
	if len(args) > 0 {
		viewArg = args[0]
	}
	view, err := display.ParseView(viewArg)
	if err != nil {
		return err
	}

	snap := r.ctrl.Snapshot()
	if !snap.HasImage() {
		return session.ErrNoImage
	}
	return r.displayer.ShowView(view, snap.Original, snap.Current)
}

// SaveCommand adds the working image to the gallery
type SaveCommand struct{}

func (c *SaveCommand) Name() string        { return "save" }
func (c *SaveCommand) Aliases() []string   { return []string{"s"} }
func (c *SaveCommand) Description() string { return "Save the working image to the gallery" }
func (c *SaveCommand) Usage() string       { return "save" }

func (c *SaveCommand) Execute(ctx context.Context, r *REPL, _ []string) error {
	added, err := r.ctrl.SaveToGallery(ctx)
	if err != nil {
		return err
	}
	if !added {
		fmt.Fprintln(r.out, "Already in the gallery")
		return nil
	}
	fmt.Fprintf(r.out, "Saved to gallery (%d image(s))\n", r.ctrl.Snapshot().GallerySize)
	return nil
}

// GalleryCommand browses saved images
type GalleryCommand struct{}

func (c *GalleryCommand) Name() string        { return "gallery" }
func (c *GalleryCommand) Aliases() []string   { return []string{"gal"} }
func (c *GalleryCommand) Description() string { return "List, open or export saved images" }
func (c *GalleryCommand) Usage() string       { return "gallery [list|open <n>|export <n> [file]]" }

func (c *GalleryCommand) Execute(_ context.Context, r *REPL, args []string) error {
	if len(args) == 0 {
		return c.list(r)
	}

	subCmd := strings.ToLower(args[0])
	subArgs := args[1:]

	switch subCmd {
	case "list", "ls":
		return c.list(r)
	case "open", "load":
		if len(subArgs) == 0 {
			return fmt.Errorf("usage: gallery open <n>")
		}
		n, err := parseIndex(subArgs[0])
		if err != nil {
			return err
		}
		if err := r.ctrl.LoadFromGallery(n - 1); err != nil {
			return err
		}
		fmt.Fprintf(r.out, "Opened gallery image %d\n", n)
		r.showCurrent()
		return nil
	case "export":
		if len(subArgs) == 0 {
			return fmt.Errorf("usage: gallery export <n> [file]")
		}
		n, err := parseIndex(subArgs[0])
		if err != nil {
			return err
		}
		entries := r.ctrl.Gallery()
		if n > len(entries) {
			return fmt.Errorf("%w: %d of %d", session.ErrGalleryIndex, n, len(entries))
		}
		img, err := entries[n-1].Image()
		if err != nil {
			return err
		}
		return exportImage(r, img, subArgs[1:])
	default:
		return fmt.Errorf("unknown gallery command: %s", subCmd)
	}
}

func (c *GalleryCommand) list(r *REPL) error {
	entries := r.ctrl.Gallery()
	if len(entries) == 0 {
		fmt.Fprintln(r.out, "Gallery is empty. Use 'save' to add the working image.")
		return nil
	}

	fmt.Fprintf(r.out, "%-4s  %-12s  %s\n", "#", "Type", "Size")
	fmt.Fprintln(r.out, strings.Repeat("-", 30))
	for i, e := range entries {
		fmt.Fprintf(r.out, "%-4d  %-12s  %s\n", i+1, e.MIMEType(), formatSize(e.Size()))
	}
	return nil
}

// ExportCommand writes the working image to a file
type ExportCommand struct{}

func (c *ExportCommand) Name() string        { return "export" }
func (c *ExportCommand) Aliases() []string   { return []string{"x", "write"} }
func (c *ExportCommand) Description() string { return "Write the working image to a file" }
func (c *ExportCommand) Usage() string       { return "export [file]" }

func (c *ExportCommand) Execute(_ context.Context, r *REPL, args []string) error {
	snap := r.ctrl.Snapshot()
	if !snap.HasImage() {
		return session.ErrNoImage
	}
	return exportImage(r, snap.Current, args)
}

func exportImage(r *REPL, img *models.Image, args []string) error {
	path := imgpkg.GenerateFilename(img)
	if len(args) > 0 {
		path = args[0]
	}
	if err := imgpkg.Save(img, path); err != nil {
		return err
	}
	fmt.Fprintf(r.out, "Exported: %s\n", path)
	return nil
}

// StatusCommand summarises the session
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Aliases() []string   { return []string{"st", "info"} }
func (c *StatusCommand) Description() string { return "Show the session state" }
func (c *StatusCommand) Usage() string       { return "status" }

func (c *StatusCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	snap := r.ctrl.Snapshot()

	fmt.Fprintf(r.out, "Session:  %s\n", snap.SessionID)
	fmt.Fprintf(r.out, "State:    %s\n", snap.State)
	if snap.HasImage() {
		fmt.Fprintf(r.out, "Image:    %s, %s (%s)\n", snap.Current.MIMEType, formatSize(len(snap.Current.Data)), snap.Current.Origin)
	} else {
		fmt.Fprintln(r.out, "Image:    none")
	}
	fmt.Fprintf(r.out, "Edits:    %d\n", len(snap.History))
	if snap.Prompt != "" {
		fmt.Fprintf(r.out, "Prompt:   %s\n", snap.Prompt)
	}
	fmt.Fprintf(r.out, "Gallery:  %d image(s)\n", snap.GallerySize)
	if r.meter != nil {
		fmt.Fprintf(r.out, "Spend:    %s\n", r.meter.Summary())
	}
	if snap.Busy {
		fmt.Fprintf(r.out, "Running:  %s\n", snap.Operation)
	}
	if snap.Error != "" {
		fmt.Fprintf(r.out, "Error:    %s\n", snap.Error)
	}
	return nil
}

// HelpCommand shows available commands
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Aliases() []string   { return []string{"?"} }
func (c *HelpCommand) Description() string { return "Show available commands" }
func (c *HelpCommand) Usage() string       { return "help" }

func (c *HelpCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Available commands:")
	fmt.Fprintln(r.out)

	for _, cmd := range r.ordered {
		aliases := ""
		if len(cmd.Aliases()) > 0 {
			aliases = fmt.Sprintf(" (%s)", strings.Join(cmd.Aliases(), ", "))
		}
		fmt.Fprintf(r.out, "  %-24s%s\n", cmd.Name()+aliases, cmd.Description())
		fmt.Fprintf(r.out, "  %-24sUsage: %s\n", "", cmd.Usage())
	}

	return nil
}

// QuitCommand exits the REPL
type QuitCommand struct{}

func (c *QuitCommand) Name() string        { return "quit" }
func (c *QuitCommand) Aliases() []string   { return []string{"exit", "q"} }
func (c *QuitCommand) Description() string { return "Exit interactive mode" }
func (c *QuitCommand) Usage() string       { return "quit" }

func (c *QuitCommand) Execute(_ context.Context, r *REPL, _ []string) error {
	fmt.Fprintln(r.out, "Goodbye!")
	r.Stop()
	return nil
}

func parseIndex(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("invalid gallery number: %s", s)
	}
	return n, nil
}

func formatSize(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}

// truncate shortens s to maxLen runes.
func truncate(s string, maxLen int) string {
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	return string([]rune(s)[:maxLen-3]) + "..."
}
