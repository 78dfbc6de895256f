package main

import (
	"bufio"
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/manash/imgcanvas/internal/cost"
	imgpkg "github.com/manash/imgcanvas/internal/image"
	"github.com/manash/imgcanvas/internal/keys"
	"github.com/manash/imgcanvas/internal/recipe"
	"github.com/manash/imgcanvas/internal/session"
	"github.com/manash/imgcanvas/pkg/models"
)

var (
	flagOutput   string
	flagSave     bool
	flagStepsDir string
	flagDelay    time.Duration
)

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&flagOutput, "output", "o", "", "output file (default canvas-<timestamp>.<ext>)")
	cmd.Flags().BoolVar(&flagSave, "save", false, "also save the result to the gallery")
}

func newGenerateCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate <prompt>",
		Short: "Generate a new image from a text prompt",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerate(cmd.Context(), app, strings.Join(args, " "))
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func runGenerate(parent context.Context, app *App, prompt string) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	meter := cost.NewMeter()
	ctrl, store, err := newSession(ctx, app, meter)
	if err != nil {
		return err
	}
	defer store.Close()

	fmt.Fprintln(app.Out, "Generating...")
	if _, err := ctrl.Generate(ctx, prompt); err != nil {
		return err
	}
	return finishResult(ctx, app, ctrl, meter)
}

func newEditCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "edit <image> <instruction>",
		Short: "Apply one edit instruction to an image",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEdit(cmd.Context(), app, args[0], strings.Join(args[1:], " "))
		},
	}
	addOutputFlags(cmd)
	return cmd
}

func runEdit(parent context.Context, app *App, imagePath, instruction string) error {
	ctx, cancel := signalContext(parent)
	defer cancel()

	meter := cost.NewMeter()
	ctrl, store, err := newSession(ctx, app, meter)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := uploadFile(ctrl, imagePath); err != nil {
		return err
	}

	fmt.Fprintf(app.Out, "Applying: %q\n", instruction)
	if _, err := ctrl.Transform(ctx, instruction); err != nil {
		return err
	}
	return finishResult(ctx, app, ctrl, meter)
}

func newApplyCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "apply <image> <recipe>",
		Short: "Apply a recipe of edit instructions in order",
		Long: `Apply every instruction of a recipe file to an image, each edit working
on the result of the previous one. The run stops at the first failed step.

Recipe formats:
  .txt   one instruction per line, blank lines and # comments ignored
  .json  an array of strings or {"instruction": "..."} objects`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runApply(cmd.Context(), app, args[0], args[1])
		},
	}
	addOutputFlags(cmd)
	cmd.Flags().StringVar(&flagStepsDir, "steps-dir", "", "directory that receives the image after every step")
	cmd.Flags().DurationVar(&flagDelay, "delay", 0, "pause between steps")
	return cmd
}

func runApply(parent context.Context, app *App, imagePath, recipePath string) error {
	steps, err := recipe.ParseFile(recipePath)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext(parent)
	defer cancel()

	meter := cost.NewMeter()
	ctrl, store, err := newSession(ctx, app, meter)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := uploadFile(ctrl, imagePath); err != nil {
		return err
	}

	fmt.Fprintf(app.Out, "Applying %d step(s) to %s\n\n", len(steps), filepath.Base(imagePath))

	runner := recipe.NewRunner(ctrl, app.Out, app.Err)
	results, runErr := runner.Run(ctx, steps, &recipe.Options{
		StepsDir: flagStepsDir,
		Delay:    flagDelay,
	})
	runner.PrintSummary(results, len(steps))

	if len(ctrl.History()) > 0 {
		if err := finishResult(ctx, app, ctrl, meter); err != nil {
			return err
		}
	}
	return runErr
}

func uploadFile(ctrl *session.Controller, path string) error {
	img, err := imgpkg.ReadFile(path)
	if err != nil {
		return err
	}
	return ctrl.Upload(filepath.Base(path), img.Data)
}

// finishResult writes the working image to disk and optionally to the
// gallery and the terminal.
func finishResult(ctx context.Context, app *App, ctrl *session.Controller, meter *cost.Meter) error {
	img := ctrl.Snapshot().Current

	path := flagOutput
	if path == "" {
		path = imgpkg.GenerateFilename(img)
	}
	if err := imgpkg.Save(img, path); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Saved: %s\n", path)
	fmt.Fprintf(app.Out, "Estimated cost: %s\n", meter.Summary())

	if flagSave {
		added, err := ctrl.SaveToGallery(ctx)
		if err != nil {
			return err
		}
		if added {
			fmt.Fprintln(app.Out, "Added to gallery")
		} else {
			fmt.Fprintln(app.Out, "Already in gallery")
		}
	}

	if flagShow {
		if d := newDisplayer(app); d != nil {
			if err := d.Show(img, ""); err != nil {
				fmt.Fprintf(app.Err, "Warning: failed to display: %v\n", err)
			}
		}
	}
	return nil
}

func newGalleryCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gallery",
		Short: "Inspect the saved gallery",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List saved images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runGalleryList(cmd.Context(), app)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "export <n> <file>",
		Short: "Write saved image n to a file",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGalleryExport(cmd.Context(), app, args[0], args[1])
		},
	})

	return cmd
}

func loadGallery(ctx context.Context, app *App) ([]models.GalleryEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	store, err := openGallery(ctx, app)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return store.Load(ctx), nil
}

func runGalleryList(ctx context.Context, app *App) error {
	entries, err := loadGallery(ctx, app)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(app.Out, "Gallery is empty")
		return nil
	}

	fmt.Fprintf(app.Out, "%-4s  %-12s  %s\n", "#", "Type", "Bytes")
	for i, e := range entries {
		fmt.Fprintf(app.Out, "%-4d  %-12s  %d\n", i+1, e.MIMEType(), e.Size())
	}
	return nil
}

func runGalleryExport(ctx context.Context, app *App, indexArg, path string) error {
	n, err := strconv.Atoi(indexArg)
	if err != nil || n < 1 {
		return fmt.Errorf("invalid gallery number: %s", indexArg)
	}

	entries, err := loadGallery(ctx, app)
	if err != nil {
		return err
	}
	if n > len(entries) {
		return fmt.Errorf("%w: %d of %d", session.ErrGalleryIndex, n, len(entries))
	}

	img, err := entries[n-1].Image()
	if err != nil {
		return err
	}
	if err := imgpkg.Save(img, path); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Exported: %s\n", path)
	return nil
}

func newKeysCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage stored API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set [key]",
		Short: "Store the Gemini API key (reads stdin when no key is given)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runKeysSet(app, args)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "get",
		Short: "Show the stored Gemini API key, masked",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runKeysGet(app)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "delete",
		Short: "Remove the stored Gemini API key",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runKeysDelete(app)
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List providers with a stored key",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runKeysList(app)
		},
	})

	return cmd
}

var keyProvider = string(models.ProviderGemini)

func runKeysSet(app *App, args []string) error {
	store, err := app.NewKeyStore(app.GetEnv)
	if err != nil {
		return err
	}

	var key string
	if len(args) > 0 {
		key = args[0]
	} else {
		fmt.Fprint(app.Out, "Gemini API key: ")
		line, err := bufio.NewReader(app.In).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read key: %w", err)
		}
		key = line
	}

	if err := store.Set(keyProvider, key); err != nil {
		return err
	}
	log.Debug().Str("path", store.Path()).Msg("API key stored")
	fmt.Fprintf(app.Out, "Stored key for %s in %s\n", keyProvider, store.Path())
	return nil
}

func runKeysGet(app *App) error {
	store, err := app.NewKeyStore(app.GetEnv)
	if err != nil {
		return err
	}
	key, err := store.Get(keyProvider)
	if err != nil {
		return err
	}
	if key == "" {
		return fmt.Errorf("%w for %s", keys.ErrKeyNotFound, keyProvider)
	}
	fmt.Fprintf(app.Out, "%s: %s\n", keyProvider, keys.MaskKey(key))
	return nil
}

func runKeysDelete(app *App) error {
	store, err := app.NewKeyStore(app.GetEnv)
	if err != nil {
		return err
	}
	if err := store.Delete(keyProvider); err != nil {
		return err
	}
	fmt.Fprintf(app.Out, "Deleted key for %s\n", keyProvider)
	return nil
}

func runKeysList(app *App) error {
	store, err := app.NewKeyStore(app.GetEnv)
	if err != nil {
		return err
	}
	providers, err := store.List()
	if err != nil {
		return err
	}
	if len(providers) == 0 {
		fmt.Fprintln(app.Out, "No keys stored")
		return nil
	}
	for _, p := range providers {
		key, err := store.Get(p)
		if err != nil {
			return err
		}
		fmt.Fprintf(app.Out, "%s: %s\n", p, keys.MaskKey(key))
	}
	fmt.Fprintf(app.Out, "\nStored in %s\n", store.Path())
	return nil
}

