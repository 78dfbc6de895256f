package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/manash/imgcanvas/internal/cost"
	"github.com/manash/imgcanvas/internal/display"
	"github.com/manash/imgcanvas/internal/gallery"
	"github.com/manash/imgcanvas/internal/keys"
	"github.com/manash/imgcanvas/internal/logging"
	"github.com/manash/imgcanvas/internal/provider"
	"github.com/manash/imgcanvas/internal/provider/gemini"
	"github.com/manash/imgcanvas/internal/repl"
	"github.com/manash/imgcanvas/internal/session"
	"github.com/manash/imgcanvas/pkg/models"
)

var (
	version = "dev"
	commit  = "none"
)

const (
	envAPIKey         = "GEMINI_API_KEY"
	envBaseURL        = "GEMINI_BASE_URL"
	envEditModel      = "GEMINI_EDIT_MODEL"
	envGenerateModel  = "GEMINI_GENERATE_MODEL"
	envLogLevel       = "IMGCANVAS_LOG_LEVEL"
	envHome           = "IMGCANVAS_HOME"
	envGalleryBackend = "IMGCANVAS_GALLERY_BACKEND"
	envGalleryBucket  = "IMGCANVAS_GALLERY_BUCKET"
)

var (
	flagAPIKey         string
	flagDBPath         string
	flagGalleryBackend string
	flagGalleryBucket  string
	flagGalleryPrefix  string
	flagEphemeral      bool
	flagEditModel      string
	flagGenerateModel  string
	flagLogLevel       string
	flagShow           bool
)

type App struct {
	In       io.Reader
	Out      io.Writer
	Err      io.Writer
	Registry *models.ModelRegistry
	GetEnv   func(string) string

	NewGateway   func(ctx context.Context, cfg *provider.Config) (provider.Gateway, error)
	OpenBackend  func(ctx context.Context, opts gallery.Options) (gallery.Backend, error)
	NewKeyStore  func(getenv func(string) string) (*keys.Store, error)
	NewDisplayer func(out io.Writer, columns int) *display.Displayer
	// CanDisplay reports whether Out is a terminal that shows images inline.
	CanDisplay func() bool
}

func DefaultApp() *App {
	return &App{
		In:       os.Stdin,
		Out:      os.Stdout,
		Err:      os.Stderr,
		Registry: models.DefaultRegistry(),
		GetEnv:   os.Getenv,
		NewGateway: func(ctx context.Context, cfg *provider.Config) (provider.Gateway, error) {
			p, err := gemini.New(ctx, cfg)
			if err != nil {
				return nil, err
			}
			return p, nil
		},
		OpenBackend:  gallery.OpenBackend,
		NewKeyStore:  keys.NewStore,
		NewDisplayer: display.New,
		CanDisplay: func() bool {
			return display.CanDisplay(os.Getenv, int(os.Stdout.Fd()))
		},
	}
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", session.Message(err))
		os.Exit(1)
	}
}

func run() error {
	app := DefaultApp()
	rootCmd := newRootCmd(app)
	return rootCmd.Execute()
}

func newRootCmd(app *App) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "imgcanvas",
		Short: "Edit and generate images with Gemini from the terminal",
		Long: `imgcanvas is an interactive image canvas backed by the Gemini API.

Run without arguments to start interactive mode: open an image, describe
an edit, and keep refining the result. Saved images go to a persistent
gallery.

Examples:
  imgcanvas
  imgcanvas edit photo.png "add a pirate hat" -o pirate.png
  imgcanvas generate "a lighthouse at dusk, oil painting" --save
  imgcanvas apply photo.png recipe.txt --steps-dir steps/`,
		Args:          cobra.NoArgs,
		Version:       fmt.Sprintf("%s (commit: %s)", version, commit),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return setupLogging(app)
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runInteractive(cmd.Context(), app)
		},
	}
	cmd.SetIn(app.In)
	cmd.SetOut(app.Out)
	cmd.SetErr(app.Err)

	pf := cmd.PersistentFlags()
	pf.StringVar(&flagAPIKey, "api-key", "", "Gemini API key (defaults to the stored key, then "+envAPIKey+")")
	pf.StringVar(&flagDBPath, "db", "", "gallery database file (defaults to ~/.imgcanvas/canvas.db)")
	pf.StringVar(&flagGalleryBackend, "gallery-backend", "", "gallery storage: sqlite, s3 or memory (default sqlite)")
	pf.StringVar(&flagGalleryBucket, "gallery-bucket", "", "S3 bucket for the s3 gallery backend")
	pf.StringVar(&flagGalleryPrefix, "gallery-prefix", "", "object key prefix for the s3 gallery backend")
	pf.BoolVar(&flagEphemeral, "ephemeral", false, "keep the gallery in memory only")
	pf.StringVar(&flagEditModel, "edit-model", "", "model used for edits (default "+models.DefaultEditModel+")")
	pf.StringVar(&flagGenerateModel, "generate-model", "", "model used for generation (default "+models.DefaultGenerateModel+")")
	pf.StringVar(&flagLogLevel, "log-level", "", "log level: debug, info, warn, error (default warn)")
	pf.BoolVar(&flagShow, "show", false, "display results inline (Kitty graphics terminals)")

	cmd.AddCommand(
		newGenerateCmd(app),
		newEditCmd(app),
		newApplyCmd(app),
		newGalleryCmd(app),
		newKeysCmd(app),
	)

	return cmd
}

func setupLogging(app *App) error {
	raw := flagLogLevel
	if raw == "" {
		raw = app.GetEnv(envLogLevel)
	}
	level, err := logging.ParseLevel(raw, zerolog.WarnLevel)
	if err != nil {
		return err
	}
	logging.Init(app.Err, level)
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// newGateway resolves the key and models and wraps the gateway so meter sees
// every billed call.
func newGateway(ctx context.Context, app *App, meter *cost.Meter) (provider.Gateway, error) {
	store, err := app.NewKeyStore(app.GetEnv)
	if err != nil {
		log.Debug().Err(err).Msg("Key store unavailable")
		store = nil
	}

	apiKey, source, err := keys.Resolve(flagAPIKey, string(models.ProviderGemini), envAPIKey, store, app.GetEnv)
	if err != nil {
		return nil, err
	}
	log.Debug().Str("source", source).Msg("Using API key")

	cfg := &provider.Config{
		APIKey:        apiKey,
		BaseURL:       app.GetEnv(envBaseURL),
		EditModel:     firstNonEmpty(flagEditModel, app.GetEnv(envEditModel)),
		GenerateModel: firstNonEmpty(flagGenerateModel, app.GetEnv(envGenerateModel)),
	}
	if err := provider.ValidateConfig(cfg, app.Registry); err != nil {
		return nil, err
	}

	gw, err := app.NewGateway(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create gateway: %w", err)
	}
	return cost.NewMeteredGateway(gw, meter, cfg), nil
}

func galleryOptions(app *App) gallery.Options {
	kind := gallery.BackendKind(firstNonEmpty(flagGalleryBackend, app.GetEnv(envGalleryBackend)))
	if flagEphemeral {
		kind = gallery.BackendMemory
	}

	dbPath := flagDBPath
	if dbPath == "" {
		if home := app.GetEnv(envHome); home != "" {
			dbPath = filepath.Join(home, gallery.DBFileName)
		}
	}

	return gallery.Options{
		Kind:   kind,
		DBPath: dbPath,
		Bucket: firstNonEmpty(flagGalleryBucket, app.GetEnv(envGalleryBucket)),
		Prefix: flagGalleryPrefix,
	}
}

func openGallery(ctx context.Context, app *App) (*gallery.Store, error) {
	opts := galleryOptions(app)
	backend, err := app.OpenBackend(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open gallery: %w", err)
	}
	log.Debug().Str("backend", string(opts.Kind)).Str("db", opts.DBPath).Msg("Gallery opened")
	return gallery.NewStore(backend), nil
}

// newSession wires a gateway and the gallery into a controller. The returned
// store must be closed by the caller.
func newSession(ctx context.Context, app *App, meter *cost.Meter) (*session.Controller, *gallery.Store, error) {
	gw, err := newGateway(ctx, app, meter)
	if err != nil {
		return nil, nil, err
	}
	store, err := openGallery(ctx, app)
	if err != nil {
		return nil, nil, err
	}
	return session.NewController(ctx, gw, store), store, nil
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func newDisplayer(app *App) *display.Displayer {
	if !app.CanDisplay() {
		return nil
	}
	return app.NewDisplayer(app.Out, 0)
}

func runInteractive(ctx context.Context, app *App) error {
	if ctx == nil {
		ctx = context.Background()
	}

	meter := cost.NewMeter()
	ctrl, store, err := newSession(ctx, app, meter)
	if err != nil {
		return err
	}
	defer store.Close()

	displayer := newDisplayer(app)
	if displayer == nil {
		log.Debug().Msg("Inline display unavailable")
	}

	r := repl.New(&repl.Config{
		In:         app.In,
		Out:        app.Out,
		Err:        app.Err,
		Controller: ctrl,
		Displayer:  displayer,
		Meter:      meter,
		AutoShow:   true,
	})
	return r.Run(ctx)
}
