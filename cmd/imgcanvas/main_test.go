package main

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/manash/imgcanvas/internal/display"
	"github.com/manash/imgcanvas/internal/gallery"
	"github.com/manash/imgcanvas/internal/keys"
	"github.com/manash/imgcanvas/internal/provider"
	"github.com/manash/imgcanvas/pkg/models"
)

type mockGateway struct {
	editFunc     func(ctx context.Context, img *models.Image, instruction string) (*models.EditResult, error)
	generateFunc func(ctx context.Context, instruction string) (*models.Image, error)
	instructions []string
}

func (m *mockGateway) Name() models.ProviderType {
	return models.ProviderGemini
}

func (m *mockGateway) EditImage(ctx context.Context, img *models.Image, instruction string) (*models.EditResult, error) {
	m.instructions = append(m.instructions, instruction)
	if m.editFunc != nil {
		return m.editFunc(ctx, img, instruction)
	}
	return &models.EditResult{Image: &models.Image{Data: img.Data, MIMEType: img.MIMEType}}, nil
}

func (m *mockGateway) GenerateImage(ctx context.Context, instruction string) (*models.Image, error) {
	m.instructions = append(m.instructions, instruction)
	if m.generateFunc != nil {
		return m.generateFunc(ctx, instruction)
	}
	return &models.Image{Data: testPNG(), MIMEType: "image/png"}, nil
}

func testPNG() []byte {
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))
	img.Set(1, 1, color.RGBA{B: 255, A: 255})
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}

type testApp struct {
	*App
	out     *bytes.Buffer
	errOut  *bytes.Buffer
	env     map[string]string
	gw      *mockGateway
	backend *gallery.MemoryBackend
	cfg     *provider.Config
	dir     string
}

// newTestApp creates an App with a fake gateway, an in-memory gallery and a
// key store under a temp directory.
func newTestApp(t *testing.T) *testApp {
	t.Helper()
	dir := t.TempDir()
	ta := &testApp{
		out:     &bytes.Buffer{},
		errOut:  &bytes.Buffer{},
		gw:      &mockGateway{},
		backend: gallery.NewMemoryBackend(),
		dir:     dir,
		env: map[string]string{
			"GEMINI_API_KEY":       "env-key",
			"IMGCANVAS_CONFIG_DIR": filepath.Join(dir, "config"),
		},
	}

	ta.App = &App{
		In:       strings.NewReader(""),
		Out:      ta.out,
		Err:      ta.errOut,
		Registry: models.DefaultRegistry(),
		GetEnv: func(key string) string {
			return ta.env[key]
		},
		NewGateway: func(_ context.Context, cfg *provider.Config) (provider.Gateway, error) {
			ta.cfg = cfg
			return ta.gw, nil
		},
		OpenBackend: func(context.Context, gallery.Options) (gallery.Backend, error) {
			return ta.backend, nil
		},
		NewKeyStore:  keys.NewStore,
		NewDisplayer: display.New,
		CanDisplay:   func() bool { return false },
	}
	return ta
}

func (ta *testApp) execute(args ...string) error {
	cmd := newRootCmd(ta.App)
	cmd.SetArgs(args)
	return cmd.Execute()
}

func (ta *testApp) writeImage(t *testing.T) string {
	t.Helper()
	path := filepath.Join(ta.dir, "photo.png")
	if err := os.WriteFile(path, testPNG(), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func (ta *testApp) galleryLen(t *testing.T) int {
	t.Helper()
	return len(gallery.NewStore(ta.backend).Load(context.Background()))
}

func TestDefaultApp(t *testing.T) {
	app := DefaultApp()

	if app.Out == nil || app.Err == nil || app.In == nil {
		t.Error("DefaultApp() streams are nil")
	}
	if app.Registry == nil {
		t.Error("DefaultApp() Registry is nil")
	}
	if app.GetEnv == nil || app.NewGateway == nil || app.OpenBackend == nil {
		t.Error("DefaultApp() constructors are nil")
	}
	if app.NewKeyStore == nil || app.NewDisplayer == nil || app.CanDisplay == nil {
		t.Error("DefaultApp() helpers are nil")
	}

	_, err := app.NewGateway(context.Background(), &provider.Config{})
	if !errors.Is(err, provider.ErrAPIKeyRequired) {
		t.Errorf("NewGateway() without key error = %v", err)
	}
}

func TestNewRootCmd(t *testing.T) {
	ta := newTestApp(t)
	cmd := newRootCmd(ta.App)

	if cmd.Use != "imgcanvas" {
		t.Errorf("Use = %s, want 'imgcanvas'", cmd.Use)
	}

	flags := []string{"api-key", "db", "gallery-backend", "gallery-bucket", "ephemeral", "edit-model", "generate-model", "log-level", "show"}
	for _, name := range flags {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("flag --%s not found", name)
		}
	}

	for _, sub := range [][]string{{"generate"}, {"edit"}, {"apply"}, {"gallery", "list"}, {"gallery", "export"}, {"keys", "set"}, {"keys", "get"}, {"keys", "delete"}, {"keys", "list"}} {
		found, _, err := cmd.Find(sub)
		if err != nil || found == cmd {
			t.Errorf("subcommand %v not found", sub)
		}
	}
}

func TestGenerate_WritesOutput(t *testing.T) {
	ta := newTestApp(t)
	out := filepath.Join(ta.dir, "castle.png")

	if err := ta.execute("generate", "a", "castle", "in", "the", "clouds", "-o", out); err != nil {
		t.Fatalf("generate error = %v", err)
	}

	if len(ta.gw.instructions) != 1 || ta.gw.instructions[0] != "a castle in the clouds" {
		t.Errorf("instructions = %q", ta.gw.instructions)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("output missing: %v", err)
	}
	if !bytes.Equal(data, testPNG()) {
		t.Error("output bytes differ from the generated image")
	}
	if !strings.Contains(ta.out.String(), "Saved: "+out) {
		t.Errorf("output = %q", ta.out.String())
	}
	if ta.galleryLen(t) != 0 {
		t.Error("gallery should be untouched without --save")
	}
}

func TestGenerate_SaveToGallery(t *testing.T) {
	ta := newTestApp(t)

	if err := ta.execute("generate", "a fox", "-o", filepath.Join(ta.dir, "fox.png"), "--save"); err != nil {
		t.Fatalf("generate error = %v", err)
	}
	if ta.galleryLen(t) != 1 {
		t.Errorf("gallery length = %d, want 1", ta.galleryLen(t))
	}
	if !strings.Contains(ta.out.String(), "Added to gallery") {
		t.Errorf("output = %q", ta.out.String())
	}
}

func TestGenerate_RemoteError(t *testing.T) {
	ta := newTestApp(t)
	ta.gw.generateFunc = func(context.Context, string) (*models.Image, error) {
		return nil, provider.NewRemoteError(errors.New("quota exceeded"))
	}

	err := ta.execute("generate", "anything", "-o", filepath.Join(ta.dir, "x.png"))
	if !errors.Is(err, provider.ErrRemote) {
		t.Fatalf("error = %v, want ErrRemote", err)
	}
	if err.Error() != "Gemini API Error: quota exceeded" {
		t.Errorf("message = %q", err.Error())
	}
}

func TestGenerate_NoAPIKey(t *testing.T) {
	ta := newTestApp(t)
	delete(ta.env, "GEMINI_API_KEY")

	err := ta.execute("generate", "a fox")
	if !errors.Is(err, keys.ErrNoAPIKey) {
		t.Errorf("error = %v, want ErrNoAPIKey", err)
	}
	if len(ta.gw.instructions) != 0 {
		t.Error("gateway should not be called")
	}
}

func TestAPIKeyPrecedence(t *testing.T) {
	out := func(ta *testApp) string { return filepath.Join(ta.dir, "out.png") }

	t.Run("environment", func(t *testing.T) {
		ta := newTestApp(t)
		if err := ta.execute("generate", "x", "-o", out(ta)); err != nil {
			t.Fatal(err)
		}
		if ta.cfg.APIKey != "env-key" {
			t.Errorf("APIKey = %q, want env-key", ta.cfg.APIKey)
		}
	})

	t.Run("stored beats environment", func(t *testing.T) {
		ta := newTestApp(t)
		if err := ta.execute("keys", "set", "stored-key-123456"); err != nil {
			t.Fatal(err)
		}
		if err := ta.execute("generate", "x", "-o", out(ta)); err != nil {
			t.Fatal(err)
		}
		if ta.cfg.APIKey != "stored-key-123456" {
			t.Errorf("APIKey = %q, want stored key", ta.cfg.APIKey)
		}
	})

	t.Run("flag beats everything", func(t *testing.T) {
		ta := newTestApp(t)
		if err := ta.execute("keys", "set", "stored-key-123456"); err != nil {
			t.Fatal(err)
		}
		if err := ta.execute("generate", "x", "-o", out(ta), "--api-key", "flag-key"); err != nil {
			t.Fatal(err)
		}
		if ta.cfg.APIKey != "flag-key" {
			t.Errorf("APIKey = %q, want flag-key", ta.cfg.APIKey)
		}
	})
}

func TestModelSelection(t *testing.T) {
	ta := newTestApp(t)
	ta.env["GEMINI_GENERATE_MODEL"] = "imagen-4.0-fast-generate-001"
	ta.env["GEMINI_BASE_URL"] = "http://localhost:9999"

	if err := ta.execute("generate", "x", "-o", filepath.Join(ta.dir, "out.png")); err != nil {
		t.Fatal(err)
	}
	if ta.cfg.EditModel != models.DefaultEditModel {
		t.Errorf("EditModel = %q", ta.cfg.EditModel)
	}
	if ta.cfg.GenerateModel != "imagen-4.0-fast-generate-001" {
		t.Errorf("GenerateModel = %q", ta.cfg.GenerateModel)
	}
	if ta.cfg.BaseURL != "http://localhost:9999" {
		t.Errorf("BaseURL = %q", ta.cfg.BaseURL)
	}

	err := ta.execute("generate", "x", "--edit-model", "dall-e-3")
	if !errors.Is(err, models.ErrUnknownModel) {
		t.Errorf("unknown model error = %v", err)
	}
}

func TestEdit(t *testing.T) {
	ta := newTestApp(t)
	src := ta.writeImage(t)
	out := filepath.Join(ta.dir, "edited.png")

	if err := ta.execute("edit", src, "add", "a", "pirate", "hat", "-o", out); err != nil {
		t.Fatalf("edit error = %v", err)
	}
	if len(ta.gw.instructions) != 1 || ta.gw.instructions[0] != "add a pirate hat" {
		t.Errorf("instructions = %q", ta.gw.instructions)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("output missing: %v", err)
	}
}

func TestEdit_TextOnlyAnswer(t *testing.T) {
	ta := newTestApp(t)
	src := ta.writeImage(t)
	out := filepath.Join(ta.dir, "edited.png")
	ta.gw.editFunc = func(context.Context, *models.Image, string) (*models.EditResult, error) {
		return &models.EditResult{Text: "I can only edit landscapes."}, nil
	}

	err := ta.execute("edit", src, "swap faces", "-o", out)
	if !errors.Is(err, provider.ErrNoImage) {
		t.Fatalf("error = %v, want ErrNoImage", err)
	}
	if _, statErr := os.Stat(out); statErr == nil {
		t.Error("no output should be written on failure")
	}
}

func TestEdit_NotAnImage(t *testing.T) {
	ta := newTestApp(t)
	src := filepath.Join(ta.dir, "notes.txt")
	if err := os.WriteFile(src, []byte("hello"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := ta.execute("edit", src, "make it pop"); err == nil {
		t.Error("edit of a text file should fail")
	}
	if len(ta.gw.instructions) != 0 {
		t.Error("gateway should not be called")
	}
}

func TestApply(t *testing.T) {
	ta := newTestApp(t)
	src := ta.writeImage(t)
	recipePath := filepath.Join(ta.dir, "recipe.txt")
	if err := os.WriteFile(recipePath, []byte("# warm up\nadd a hat\n\nmake it sepia\n"), 0644); err != nil {
		t.Fatal(err)
	}
	stepsDir := filepath.Join(ta.dir, "steps")
	out := filepath.Join(ta.dir, "final.png")

	if err := ta.execute("apply", src, recipePath, "--steps-dir", stepsDir, "-o", out); err != nil {
		t.Fatalf("apply error = %v", err)
	}

	if got := strings.Join(ta.gw.instructions, "|"); got != "add a hat|make it sepia" {
		t.Errorf("instructions = %q", got)
	}
	files, _ := filepath.Glob(filepath.Join(stepsDir, "*.png"))
	if len(files) != 2 {
		t.Errorf("step files = %v, want 2", files)
	}
	if _, err := os.Stat(out); err != nil {
		t.Errorf("final output missing: %v", err)
	}
	if !strings.Contains(ta.out.String(), "Applied: 2/2 steps") {
		t.Errorf("summary missing: %q", ta.out.String())
	}
}

func TestApply_StopsAtFirstFailure(t *testing.T) {
	ta := newTestApp(t)
	src := ta.writeImage(t)
	recipePath := filepath.Join(ta.dir, "recipe.json")
	if err := os.WriteFile(recipePath, []byte(`["add a hat", {"instruction": "break"}, "never runs"]`), 0644); err != nil {
		t.Fatal(err)
	}
	ta.gw.editFunc = func(_ context.Context, img *models.Image, instruction string) (*models.EditResult, error) {
		if instruction == "break" {
			return nil, provider.NewRemoteError(errors.New("safety filter"))
		}
		return &models.EditResult{Image: img}, nil
	}
	out := filepath.Join(ta.dir, "partial.png")

	err := ta.execute("apply", src, recipePath, "-o", out)
	if !errors.Is(err, provider.ErrRemote) {
		t.Fatalf("error = %v, want ErrRemote", err)
	}
	if len(ta.gw.instructions) != 2 {
		t.Errorf("instructions = %q, want 2 calls", ta.gw.instructions)
	}
	if _, err := os.Stat(out); err != nil {
		t.Error("result of the applied steps should still be written")
	}
}

func TestApply_EmptyRecipe(t *testing.T) {
	ta := newTestApp(t)
	src := ta.writeImage(t)
	recipePath := filepath.Join(ta.dir, "empty.txt")
	if err := os.WriteFile(recipePath, []byte("# nothing\n"), 0644); err != nil {
		t.Fatal(err)
	}

	if err := ta.execute("apply", src, recipePath); err == nil {
		t.Error("empty recipe should fail")
	}
}

func TestGalleryCommands(t *testing.T) {
	ta := newTestApp(t)

	if err := ta.execute("gallery", "list"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ta.out.String(), "Gallery is empty") {
		t.Errorf("output = %q", ta.out.String())
	}

	if err := ta.execute("generate", "a fox", "-o", filepath.Join(ta.dir, "fox.png"), "--save"); err != nil {
		t.Fatal(err)
	}

	ta.out.Reset()
	if err := ta.execute("gallery", "list"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ta.out.String(), "image/png") {
		t.Errorf("list output = %q", ta.out.String())
	}

	exported := filepath.Join(ta.dir, "export", "fox.png")
	if err := ta.execute("gallery", "export", "1", exported); err != nil {
		t.Fatalf("export error = %v", err)
	}
	data, err := os.ReadFile(exported)
	if err != nil || !bytes.Equal(data, testPNG()) {
		t.Errorf("exported file mismatch: %v", err)
	}

	if err := ta.execute("gallery", "export", "2", exported); err == nil {
		t.Error("export of a missing entry should fail")
	}
	if err := ta.execute("gallery", "export", "zero", exported); err == nil {
		t.Error("export with a bad index should fail")
	}
}

func TestKeysCommands(t *testing.T) {
	ta := newTestApp(t)

	if err := ta.execute("keys", "list"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ta.out.String(), "No keys stored") {
		t.Errorf("output = %q", ta.out.String())
	}

	if err := ta.execute("keys", "get"); !errors.Is(err, keys.ErrKeyNotFound) {
		t.Errorf("get without key error = %v", err)
	}

	ta.In = strings.NewReader("  AIzaSyExampleKey1234  \n")
	if err := ta.execute("keys", "set"); err != nil {
		t.Fatalf("set from stdin error = %v", err)
	}

	ta.out.Reset()
	if err := ta.execute("keys", "get"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ta.out.String(), keys.MaskKey("AIzaSyExampleKey1234")) {
		t.Errorf("get output = %q", ta.out.String())
	}
	if strings.Contains(ta.out.String(), "AIzaSyExampleKey1234") {
		t.Error("get must not print the full key")
	}

	ta.out.Reset()
	if err := ta.execute("keys", "list"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ta.out.String(), "gemini:") {
		t.Errorf("list output = %q", ta.out.String())
	}

	if err := ta.execute("keys", "delete"); err != nil {
		t.Fatal(err)
	}
	if err := ta.execute("keys", "delete"); !errors.Is(err, keys.ErrKeyNotFound) {
		t.Errorf("second delete error = %v", err)
	}
}

func TestInteractive(t *testing.T) {
	ta := newTestApp(t)
	src := ta.writeImage(t)
	ta.In = strings.NewReader("open " + src + "\ntransform add a hat\nsave\nquit\n")

	if err := ta.execute(); err != nil {
		t.Fatalf("interactive error = %v", err)
	}

	output := ta.out.String()
	if !strings.Contains(output, "imgcanvas interactive mode") || !strings.Contains(output, "Goodbye!") {
		t.Errorf("output = %q", output)
	}
	if ta.galleryLen(t) != 1 {
		t.Errorf("gallery length = %d, want 1", ta.galleryLen(t))
	}
}

func TestShowFlag(t *testing.T) {
	ta := newTestApp(t)
	ta.CanDisplay = func() bool { return true }

	if err := ta.execute("generate", "a fox", "-o", filepath.Join(ta.dir, "fox.png"), "--show"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ta.out.String(), "\x1b_G") {
		t.Error("--show should emit Kitty graphics")
	}
}

func TestGalleryOptions(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		env   map[string]string
		check func(t *testing.T, opts gallery.Options)
	}{
		{
			name: "defaults",
			check: func(t *testing.T, opts gallery.Options) {
				if opts.Kind != "" || opts.DBPath != "" {
					t.Errorf("opts = %+v", opts)
				}
			},
		},
		{
			name: "home override",
			env:  map[string]string{"IMGCANVAS_HOME": "/data/canvas"},
			check: func(t *testing.T, opts gallery.Options) {
				if opts.DBPath != filepath.Join("/data/canvas", gallery.DBFileName) {
					t.Errorf("DBPath = %q", opts.DBPath)
				}
			},
		},
		{
			name: "db flag wins",
			args: []string{"--db", "/tmp/x.db"},
			env:  map[string]string{"IMGCANVAS_HOME": "/data/canvas"},
			check: func(t *testing.T, opts gallery.Options) {
				if opts.DBPath != "/tmp/x.db" {
					t.Errorf("DBPath = %q", opts.DBPath)
				}
			},
		},
		{
			name: "s3 from env",
			env:  map[string]string{"IMGCANVAS_GALLERY_BACKEND": "s3", "IMGCANVAS_GALLERY_BUCKET": "canvas-bucket"},
			check: func(t *testing.T, opts gallery.Options) {
				if opts.Kind != gallery.BackendS3 || opts.Bucket != "canvas-bucket" {
					t.Errorf("opts = %+v", opts)
				}
			},
		},
		{
			name: "ephemeral",
			args: []string{"--gallery-backend", "sqlite", "--ephemeral"},
			check: func(t *testing.T, opts gallery.Options) {
				if opts.Kind != gallery.BackendMemory {
					t.Errorf("Kind = %q, want memory", opts.Kind)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ta := newTestApp(t)
			for k, v := range tt.env {
				ta.env[k] = v
			}
			cmd := newRootCmd(ta.App)
			if err := cmd.ParseFlags(tt.args); err != nil {
				t.Fatalf("ParseFlags() error = %v", err)
			}
			tt.check(t, galleryOptions(ta.App))
		})
	}
}

func TestSetupLogging(t *testing.T) {
	ta := newTestApp(t)

	if err := ta.execute("gallery", "list", "--log-level", "loud"); err == nil {
		t.Error("unknown log level should fail")
	}

	ta.env["IMGCANVAS_LOG_LEVEL"] = "debug"
	if err := ta.execute("gallery", "list"); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(ta.errOut.String(), "Gallery opened") {
		t.Errorf("debug log missing: %q", ta.errOut.String())
	}
}
