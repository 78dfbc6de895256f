// Package keys stores API keys outside the shell environment and resolves
// which key a command should use.
package keys

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

const (
	appName   = "imgcanvas"
	fileName  = "keys.json"
	dirEnvVar = "IMGCANVAS_CONFIG_DIR"
)

var (
	ErrNoAPIKey    = errors.New("API key required")
	ErrKeyNotFound = errors.New("no key stored")
)

// Store keeps one key per provider in a JSON file readable only by the
// owner.
type Store struct {
	configDir string
}

type entry struct {
	Key string `json:"key"`
}

type keyFile map[string]entry

// NewStore locates the platform config directory. IMGCANVAS_CONFIG_DIR
// overrides it.
func NewStore(getenv func(string) string) (*Store, error) {
	dir, err := configDir(getenv)
	if err != nil {
		return nil, err
	}
	return &Store{configDir: dir}, nil
}

func NewStoreAt(dir string) *Store {
	return &Store{configDir: dir}
}

func configDir(getenv func(string) string) (string, error) {
	if dir := getenv(dirEnvVar); dir != "" {
		return dir, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}

	switch runtime.GOOS {
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", appName), nil
	case "windows":
		appData := getenv("APPDATA")
		if appData == "" {
			appData = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(appData, appName), nil
	default:
		configHome := getenv("XDG_CONFIG_HOME")
		if configHome == "" {
			configHome = filepath.Join(home, ".config")
		}
		return filepath.Join(configHome, appName), nil
	}
}

func (s *Store) Path() string {
	return filepath.Join(s.configDir, fileName)
}

func (s *Store) read() (keyFile, error) {
	data, err := os.ReadFile(s.Path())
	if errors.Is(err, os.ErrNotExist) {
		return keyFile{}, nil
	}
	if err != nil {
		return nil, err
	}

	var kf keyFile
	if err := json.Unmarshal(data, &kf); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", fileName, err)
	}
	if kf == nil {
		kf = keyFile{}
	}
	return kf, nil
}

func (s *Store) write(kf keyFile) error {
	if err := os.MkdirAll(s.configDir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := json.MarshalIndent(kf, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.Path(), data, 0600); err != nil {
		return fmt.Errorf("failed to write %s: %w", fileName, err)
	}
	return nil
}

func (s *Store) Set(provider, key string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return ErrNoAPIKey
	}
	kf, err := s.read()
	if err != nil {
		return err
	}
	kf[provider] = entry{Key: key}
	return s.write(kf)
}

// Get returns "" without error when no key is stored for provider.
func (s *Store) Get(provider string) (string, error) {
	kf, err := s.read()
	if err != nil {
		return "", err
	}
	return kf[provider].Key, nil
}

func (s *Store) Delete(provider string) error {
	kf, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := kf[provider]; !ok {
		return fmt.Errorf("%w for %s", ErrKeyNotFound, provider)
	}
	delete(kf, provider)
	return s.write(kf)
}

// List returns the providers that have a stored key, sorted.
func (s *Store) List() ([]string, error) {
	kf, err := s.read()
	if err != nil {
		return nil, err
	}
	providers := make([]string, 0, len(kf))
	for p := range kf {
		providers = append(providers, p)
	}
	slices.Sort(providers)
	return providers, nil
}

// MaskKey hides all but the first and last four characters.
func MaskKey(key string) string {
	if len(key) <= 8 {
		return strings.Repeat("*", len(key))
	}
	return key[:4] + strings.Repeat("*", len(key)-8) + key[len(key)-4:]
}

// Resolve picks the API key for provider. Order: explicit flag value, stored
// key, then envVar. The second return value names the source for messages.
// store may be nil.
func Resolve(explicit, provider, envVar string, store *Store, getenv func(string) string) (string, string, error) {
	if explicit != "" {
		return explicit, "command-line flag", nil
	}

	if store != nil {
		if stored, err := store.Get(provider); err == nil && stored != "" {
			return stored, "stored key (" + store.Path() + ")", nil
		}
	}

	if envKey := getenv(envVar); envKey != "" {
		return envKey, "environment variable (" + envVar + ")", nil
	}

	return "", "", fmt.Errorf("%w: run '%s keys set' or set the %s environment variable", ErrNoAPIKey, appName, envVar)
}
