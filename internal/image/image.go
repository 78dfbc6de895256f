package image

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manash/imgcanvas/pkg/models"
)

var (
	ErrPathTraversal = errors.New("path traversal detected")
	ErrReservedName  = errors.New("reserved filename not allowed")
	ErrHyphenName    = errors.New("filename cannot start with hyphen")
	ErrEmptyImage    = errors.New("no image data available")
)

var windowsReservedNames = map[string]bool{
	"con": true, "prn": true, "aux": true, "nul": true,
	"com1": true, "com2": true, "com3": true, "com4": true,
	"com5": true, "com6": true, "com7": true, "com8": true, "com9": true,
	"lpt1": true, "lpt2": true, "lpt3": true, "lpt4": true,
	"lpt5": true, "lpt6": true, "lpt7": true, "lpt8": true, "lpt9": true,
}

// ValidateExportPath rejects relative paths that climb out of the working
// directory and file names that are unsafe on some platforms. Absolute paths
// are allowed.
func ValidateExportPath(path string) error {
	if path == "" {
		return errors.New("export path is empty")
	}

	if !filepath.IsAbs(path) {
		for _, seg := range strings.FieldsFunc(path, func(r rune) bool { return r == '/' || r == '\\' }) {
			if seg == ".." {
				return ErrPathTraversal
			}
		}
	}

	base := filepath.Base(filepath.Clean(path))
	nameWithoutExt := strings.TrimSuffix(strings.ToLower(base), filepath.Ext(base))
	if windowsReservedNames[nameWithoutExt] {
		return ErrReservedName
	}
	if strings.HasPrefix(base, "-") {
		return ErrHyphenName
	}
	return nil
}

// Save writes img to path, creating parent directories as needed.
func Save(img *models.Image, path string) error {
	if img == nil || len(img.Data) == 0 {
		return ErrEmptyImage
	}
	if err := ValidateExportPath(path); err != nil {
		return fmt.Errorf("invalid export path %q: %w", path, err)
	}

	if err := ensureDir(path); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, img.Data, 0644); err != nil {
		return fmt.Errorf("failed to write file: %w", err)
	}
	return nil
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if dir == "" || dir == "." {
		return nil
	}
	return os.MkdirAll(dir, 0755)
}

// Extension returns the file extension for the image's media type, "png"
// when the type is unknown.
func Extension(img *models.Image) string {
	if img == nil {
		return string(models.FormatPNG)
	}
	format, ok := models.FormatForMIME(img.MIMEType)
	if !ok {
		return string(models.FormatPNG)
	}
	if format == models.FormatJPEG {
		return "jpg"
	}
	return string(format)
}

// GenerateFilename names an export after the current time plus a short random
// suffix so that exports in the same second do not collide.
func GenerateFilename(img *models.Image) string {
	return GenerateFilenameWithTime(img, time.Now(), uuid.NewString()[:8])
}

func GenerateFilenameWithTime(img *models.Image, t time.Time, suffix string) string {
	timestamp := t.Format("20060102-150405")
	if suffix == "" {
		return fmt.Sprintf("canvas-%s.%s", timestamp, Extension(img))
	}
	return fmt.Sprintf("canvas-%s-%s.%s", timestamp, suffix, Extension(img))
}
