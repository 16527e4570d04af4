package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// LocalImageScheme prefixes image locators that point at a file inside the
// state directory rather than at remote blob storage. These handles are
// transient: a successful push replaces them with the durable URL.
const LocalImageScheme = "local://"

const imagesDir = "images"

// IsLocalImage reports whether an image locator is a transient local handle.
func IsLocalImage(imageURL string) bool {
	return strings.HasPrefix(imageURL, LocalImageScheme)
}

// SaveImage writes image bytes under the state directory and returns the
// local handle for the record's imageUrl field.
func (s *Store) SaveImage(id string, data []byte, contentType string) (string, error) {
	ext := "jpg"
	if contentType == "image/png" {
		ext = "png"
	}

	dir := filepath.Join(s.dir, imagesDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create images dir: %w", err)
	}

	name := fmt.Sprintf("%s.%s", id, ext)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write image: %w", err)
	}
	return LocalImageScheme + name, nil
}

// LoadImage reads the bytes behind a local handle.
func (s *Store) LoadImage(imageURL string) ([]byte, string, error) {
	name, err := s.imageFileName(imageURL)
	if err != nil {
		return nil, "", err
	}

	data, err := os.ReadFile(filepath.Join(s.dir, imagesDir, name))
	if err != nil {
		return nil, "", fmt.Errorf("failed to read image: %w", err)
	}

	contentType := "image/jpeg"
	if strings.HasSuffix(name, ".png") {
		contentType = "image/png"
	}
	return data, contentType, nil
}

// DeleteImage removes the file behind a local handle. Best-effort.
func (s *Store) DeleteImage(imageURL string) {
	name, err := s.imageFileName(imageURL)
	if err != nil {
		return
	}
	if err := os.Remove(filepath.Join(s.dir, imagesDir, name)); err != nil && !os.IsNotExist(err) {
		s.log.Warn().Err(err).Str("image", name).Msg("failed to delete local image")
	}
}

func (s *Store) imageFileName(imageURL string) (string, error) {
	if !IsLocalImage(imageURL) {
		return "", fmt.Errorf("not a local image handle: %s", imageURL)
	}
	name := strings.TrimPrefix(imageURL, LocalImageScheme)
	// Reject anything that could escape the images directory.
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("invalid local image handle: %s", imageURL)
	}
	return name, nil
}
