package media

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

const MaxFileBytes = 25 << 20

// ReadFile loads an image from disk, sniffing its type from the content.
func ReadFile(path string) (Image, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Image{}, fmt.Errorf("read image: empty path")
	}

	info, err := os.Stat(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	if info.Size() > MaxFileBytes {
		return Image{}, fmt.Errorf("read image: %s is larger than %d bytes", path, MaxFileBytes)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Image{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return Image{}, ErrEmptyImage
	}
	return FromBytes(data, ""), nil
}

// DownloadName is the file name offered for the index-th image of a turn.
func DownloadName(messageID string, index int, img Image) string {
	return fmt.Sprintf("generated-%s-%d%s", messageID, index, img.Extension())
}

// Save writes img into dir under name and returns the full path.
func Save(dir, name string, img Image) (string, error) {
	data, err := img.Bytes()
	if err != nil {
		return "", err
	}
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create dir: %w", err)
	}

	path := filepath.Join(dir, filepath.Base(name))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write image: %w", err)
	}
	return path, nil
}
