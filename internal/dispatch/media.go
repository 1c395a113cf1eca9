package dispatch

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/disintegration/imaging"
)

// DefaultMediaMaxMB caps outbound media size when a channel has no
// explicit limit configured.
const DefaultMediaMaxMB = 5

// MediaMaxFor resolves the per-channel outbound media cap in bytes.
func MediaMaxFor(channel string, overrides map[string]int) int64 {
	mb := DefaultMediaMaxMB
	if n, ok := overrides[channel]; ok && n > 0 {
		mb = n
	}
	return int64(mb) * 1024 * 1024
}

// ValidateMedia checks that path exists and fits under maxBytes. An
// oversized file is a PermanentError — retrying won't shrink it.
func ValidateMedia(path string, maxBytes int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return Permanentf("media file unavailable: %w", err)
	}
	if maxBytes > 0 && info.Size() > maxBytes {
		return Permanentf("media %s is %d bytes, exceeds channel limit %d", filepath.Base(path), info.Size(), maxBytes)
	}
	return nil
}

// isImagePath reports whether the attachment looks like a re-encodable image.
func isImagePath(path, contentType string) bool {
	if strings.HasPrefix(contentType, "image/") {
		return contentType != "image/gif"
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".jpg", ".jpeg", ".png", ".webp", ".bmp", ".tif", ".tiff":
		return true
	}
	return false
}

// SanitizeImage re-encodes an image attachment to a clean JPEG in the same
// directory, dropping EXIF/metadata and normalizing exotic encodings that
// some providers reject. Returns the new path; the caller owns cleanup of
// both files. Non-image inputs are returned unchanged.
func SanitizeImage(path, contentType string) (string, error) {
	if !isImagePath(path, contentType) {
		return path, nil
	}

	img, err := imaging.Open(path, imaging.AutoOrientation(true))
	if err != nil {
		return "", Permanentf("decode image %s: %w", filepath.Base(path), err)
	}

	out := strings.TrimSuffix(path, filepath.Ext(path)) + ".sanitized.jpg"
	if err := imaging.Save(img, out, imaging.JPEGQuality(85)); err != nil {
		return "", fmt.Errorf("re-encode image: %w", err)
	}
	return out, nil
}
