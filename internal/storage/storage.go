// Package storage uploads scan images to object storage.
package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"

	"go.uber.org/zap"

	"recycloai/internal/config"
)

var (
	ErrEmptyImage         = errors.New("image is empty")
	ErrImageTooLarge      = errors.New("image size exceeds limit")
	ErrUnsupportedImage   = errors.New("unsupported image type")
	ErrUploadFailed       = errors.New("failed to upload image")
	ErrDeleteFailed       = errors.New("failed to delete image")
	ErrMissingCredentials = errors.New("cloudinary credentials are missing")
)

// allowedTypes are the content types accepted for scan images
var allowedTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",
}

// Object is a stored image
type Object struct {
	URL         string `json:"url"`
	PublicID    string `json:"public_id"`
	ContentType string `json:"content_type"`
	Size        int    `json:"size"`
}

// Storage persists images and removes them again on rollback
type Storage interface {
	Upload(ctx context.Context, userID, filename string, data []byte) (*Object, error)
	Delete(ctx context.Context, publicID string) error
}

// New returns the provider selected in cfg
func New(cfg *config.Config, logger *zap.Logger) (Storage, error) {
	switch strings.ToLower(cfg.Storage.Provider) {
	case "cloudinary", "":
		return NewCloudinary(cfg.Cloudinary, logger)
	case "local":
		return NewLocal(cfg.Storage.LocalDir, cfg.Storage.PublicURL, logger)
	default:
		return nil, fmt.Errorf("unsupported storage provider: %s", cfg.Storage.Provider)
	}
}

// DetectImage sniffs the content type of data and checks it against the
// accepted image formats and size limit.
func DetectImage(data []byte, maxBytes int64) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyImage
	}
	if maxBytes > 0 && int64(len(data)) > maxBytes {
		return "", fmt.Errorf("%w: %d bytes exceeds %d bytes", ErrImageTooLarge, len(data), maxBytes)
	}
	sniff := data
	if len(sniff) > 512 {
		sniff = sniff[:512]
	}
	contentType := http.DetectContentType(sniff)
	if _, ok := allowedTypes[contentType]; !ok {
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, contentType)
	}
	return contentType, nil
}

// userFolder keeps every user's images under their own prefix
func userFolder(base, userID string) string {
	return path.Join(base, sanitize(userID))
}

func sanitize(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "anonymous"
	}
	return b.String()
}
