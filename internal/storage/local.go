package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"go.uber.org/zap"

	"recycloai/internal/metrics"
)

// Local writes images below a directory and serves them from PublicURL.
// Used in development and tests.
type Local struct {
	root      string
	publicURL string
	logger    *zap.Logger
}

// NewLocal creates the root directory if needed
func NewLocal(root, publicURL string, logger *zap.Logger) (*Local, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if root == "" {
		return nil, errors.New("local storage directory is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create storage directory: %w", err)
	}
	return &Local{root: root, publicURL: strings.TrimRight(publicURL, "/"), logger: logger}, nil
}

// Upload writes data to {root}/{user_id}/{uuid}{ext}
func (l *Local) Upload(ctx context.Context, userID, filename string, data []byte) (*Object, error) {
	start := time.Now()
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contentType, err := DetectImage(data, 0)
	if err != nil {
		return nil, err
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	publicID := userFolder("", userID) + "/" + id.String() + allowedTypes[contentType]

	dest := filepath.Join(l.root, filepath.FromSlash(publicID))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		metrics.StorageDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	if err := os.WriteFile(dest, data, 0o644); err != nil {
		metrics.StorageDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	metrics.StorageDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	l.logger.Debug("Image stored locally",
		zap.String("user_id", userID),
		zap.String("filename", filename),
		zap.String("public_id", publicID))

	return &Object{
		URL:         l.publicURL + "/" + publicID,
		PublicID:    publicID,
		ContentType: contentType,
		Size:        len(data),
	}, nil
}

// Delete removes a stored image. Missing files are not an error.
func (l *Local) Delete(_ context.Context, publicID string) error {
	clean := filepath.Clean("/" + filepath.FromSlash(publicID))
	err := os.Remove(filepath.Join(l.root, clean))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	return nil
}
