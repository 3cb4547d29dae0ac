package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudinary/cloudinary-go/v2"
	"github.com/cloudinary/cloudinary-go/v2/api/uploader"
	"go.uber.org/zap"

	"recycloai/internal/config"
	"recycloai/internal/metrics"
)

// Cloudinary stores scan images in a Cloudinary folder per user
type Cloudinary struct {
	client *cloudinary.Cloudinary
	folder string

	uploadTimeout time.Duration
	deleteTimeout time.Duration
	maxRetries    int
	logger        *zap.Logger
}

// NewCloudinary creates a Cloudinary backed storage
func NewCloudinary(cfg config.CloudinaryConfig, logger *zap.Logger) (*Cloudinary, error) {
	if cfg.CloudName == "" || cfg.APIKey == "" || cfg.APISecret == "" {
		return nil, ErrMissingCredentials
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	cld, err := cloudinary.NewFromParams(cfg.CloudName, cfg.APIKey, cfg.APISecret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cloudinary: %w", err)
	}

	timeout := cfg.UploadTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	folder := cfg.Folder
	if folder == "" {
		folder = "recycloai/scans"
	}

	logger.Info("Cloudinary storage initialized", zap.String("folder", folder))

	return &Cloudinary{
		client:        cld,
		folder:        folder,
		uploadTimeout: timeout,
		deleteTimeout: 10 * time.Second,
		maxRetries:    cfg.MaxRetries,
		logger:        logger,
	}, nil
}

func ptrBool(b bool) *bool {
	return &b
}

// Upload stores data under {folder}/{user_id}, retrying transient failures
func (c *Cloudinary) Upload(ctx context.Context, userID, filename string, data []byte) (*Object, error) {
	start := time.Now()

	contentType, err := DetectImage(data, 0)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.uploadTimeout)
	defer cancel()

	params := uploader.UploadParams{
		Folder:         userFolder(c.folder, userID),
		UniqueFilename: ptrBool(true),
		ResourceType:   "image",
	}

	var result *uploader.UploadResult
	operation := func() error {
		res, opErr := c.client.Upload.Upload(ctx, bytes.NewReader(data), params)
		if opErr != nil {
			return opErr
		}
		if res.Error.Message != "" {
			return fmt.Errorf("cloudinary: %s", res.Error.Message)
		}
		result = res
		return nil
	}

	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.uploadTimeout / 2
	err = backoff.RetryNotify(
		operation,
		backoff.WithContext(backoff.WithMaxRetries(b, uint64(max(c.maxRetries, 0))), ctx),
		func(err error, d time.Duration) {
			c.logger.Warn("Upload attempt failed",
				zap.String("user_id", userID),
				zap.Error(err),
				zap.Duration("backoff", d))
		},
	)
	if err != nil {
		metrics.StorageDuration.WithLabelValues("error").Observe(time.Since(start).Seconds())
		c.logger.Error("All upload attempts failed",
			zap.String("user_id", userID),
			zap.Int("max_retries", c.maxRetries),
			zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUploadFailed, err)
	}
	metrics.StorageDuration.WithLabelValues("ok").Observe(time.Since(start).Seconds())

	c.logger.Info("Image uploaded",
		zap.String("user_id", userID),
		zap.String("filename", filename),
		zap.String("public_id", result.PublicID),
		zap.Int("bytes", result.Bytes),
		zap.Duration("duration", time.Since(start)))

	return &Object{
		URL:         result.SecureURL,
		PublicID:    result.PublicID,
		ContentType: contentType,
		Size:        result.Bytes,
	}, nil
}

// Delete removes an uploaded image by public id
func (c *Cloudinary) Delete(ctx context.Context, publicID string) error {
	ctx, cancel := context.WithTimeout(ctx, c.deleteTimeout)
	defer cancel()

	res, err := c.client.Upload.Destroy(ctx, uploader.DestroyParams{PublicID: publicID})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeleteFailed, err)
	}
	if res.Error.Message != "" {
		return fmt.Errorf("%w: %s", ErrDeleteFailed, res.Error.Message)
	}

	c.logger.Info("Image deleted", zap.String("public_id", publicID), zap.String("result", res.Result))
	return nil
}
