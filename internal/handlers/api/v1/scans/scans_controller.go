// ===============================
// FILE: internal/handlers/api/v1/scans/scans_controller.go
// ===============================

package scans

import (
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"recycloai/internal/contextutils"
	"recycloai/internal/response"
	"recycloai/internal/services"
)

const (
	// imageField is the multipart field carrying the photo
	imageField = "image"
	// multipartOverhead is allowed on top of the image for the form envelope
	multipartOverhead = 1 << 20
	// multipartMemory is kept in memory before spilling to temp files
	multipartMemory = 8 << 20
)

// ScanController handles scan submission and history
type ScanController struct {
	serviceCollection *services.ServiceCollection
	responseBuilder   *response.Builder
	paginationParser  *response.PaginationParser
	logger            *zap.Logger
	maxUploadBytes    int64
}

// NewScanController creates a new scan controller
func NewScanController(
	serviceCollection *services.ServiceCollection,
	logger *zap.Logger,
	responseBuilder *response.Builder,
) *ScanController {
	maxUpload := int64(10 << 20)
	if serviceCollection.Config != nil && serviceCollection.Config.Server.MaxUploadBytes > 0 {
		maxUpload = serviceCollection.Config.Server.MaxUploadBytes
	}
	return &ScanController{
		serviceCollection: serviceCollection,
		responseBuilder:   responseBuilder,
		paginationParser:  response.NewPaginationParser(response.DefaultPaginationConfig()),
		logger:            logger,
		maxUploadBytes:    maxUpload,
	}
}

// SubmitScan handles POST /api/v1/scans
func (c *ScanController) SubmitScan(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := contextutils.GetUserID(ctx)
	if userID == "" {
		c.responseBuilder.WriteUnauthorized(w, r, "authentication required")
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, c.maxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		c.responseBuilder.WriteError(w, r, c.uploadError(err))
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	file, header, err := r.FormFile(imageField)
	if err != nil {
		c.responseBuilder.WriteBadRequest(w, r, "multipart field \"image\" is required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, c.maxUploadBytes+1))
	if err != nil {
		c.responseBuilder.WriteError(w, r, c.uploadError(err))
		return
	}

	result, err := c.serviceCollection.ScanService.SubmitScan(ctx, &services.SubmitScanRequest{
		UserID:   userID,
		Filename: header.Filename,
		Image:    data,
	})
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	c.responseBuilder.WriteCreated(w, r, result)
}

// ListScans handles GET /api/v1/scans
func (c *ScanController) ListScans(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	userID := contextutils.GetUserID(ctx)
	if userID == "" {
		c.responseBuilder.WriteUnauthorized(w, r, "authentication required")
		return
	}

	params, err := c.paginationParser.ParseFromQuery(r.URL.Query())
	if err != nil {
		c.responseBuilder.WriteBadRequest(w, r, err.Error())
		return
	}

	page, err := c.serviceCollection.ScanService.ListScans(ctx, userID, params)
	if err != nil {
		c.responseBuilder.WriteError(w, r, err)
		return
	}

	response.WritePaginated(c.responseBuilder, w, r, page)
}

func (c *ScanController) uploadError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		se := services.NewValidationError("image exceeds the upload limit", err)
		se.StatusCode = http.StatusRequestEntityTooLarge
		se.Code = "IMAGE_TOO_LARGE"
		return se
	}
	return services.NewValidationError("malformed multipart upload", err)
}
