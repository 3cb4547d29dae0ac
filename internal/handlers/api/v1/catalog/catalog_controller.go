package catalog

import (
	"net/http"

	"recycloai/internal/impact"
	"recycloai/internal/response"
)

// CatalogController serves the public disposal guidance
type CatalogController struct {
	responseBuilder *response.Builder
}

// NewCatalogController creates a new catalog controller
func NewCatalogController(responseBuilder *response.Builder) *CatalogController {
	return &CatalogController{responseBuilder: responseBuilder}
}

// ListWasteTypes handles GET /api/v1/waste-types
func (c *CatalogController) ListWasteTypes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "public, max-age=3600")
	c.responseBuilder.WriteSuccess(w, r, impact.Catalog())
}
