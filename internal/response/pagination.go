package response

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"recycloai/internal/models"
)

// PaginationConfig holds pagination configuration
type PaginationConfig struct {
	DefaultPageSize int    `json:"default_page_size"`
	MaxPageSize     int    `json:"max_page_size"`
	PageParam       string `json:"page_param"`
	SizeParam       string `json:"size_param"`
}

// DefaultPaginationConfig returns default pagination configuration
func DefaultPaginationConfig() *PaginationConfig {
	return &PaginationConfig{
		DefaultPageSize: 20,
		MaxPageSize:     100,
		PageParam:       "page",
		SizeParam:       "page_size",
	}
}

// PaginationMeta is the pagination block of the envelope's meta
type PaginationMeta struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
	HasPrev    bool  `json:"has_prev"`
}

// PaginationParser reads page and page size from query strings
type PaginationParser struct {
	config *PaginationConfig
}

// NewPaginationParser creates a new pagination parser
func NewPaginationParser(config *PaginationConfig) *PaginationParser {
	if config == nil {
		config = DefaultPaginationConfig()
	}
	return &PaginationParser{config: config}
}

// ParseFromQuery parses pagination parameters from query string. Missing
// values fall back to page 1 and the default size; malformed values and sizes
// above the maximum are rejected.
func (p *PaginationParser) ParseFromQuery(query url.Values) (models.PaginationParams, error) {
	page := 1
	size := p.config.DefaultPageSize

	if raw := query.Get(p.config.PageParam); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return models.PaginationParams{}, fmt.Errorf("invalid %s parameter: %s", p.config.PageParam, raw)
		}
		if v < 1 {
			return models.PaginationParams{}, fmt.Errorf("%s must be greater than 0", p.config.PageParam)
		}
		page = v
	}

	if raw := query.Get(p.config.SizeParam); raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return models.PaginationParams{}, fmt.Errorf("invalid %s parameter: %s", p.config.SizeParam, raw)
		}
		if v < 1 {
			return models.PaginationParams{}, fmt.Errorf("%s must be greater than 0", p.config.SizeParam)
		}
		if v > p.config.MaxPageSize {
			return models.PaginationParams{}, fmt.Errorf("%s cannot exceed %d", p.config.SizeParam, p.config.MaxPageSize)
		}
		size = v
	}

	return models.NewPaginationParams(page, size), nil
}

// WritePaginated writes a page of results with its pagination metadata
func WritePaginated[T any](b *Builder, w http.ResponseWriter, r *http.Request, page *models.PaginatedResponse[T]) {
	resp := b.Success(r.Context(), page.Data)
	resp.Meta = &ResponseMeta{Pagination: &PaginationMeta{
		Page:       page.Pagination.CurrentPage,
		PageSize:   page.Pagination.ItemsPerPage,
		Total:      page.Pagination.TotalItems,
		TotalPages: page.Pagination.TotalPages,
		HasNext:    page.Pagination.HasNext,
		HasPrev:    page.Pagination.HasPrev,
	}}
	b.WriteJSON(w, r, resp, http.StatusOK)
}
