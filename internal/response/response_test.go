package response

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"recycloai/internal/classifier"
	"recycloai/internal/contextutils"
	"recycloai/internal/models"
	"recycloai/internal/services"
)

func decode(t *testing.T, rr *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

func TestBuilder_WriteSuccessEnvelope(t *testing.T) {
	b := NewBuilder(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(contextutils.WithRequestID(req.Context(), "req-1"))
	rr := httptest.NewRecorder()

	b.WriteCreated(rr, req, map[string]int{"points": 8})

	assert.Equal(t, http.StatusCreated, rr.Code)
	body := decode(t, rr)
	assert.Equal(t, true, body["success"])
	assert.Equal(t, "req-1", body["request_id"])
	assert.Equal(t, "v1", body["version"])
	assert.NotZero(t, body["timestamp"])
	assert.Equal(t, float64(8), body["data"].(map[string]interface{})["points"])
	assert.NotContains(t, body, "error")
}

func TestBuilder_WriteErrorUsesServiceStatus(t *testing.T) {
	b := NewBuilder(nil, nil)

	t.Run("classifier timeout", func(t *testing.T) {
		rr := httptest.NewRecorder()
		b.WriteError(rr, httptest.NewRequest(http.MethodPost, "/", nil), services.NewClassificationError(classifier.ErrTimeout))

		assert.Equal(t, http.StatusGatewayTimeout, rr.Code)
		errObj := decode(t, rr)["error"].(map[string]interface{})
		assert.Equal(t, services.ErrTypeClassification, errObj["type"])
		assert.Equal(t, "CLASSIFIER_TIMEOUT", errObj["code"])
		assert.Equal(t, true, errObj["details"].(map[string]interface{})["retryable"])
	})

	t.Run("plain errors are masked", func(t *testing.T) {
		rr := httptest.NewRecorder()
		b.WriteError(rr, httptest.NewRequest(http.MethodGet, "/", nil), errors.New("pq: password authentication failed"))

		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		body := decode(t, rr)
		assert.Equal(t, false, body["success"])
		errObj := body["error"].(map[string]interface{})
		assert.Equal(t, services.ErrTypeInternal, errObj["type"])
		assert.Equal(t, "An internal error occurred", errObj["message"])
	})

	t.Run("unauthorized", func(t *testing.T) {
		rr := httptest.NewRecorder()
		b.WriteUnauthorized(rr, httptest.NewRequest(http.MethodGet, "/", nil), "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})
}

func TestPaginationParser(t *testing.T) {
	p := NewPaginationParser(nil)

	params, err := p.ParseFromQuery(url.Values{})
	require.NoError(t, err)
	assert.Equal(t, models.PaginationParams{Limit: 20, Offset: 0}, params)

	params, err = p.ParseFromQuery(url.Values{"page": {"3"}, "page_size": {"10"}})
	require.NoError(t, err)
	assert.Equal(t, models.PaginationParams{Limit: 10, Offset: 20}, params)

	for _, q := range []url.Values{
		{"page": {"abc"}},
		{"page": {"0"}},
		{"page_size": {"-1"}},
		{"page_size": {"101"}},
	} {
		_, err := p.ParseFromQuery(q)
		assert.Error(t, err, q.Encode())
	}
}

func TestWritePaginated(t *testing.T) {
	b := NewBuilder(nil, nil)
	rr := httptest.NewRecorder()
	page := &models.PaginatedResponse[string]{
		Data:       []string{"a", "b"},
		Pagination: models.NewPaginationMeta(models.NewPaginationParams(1, 2), 5),
	}

	WritePaginated(b, rr, httptest.NewRequest(http.MethodGet, "/", nil), page)

	assert.Equal(t, http.StatusOK, rr.Code)
	body := decode(t, rr)
	pagination := body["meta"].(map[string]interface{})["pagination"].(map[string]interface{})
	assert.Equal(t, float64(1), pagination["page"])
	assert.Equal(t, float64(2), pagination["page_size"])
	assert.Equal(t, float64(5), pagination["total"])
	assert.Equal(t, float64(3), pagination["total_pages"])
	assert.Equal(t, true, pagination["has_next"])
	assert.Equal(t, false, pagination["has_prev"])
}
