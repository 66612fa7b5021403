package middleware

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureRequestID(t *testing.T, header string) (string, *httptest.ResponseRecorder) {
	t.Helper()
	var got string
	h := RequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = RequestIDFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set(RequestIDHeader, header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return got, rec
}

func TestRequestIDGenerated(t *testing.T) {
	id, rec := captureRequestID(t, "")

	require.NotEmpty(t, id)
	_, err := uuid.Parse(id)
	assert.NoError(t, err)
	assert.Equal(t, id, rec.Header().Get(RequestIDHeader))
}

func TestRequestIDHeaderValidation(t *testing.T) {
	tests := []struct {
		name   string
		header string
		keep   bool
	}{
		{name: "alphanumeric with separators", header: "abc-123_DEF", keep: true},
		{name: "max length", header: strings.Repeat("a", 128), keep: true},
		{name: "too long", header: strings.Repeat("a", 129)},
		{name: "newline", header: "id\nforged: line"},
		{name: "spaces", header: "id with spaces"},
		{name: "markup", header: "<script>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, rec := captureRequestID(t, tt.header)
			require.NotEmpty(t, id)
			if tt.keep {
				assert.Equal(t, tt.header, id)
			} else {
				assert.NotEqual(t, tt.header, id)
			}
			assert.Equal(t, id, rec.Header().Get(RequestIDHeader))
		})
	}
}

func TestRequestIDFromContextOutsideRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	assert.Empty(t, RequestIDFromContext(req.Context()))
	assert.Equal(t, "r-1", RequestIDFromContext(WithRequestID(req.Context(), "r-1")))
}
