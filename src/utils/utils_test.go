package utils

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTimestamp(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)

	tests := []struct {
		name     string
		value    string
		loc      *time.Location
		expected time.Time
		wantErr  bool
	}{
		{"rfc3339", "2024-03-01T09:00:00Z", nil, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), false},
		{"fractional seconds truncated", "2024-03-01T09:00:00.750Z", nil, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), false},
		{"zone-less in location", "2024-03-01 09:00", ny, time.Date(2024, 3, 1, 14, 0, 0, 0, time.UTC), false},
		{"us date", "03/01/2024 09:00:00", nil, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), false},
		{"unix seconds", "1709283600", nil, time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC), false},
		{"date only", "2024-03-01", nil, time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), false},
		{"empty", "  ", nil, time.Time{}, true},
		{"garbage", "yesterday", nil, time.Time{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTimestamp(tt.value, tt.loc)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.expected.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestRoundFloatAndClamp(t *testing.T) {
	assert.Equal(t, 0.88, RoundFloat(0.8849, 2))
	assert.Equal(t, 0.0, Clamp01(-0.2))
	assert.Equal(t, 1.0, Clamp01(1.7))
	assert.Equal(t, 0.42, Clamp01(0.42))
}

func TestSendJSONWithETag(t *testing.T) {
	payload := map[string]int{"total": 3}

	rec := httptest.NewRecorder()
	SendJSONWithETag(rec, httptest.NewRequest(http.MethodGet, "/x", nil), payload)
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)
	assert.JSONEq(t, `{"total":3}`, rec.Body.String())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	SendJSONWithETag(rec, req, payload)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}

func TestSendJSONError(t *testing.T) {
	rec := httptest.NewRecorder()
	SendJSONError(rec, "bad things", http.StatusBadRequest)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.JSONEq(t, `{"error":"bad things"}`, rec.Body.String())
}
