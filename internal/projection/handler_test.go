package projection

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/statkit/statkit/internal/core/stats"
	"github.com/statkit/statkit/internal/core/storage"
)

// failingAggregateStore makes reads fail so handler tests can reach the 500
// path without a real backend.
type failingAggregateStore struct {
	*storage.MemoryAggregateStore
}

func (s *failingAggregateStore) QueryDocuments(ctx context.Context, target string, dimension string, from, through time.Time) ([]stats.AggregateDocument, error) {
	return nil, errors.New("connection reset")
}

func (s *failingAggregateStore) TopDimensions(ctx context.Context, target string, from, through time.Time, limit int) ([]stats.DimensionTotal, error) {
	return nil, errors.New("connection reset")
}

func newTestRouter(svc *Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	svc.RegisterRoutes(r)
	return r
}

func TestHandleQueryStats_StatusMapping(t *testing.T) {
	start := time.Date(2025, 6, 14, 0, 0, 0, 0, time.UTC)
	end := time.Date(2025, 6, 16, 0, 0, 0, 0, time.UTC)

	tests := []struct {
		name              string
		path              string
		failStore         bool
		expectedStatus    int
		expectedErrorType string
	}{
		{
			name: "missing start returns 400",
			path: fmt.Sprintf("/v1/stats/file-download-agg?end=%s",
				end.Format(time.RFC3339)),
			expectedStatus:    http.StatusBadRequest,
			expectedErrorType: "invalid_query",
		},
		{
			name: "malformed start returns 400",
			path: fmt.Sprintf("/v1/stats/file-download-agg?start=yesterday&end=%s",
				end.Format(time.RFC3339)),
			expectedStatus:    http.StatusBadRequest,
			expectedErrorType: "invalid_query",
		},
		{
			name: "inverted range returns 400",
			path: fmt.Sprintf("/v1/stats/file-download-agg?start=%s&end=%s",
				end.Format(time.RFC3339), start.Format(time.RFC3339)),
			expectedStatus:    http.StatusBadRequest,
			expectedErrorType: "invalid_query",
		},
		{
			name: "unknown aggregation returns 400",
			path: fmt.Sprintf("/v1/stats/missing-agg?start=%s&end=%s",
				start.Format(time.RFC3339), end.Format(time.RFC3339)),
			expectedStatus:    http.StatusBadRequest,
			expectedErrorType: "unknown_aggregation",
		},
		{
			name: "store failure returns 500",
			path: fmt.Sprintf("/v1/stats/file-download-agg?start=%s&end=%s",
				start.Format(time.RFC3339), end.Format(time.RFC3339)),
			failStore:         true,
			expectedStatus:    http.StatusInternalServerError,
			expectedErrorType: "internal_error",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			svc, store, agg := newProjectionFixture(t)
			seedDocuments(t, store, agg)
			if tc.failStore {
				svc.store = &failingAggregateStore{MemoryAggregateStore: store}
			}

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, tc.path, nil)
			newTestRouter(svc).ServeHTTP(w, req)

			require.Equal(t, tc.expectedStatus, w.Code)

			var body map[string]interface{}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			require.Equal(t, tc.expectedErrorType, body["error_type"])
		})
	}
}

func TestHandleQueryStats_Success(t *testing.T) {
	svc, store, agg := newProjectionFixture(t)
	seedDocuments(t, store, agg)
	svc.nowFn = func() time.Time {
		return time.Date(2025, 6, 17, 0, 0, 0, 0, time.UTC)
	}

	path := "/v1/stats/file-download-agg?start=2025-06-14T00:00:00Z&end=2025-06-16T00:00:00Z"
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	newTestRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsQueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "file-download-agg", resp.Aggregation)
	require.Equal(t, "file-download", resp.Target)
	require.Equal(t, "day", resp.Interval)
	require.Equal(t, GranularityBucket, resp.Granularity)
	require.Len(t, resp.Buckets, 3)
	require.Equal(t, int64(3), resp.Buckets[0].Count)
	require.Equal(t, "300", resp.Buckets[0].Metrics["volume"].String())
}

func TestHandleQueryStats_GranularityAndDimensionPassThrough(t *testing.T) {
	svc, store, agg := newProjectionFixture(t)
	seedDocuments(t, store, agg)

	path := "/v1/stats/file-download-agg" +
		"?start=2025-06-14T00:00:00Z&end=2025-06-16T00:00:00Z" +
		"&granularity=total&dimension=F1"
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	newTestRouter(svc).ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp StatsQueryResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, GranularityTotal, resp.Granularity)
	require.Equal(t, "F1", resp.Dimension)
	require.Len(t, resp.Buckets, 1)
	require.Equal(t, int64(5), resp.Buckets[0].Count)
}

func TestHandleTopDimensions(t *testing.T) {
	svc, store, agg := newProjectionFixture(t)
	seedDocuments(t, store, agg)

	t.Run("success", func(t *testing.T) {
		path := "/v1/stats/file-download-agg/top?start=2025-06-14T00:00:00Z&end=2025-06-16T00:00:00Z&limit=1"
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		newTestRouter(svc).ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)

		var resp TopDimensionsResponse
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		require.Equal(t, 1, resp.Limit)
		require.Len(t, resp.Dimensions, 1)
		require.Equal(t, "F2", resp.Dimensions[0].Dimension)
		require.Equal(t, int64(6), resp.Dimensions[0].Count)
	})

	t.Run("missing range returns 400", func(t *testing.T) {
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/v1/stats/file-download-agg/top", nil)
		newTestRouter(svc).ServeHTTP(w, req)
		require.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("store failure returns 500", func(t *testing.T) {
		failing, failStore, failAgg := newProjectionFixture(t)
		seedDocuments(t, failStore, failAgg)
		failing.store = &failingAggregateStore{MemoryAggregateStore: failStore}

		path := "/v1/stats/file-download-agg/top?start=2025-06-14T00:00:00Z&end=2025-06-16T00:00:00Z"
		w := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, path, nil)
		newTestRouter(failing).ServeHTTP(w, req)
		require.Equal(t, http.StatusInternalServerError, w.Code)
	})
}
