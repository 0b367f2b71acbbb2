package api

import (
	"context"
	"driver-cost-service/internal/api/dto"
	"driver-cost-service/internal/domain"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubSource struct {
	stops []domain.Stop
	err   error
}

func (s stubSource) ListStops(context.Context) ([]domain.Stop, error) { return s.stops, s.err }

type stubRunner struct {
	got     []domain.Stop
	written *domain.Report
	err     error
}

func (r *stubRunner) Run(_ context.Context, stops []domain.Stop) (*domain.Report, error) {
	r.got = stops
	if r.err != nil {
		return nil, r.err
	}
	return &domain.Report{
		RunID: "run-1",
		Daily: []domain.DriverDayCost{{DriverID: stops[0].DriverID, TotalCost: 555, IsRouteComplete: true}},
		Segments: []domain.Segment{{
			Index:    1,
			Distance: domain.DistanceResult{DistanceMeters: 111000, Source: domain.SourceProvider},
			Cost:     277.5,
		}},
	}, nil
}

func (r *stubRunner) Write(_ context.Context, rep *domain.Report) error {
	r.written = rep
	return nil
}

var storedStops = []domain.Stop{{
	DriverID:  "D-stored",
	Timestamp: time.Date(2024, 1, 1, 8, 0, 0, 0, time.UTC),
	Location:  domain.Coordinates{Lat: 1, Lon: 2},
}}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealth(t *testing.T) {
	h := NewRouter(stubSource{}, &stubRunner{}, nil)

	rec := do(t, h, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/health", "")
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, http.MethodGet, rec.Header().Get("Allow"))
}

func TestListStops(t *testing.T) {
	h := NewRouter(stubSource{stops: storedStops}, &stubRunner{}, nil)

	rec := do(t, h, http.MethodGet, "/stops", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var res dto.ListStopsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	require.Len(t, res.Stops, 1)
	assert.Equal(t, "D-stored", res.Stops[0].DriverID)
	assert.Equal(t, "2024-01-01", res.Stops[0].Date)
	require.NotNil(t, res.Stops[0].Lat)
	assert.Equal(t, 1.0, *res.Stops[0].Lat)
}

func TestListStops_SourceError(t *testing.T) {
	h := NewRouter(stubSource{err: errors.New("db down")}, &stubRunner{}, nil)

	rec := do(t, h, http.MethodGet, "/stops", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestRun_InlineStops(t *testing.T) {
	runner := &stubRunner{}
	h := NewRouter(stubSource{stops: storedStops}, runner, nil)

	body := `{"stops":[{"driver_id":"D1","timestamp":"2024-01-01T08:00:00Z","lat":0,"lng":0}],"include_segments":true}`
	rec := do(t, h, http.MethodPost, "/runs", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	require.Len(t, runner.got, 1)
	assert.Equal(t, "D1", runner.got[0].DriverID)
	assert.Nil(t, runner.written)

	var res dto.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "run-1", res.RunID)
	require.Len(t, res.Daily, 1)
	assert.Equal(t, 555.0, res.Daily[0].TotalCost)
	require.Len(t, res.Segments, 1)
	assert.Equal(t, 111.0, res.Segments[0].DistanceKm)
}

func TestRun_FallsBackToSourceAndPersists(t *testing.T) {
	runner := &stubRunner{}
	h := NewRouter(stubSource{stops: storedStops}, runner, nil)

	rec := do(t, h, http.MethodPost, "/runs", `{"persist":true}`)
	require.Equal(t, http.StatusOK, rec.Code)

	require.Len(t, runner.got, 1)
	assert.Equal(t, "D-stored", runner.got[0].DriverID)
	require.NotNil(t, runner.written)
	assert.Equal(t, "run-1", runner.written.RunID)

	var res dto.RunResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Empty(t, res.Segments)
}

func TestRun_EmptyBodyUsesSource(t *testing.T) {
	runner := &stubRunner{}
	h := NewRouter(stubSource{stops: storedStops}, runner, nil)

	rec := do(t, h, http.MethodPost, "/runs", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, runner.got, 1)
}

func TestRun_BadRequests(t *testing.T) {
	h := NewRouter(stubSource{stops: storedStops}, &stubRunner{}, nil)

	tests := []struct {
		name   string
		method string
		body   string
		want   int
	}{
		{"wrong method", http.MethodGet, "", http.StatusMethodNotAllowed},
		{"malformed json", http.MethodPost, "{", http.StatusBadRequest},
		{"unknown field", http.MethodPost, `{"trucks":3}`, http.StatusBadRequest},
		{"two objects", http.MethodPost, `{} {}`, http.StatusBadRequest},
		{"bad timestamp", http.MethodPost, `{"stops":[{"driver_id":"D1","timestamp":"soon"}]}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, h, tt.method, "/runs", tt.body)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRun_RunnerError(t *testing.T) {
	h := NewRouter(stubSource{stops: storedStops}, &stubRunner{err: context.Canceled}, nil)

	rec := do(t, h, http.MethodPost, "/runs", "")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}
