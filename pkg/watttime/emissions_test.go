package watttime

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const forecastFixture = `[
  {
    "generated_at": "2021-01-01T00:00:00+00:00",
    "forecast": [
      {"ba": "PJM_NJ", "point_time": "2021-01-01T00:05:00+00:00", "value": 883.25},
      {"ba": "PJM_NJ", "point_time": "2021-01-01T00:10:00+00:00", "value": 885.7}
    ]
  },
  {
    "generated_at": "2021-01-01T00:05:00+00:00",
    "forecast": [
      {"ba": "PJM_NJ", "point_time": "2021-01-01T00:10:00+00:00", "value": 881.01}
    ]
  }
]`

const historicalFixture = `[
  {"point_time": "2021-03-06T00:45:00.000Z", "value": 918, "frequency": 300, "market": "RT5M", "ba": "CAISO_NORTH", "datatype": "MOER", "version": "3.0"},
  {"point_time": "2021-03-06T00:40:00.000Z", "value": 915, "frequency": 300, "market": "RT5M", "ba": "CAISO_NORTH", "datatype": "MOER", "version": "3.0"}
]`

// ─── grid region ──────────────────────────────────────────────────────────────

func TestGetGridRegion_ByCoordinates(t *testing.T) {
	up := newUpstream(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+endpointGridRegion, r.URL.Path)
		assert.Equal(t, "40.814", r.URL.Query().Get("latitude"))
		assert.Equal(t, "-74.209", r.URL.Query().Get("longitude"))
		assert.Empty(t, r.URL.Query().Get("ba"))
		writeJSON(w, map[string]any{"id": 263, "abbrev": "PJM_NJ", "name": "PJM New Jersey"})
	})
	c := loginTestClient(t, up)

	region, err := c.Emissions.GetGridRegion(context.Background(), LocationForCoordinates("40.814", "-74.209"))
	require.NoError(t, err)
	assert.Equal(t, 263, region.ID)
	assert.Equal(t, "PJM_NJ", region.Abbrev)
	assert.Equal(t, "PJM New Jersey", region.Name)
}

func TestGetGridRegion_ByBalancingAuthority(t *testing.T) {
	up := newUpstream(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "CAISO_NORTH", r.URL.Query().Get("ba"))
		assert.Empty(t, r.URL.Query().Get("latitude"))
		writeJSON(w, map[string]any{"id": 211, "abbrev": "CAISO_NORTH", "name": "California ISO Northern"})
	})
	c := loginTestClient(t, up)

	region, err := c.Emissions.GetGridRegion(context.Background(), LocationForBA("CAISO_NORTH"))
	require.NoError(t, err)
	assert.Equal(t, "CAISO_NORTH", region.Abbrev)
}

func TestGetGridRegion_ParameterValidation(t *testing.T) {
	tests := []struct {
		name string
		loc  Location
	}{
		{"neither form", Location{}},
		{"both forms", Location{BalancingAuthority: "PJM_NJ", Latitude: "40.8", Longitude: "-74.2"}},
		{"latitude only", Location{Latitude: "40.8"}},
		{"longitude only", Location{Longitude: "-74.2"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				calls.Add(1)
			}))

			_, err := c.Emissions.GetGridRegion(context.Background(), tt.loc)
			require.Error(t, err)

			var paramErr *InvalidParameterError
			assert.ErrorAs(t, err, &paramErr)
			assert.Equal(t, 0, int(calls.Load()), "validation must fail before any network call")
		})
	}
}

func TestGetGridRegion_CoordinatesNotFound(t *testing.T) {
	up := newUpstream(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		writeJSON(w, map[string]string{"error": "Coordinates do not appear to be valid"})
	})
	c := loginTestClient(t, up)

	_, err := c.Emissions.GetGridRegion(context.Background(), LocationForCoordinates("0", "0"))
	require.Error(t, err)

	var reqErr *RequestError
	require.ErrorAs(t, err, &reqErr)
	assert.Equal(t, CodeCoordinatesNotFound, reqErr.Code)
	assert.Contains(t, reqErr.Detail, "Coordinates")
}

// ─── realtime ─────────────────────────────────────────────────────────────────

func TestGetRealtimeEmissions_ParsesReading(t *testing.T) {
	up := newUpstream(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+endpointRealtime, r.URL.Path)
		assert.Equal(t, "CAISO_NORTH", r.URL.Query().Get("ba"))
		serveRealtime(w, r)
	})
	c := loginTestClient(t, up)

	reading, err := c.Emissions.GetRealtimeEmissions(context.Background(), LocationForBA("CAISO_NORTH"))
	require.NoError(t, err)

	assert.Equal(t, "CAISO_NORTH", reading.BalancingAuthority)
	assert.Equal(t, "300", reading.Frequency)
	assert.Equal(t, "53", reading.Percent.String())
	assert.Equal(t, "850.743982", reading.MOER.String())
	assert.WithinDuration(t, time.Date(2019, 1, 29, 14, 55, 0, 0, time.UTC), reading.PointTime, 0)
}

func TestGetRealtimeEmissions_ByCoordinates(t *testing.T) {
	up := newUpstream(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "37.7749", r.URL.Query().Get("latitude"))
		assert.Equal(t, "-122.4194", r.URL.Query().Get("longitude"))
		serveRealtime(w, r)
	})
	c := loginTestClient(t, up)

	_, err := c.Emissions.GetRealtimeEmissions(context.Background(), LocationForCoordinates("37.7749", "-122.4194"))
	require.NoError(t, err)
}

// ─── forecast ─────────────────────────────────────────────────────────────────

func TestGetForecastedEmissions_FixtureParsing(t *testing.T) {
	up := newUpstream(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+endpointForecast, r.URL.Path)
		assert.Equal(t, "PJM_NJ", r.URL.Query().Get("ba"))
		assert.Equal(t, "2021-01-01T00:00:00Z", r.URL.Query().Get("starttime"))
		assert.Equal(t, "2021-02-01T00:00:00Z", r.URL.Query().Get("endtime"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecastFixture))
	})
	c := loginTestClient(t, up)

	window := &DateRange{
		Start: time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	bundles, err := c.Emissions.GetForecastedEmissions(context.Background(), "PJM_NJ", window)
	require.NoError(t, err)
	require.Len(t, bundles, 2)

	assert.WithinDuration(t, time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC), bundles[0].GeneratedAt, 0)
	assert.WithinDuration(t, time.Date(2021, 1, 1, 0, 5, 0, 0, time.UTC), bundles[1].GeneratedAt, 0)

	first := bundles[0].Forecast
	require.Len(t, first, 2)
	assert.Equal(t, "PJM_NJ", first[0].BalancingAuthority)
	assert.Equal(t, "883.25", first[0].Value.String())
	assert.WithinDuration(t, time.Date(2021, 1, 1, 0, 5, 0, 0, time.UTC), first[0].PointTime, 0)
	assert.Equal(t, "885.7", first[1].Value.String())

	require.Len(t, bundles[1].Forecast, 1)
	assert.Equal(t, "881.01", bundles[1].Forecast[0].Value.String())
}

func TestGetForecastedEmissions_NoWindow(t *testing.T) {
	up := newUpstream(func(w http.ResponseWriter, r *http.Request) {
		assert.Empty(t, r.URL.Query().Get("starttime"))
		assert.Empty(t, r.URL.Query().Get("endtime"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(forecastFixture))
	})
	c := loginTestClient(t, up)

	bundles, err := c.Emissions.GetForecastedEmissions(context.Background(), "PJM_NJ", nil)
	require.NoError(t, err)
	assert.Len(t, bundles, 2)
}

func TestGetForecastedEmissions_WindowValidation(t *testing.T) {
	day := time.Date(2021, 1, 1, 0, 0, 0, 0, time.UTC)
	tests := []struct {
		name   string
		ba     string
		window *DateRange
	}{
		{"missing ba", "", nil},
		{"missing end", "PJM_NJ", &DateRange{Start: day}},
		{"missing start", "PJM_NJ", &DateRange{End: day}},
		{"start equals end", "PJM_NJ", &DateRange{Start: day, End: day}},
		{"start after end", "PJM_NJ", &DateRange{Start: day.AddDate(0, 1, 0), End: day}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
				calls.Add(1)
			}))

			_, err := c.Emissions.GetForecastedEmissions(context.Background(), tt.ba, tt.window)
			require.Error(t, err)

			var paramErr *InvalidParameterError
			assert.ErrorAs(t, err, &paramErr)
			assert.Equal(t, 0, int(calls.Load()))
		})
	}
}

// ─── historical ───────────────────────────────────────────────────────────────

func TestGetHistoricalEmissions_ParsesPoints(t *testing.T) {
	up := newUpstream(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/"+endpointHistorical, r.URL.Path)
		assert.Equal(t, "CAISO_NORTH", r.URL.Query().Get("ba"))
		assert.Equal(t, "2021-03-05T00:00:00Z", r.URL.Query().Get("starttime"))
		assert.Equal(t, "2021-03-07T00:00:00Z", r.URL.Query().Get("endtime"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(historicalFixture))
	})
	c := loginTestClient(t, up)

	window := &DateRange{
		Start: time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2021, 3, 7, 0, 0, 0, 0, time.UTC),
	}
	points, err := c.Emissions.GetHistoricalEmissions(context.Background(), LocationForBA("CAISO_NORTH"), window)
	require.NoError(t, err)
	require.Len(t, points, 2)

	assert.Equal(t, "918", points[0].Value.String())
	assert.Equal(t, 300, points[0].Frequency)
	assert.Equal(t, "RT5M", points[0].Market)
	assert.Equal(t, "MOER", points[0].Datatype)
	assert.Equal(t, "3.0", points[0].Version)
	assert.WithinDuration(t, time.Date(2021, 3, 6, 0, 45, 0, 0, time.UTC), points[0].PointTime, 0)
}

func TestGetHistoricalEmissions_Validation(t *testing.T) {
	var calls atomic.Int32
	c := newTestClient(t, http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		calls.Add(1)
	}))

	_, err := c.Emissions.GetHistoricalEmissions(context.Background(), Location{}, nil)
	require.Error(t, err)
	var paramErr *InvalidParameterError
	assert.ErrorAs(t, err, &paramErr)

	day := time.Date(2021, 3, 5, 0, 0, 0, 0, time.UTC)
	_, err = c.Emissions.GetHistoricalEmissions(context.Background(),
		LocationForBA("CAISO_NORTH"), &DateRange{Start: day, End: day.Add(-time.Hour)})
	require.Error(t, err)
	assert.ErrorAs(t, err, &paramErr)

	assert.Equal(t, 0, int(calls.Load()))
}
