package watttime

import (
	"context"
	"net/http"
	"net/url"
	"time"
)

// Location selects a grid region, either by balancing-authority code or by
// geographic coordinates. Exactly one form must be set. Coordinates are kept
// as strings so callers control the precision that goes on the wire.
type Location struct {
	BalancingAuthority string
	Latitude           string
	Longitude          string
}

// LocationForBA selects a region by its balancing-authority abbreviation.
func LocationForBA(abbrev string) Location {
	return Location{BalancingAuthority: abbrev}
}

// LocationForCoordinates selects a region by latitude/longitude.
func LocationForCoordinates(latitude, longitude string) Location {
	return Location{Latitude: latitude, Longitude: longitude}
}

func (l Location) validate() error {
	hasBA := l.BalancingAuthority != ""
	hasCoords := l.Latitude != "" || l.Longitude != ""
	switch {
	case hasBA && hasCoords:
		return &InvalidParameterError{Reason: "supply either a balancing authority or coordinates, not both"}
	case !hasBA && !hasCoords:
		return &InvalidParameterError{Reason: "supply a balancing authority or coordinates"}
	case hasCoords && (l.Latitude == "" || l.Longitude == ""):
		return &InvalidParameterError{Reason: "coordinates need both latitude and longitude"}
	}
	return nil
}

func (l Location) encode(v url.Values) {
	if l.BalancingAuthority != "" {
		v.Set("ba", l.BalancingAuthority)
		return
	}
	v.Set("latitude", l.Latitude)
	v.Set("longitude", l.Longitude)
}

// DateRange bounds a forecast or historical query. Both ends are required and
// Start must precede End. A nil *DateRange means no bounds.
type DateRange struct {
	Start time.Time
	End   time.Time
}

func (r *DateRange) validate() error {
	if r == nil {
		return nil
	}
	if r.Start.IsZero() || r.End.IsZero() {
		return &InvalidParameterError{Reason: "date range needs both start and end"}
	}
	if !r.Start.Before(r.End) {
		return &InvalidParameterError{Reason: "date range start must precede end"}
	}
	return nil
}

func (r *DateRange) encode(v url.Values) {
	if r == nil {
		return
	}
	v.Set("starttime", r.Start.UTC().Format(time.RFC3339))
	v.Set("endtime", r.End.UTC().Format(time.RFC3339))
}

// EmissionsAPI shapes the emissions-data endpoints. Every call funnels through
// the executor, which owns authentication; nothing here touches the token.
type EmissionsAPI struct {
	exec *executor
}

// GetGridRegion resolves the balancing authority serving a location.
func (api *EmissionsAPI) GetGridRegion(ctx context.Context, loc Location) (*GridRegion, error) {
	if err := loc.validate(); err != nil {
		return nil, err
	}
	query := url.Values{}
	loc.encode(query)

	var region GridRegion
	if err := api.exec.execute(ctx, requestSpec{
		method: http.MethodGet,
		path:   endpointGridRegion,
		query:  query,
		auth:   authBearer,
	}, &region); err != nil {
		return nil, err
	}
	return &region, nil
}

// GetRealtimeEmissions returns the latest signal reading for a location.
func (api *EmissionsAPI) GetRealtimeEmissions(ctx context.Context, loc Location) (*RealtimeEmissions, error) {
	if err := loc.validate(); err != nil {
		return nil, err
	}
	query := url.Values{}
	loc.encode(query)

	var reading RealtimeEmissions
	if err := api.exec.execute(ctx, requestSpec{
		method: http.MethodGet,
		path:   endpointRealtime,
		query:  query,
		auth:   authBearer,
	}, &reading); err != nil {
		return nil, err
	}
	return &reading, nil
}

// GetForecastedEmissions returns forecast bundles for a balancing authority.
// A nil window asks for the latest forecast only.
func (api *EmissionsAPI) GetForecastedEmissions(ctx context.Context, ba string, window *DateRange) ([]ForecastBundle, error) {
	if ba == "" {
		return nil, &InvalidParameterError{Reason: "balancing authority is required"}
	}
	if err := window.validate(); err != nil {
		return nil, err
	}
	query := url.Values{}
	query.Set("ba", ba)
	window.encode(query)

	var bundles []ForecastBundle
	if err := api.exec.execute(ctx, requestSpec{
		method: http.MethodGet,
		path:   endpointForecast,
		query:  query,
		auth:   authBearer,
	}, &bundles); err != nil {
		return nil, err
	}
	return bundles, nil
}

// GetHistoricalEmissions returns past signal readings for a location, in the
// order the service provides them. The service caps the span of one query;
// chunking a longer window is the caller's job.
func (api *EmissionsAPI) GetHistoricalEmissions(ctx context.Context, loc Location, window *DateRange) ([]EmissionPoint, error) {
	if err := loc.validate(); err != nil {
		return nil, err
	}
	if err := window.validate(); err != nil {
		return nil, err
	}
	query := url.Values{}
	loc.encode(query)
	window.encode(query)

	var points []EmissionPoint
	if err := api.exec.execute(ctx, requestSpec{
		method: http.MethodGet,
		path:   endpointHistorical,
		query:  query,
		auth:   authBearer,
	}, &points); err != nil {
		return nil, err
	}
	return points, nil
}
