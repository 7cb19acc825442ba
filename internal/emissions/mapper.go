package emissions

import (
	"strconv"
	"time"

	"github.com/Checker-Finance/watttime-adapter/pkg/model"
	"github.com/Checker-Finance/watttime-adapter/pkg/watttime"
)

// Mapper converts WattTime wire types into canonical emissions models.
type Mapper struct{}

func NewMapper() *Mapper {
	return &Mapper{}
}

// ToSignalReading maps a realtime signal. The upstream "ba" field wins over
// the requested region when present; frequency arrives as a string and maps
// to whole seconds.
func (m *Mapper) ToSignalReading(raw *watttime.RealtimeEmissions, region string, receivedAt time.Time) model.SignalReading {
	if raw.BalancingAuthority != "" {
		region = raw.BalancingAuthority
	}

	freq := 0
	if raw.Frequency != "" {
		if n, err := strconv.Atoi(raw.Frequency); err == nil {
			freq = n
		}
	}

	return model.SignalReading{
		Region:     region,
		Frequency:  freq,
		MOER:       raw.MOER,
		Percentile: raw.Percent,
		PointTime:  raw.PointTime,
		ReceivedAt: receivedAt,
	}
}

// ToForecastCurve maps one forecast generation run.
func (m *Mapper) ToForecastCurve(bundle watttime.ForecastBundle, region string) model.ForecastCurve {
	curve := model.ForecastCurve{
		Region:      region,
		GeneratedAt: bundle.GeneratedAt,
		Samples:     make([]model.ForecastSample, 0, len(bundle.Forecast)),
	}
	for _, pt := range bundle.Forecast {
		sampleRegion := region
		if pt.BalancingAuthority != "" {
			sampleRegion = pt.BalancingAuthority
		}
		curve.Samples = append(curve.Samples, model.ForecastSample{
			Region:    sampleRegion,
			PointTime: pt.PointTime,
			MOER:      pt.Value,
		})
	}
	return curve
}

// LatestCurve picks the most recently generated bundle. The upstream returns
// every generation covering the requested window; only the newest matters
// for the live curve.
func (m *Mapper) LatestCurve(bundles []watttime.ForecastBundle, region string) *model.ForecastCurve {
	if len(bundles) == 0 {
		return nil
	}
	latest := bundles[0]
	for _, b := range bundles[1:] {
		if b.GeneratedAt.After(latest.GeneratedAt) {
			latest = b
		}
	}
	curve := m.ToForecastCurve(latest, region)
	return &curve
}

// ToHistoricalPoints maps archived signal samples.
func (m *Mapper) ToHistoricalPoints(points []watttime.EmissionPoint, region string) []model.HistoricalPoint {
	result := make([]model.HistoricalPoint, 0, len(points))
	for _, pt := range points {
		pointRegion := region
		if pt.BalancingAuthority != "" {
			pointRegion = pt.BalancingAuthority
		}
		result = append(result, model.HistoricalPoint{
			Region:    pointRegion,
			PointTime: pt.PointTime,
			MOER:      pt.Value,
			Frequency: pt.Frequency,
			Market:    pt.Market,
			Version:   pt.Version,
		})
	}
	return result
}

// ToRegion maps a grid region lookup result.
func (m *Mapper) ToRegion(g *watttime.GridRegion) model.Region {
	return model.Region{
		ID:     g.ID,
		Abbrev: g.Abbrev,
		Name:   g.Name,
	}
}
