package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SignalReading is the canonical marginal-emissions reading for one region at
// one point in time. MOER is lbs CO2 per MWh; Percentile ranks the reading
// against the region's trailing distribution (0 = cleanest, 100 = dirtiest).
type SignalReading struct {
	Region     string          `json:"region"`
	Frequency  int             `json:"frequency_seconds"`
	MOER       decimal.Decimal `json:"moer"`
	Percentile decimal.Decimal `json:"percentile"`
	PointTime  time.Time       `json:"point_time"`
	ReceivedAt time.Time       `json:"received_at"`
}

// Key identifies the reading's region/time slot. Two readings with the same
// key describe the same upstream data point.
func (r SignalReading) Key() string {
	return r.Region + "@" + r.PointTime.UTC().Format(time.RFC3339)
}

// ForecastSample is one forecasted MOER value.
type ForecastSample struct {
	Region    string          `json:"region"`
	PointTime time.Time       `json:"point_time"`
	MOER      decimal.Decimal `json:"moer"`
}

// ForecastCurve is a full forecast generation for a region: the samples the
// upstream model produced in one run.
type ForecastCurve struct {
	Region      string           `json:"region"`
	GeneratedAt time.Time        `json:"generated_at"`
	Samples     []ForecastSample `json:"samples"`
}

// HistoricalPoint is one archived reading, as returned by a backfill.
type HistoricalPoint struct {
	Region    string          `json:"region"`
	PointTime time.Time       `json:"point_time"`
	MOER      decimal.Decimal `json:"moer"`
	Frequency int             `json:"frequency_seconds"`
	Market    string          `json:"market,omitempty"`
	Version   string          `json:"version,omitempty"`
}

// BackfillCommand asks the adapter to fetch and archive historical readings
// for a region over a window. Consumed from the backfill queue.
type BackfillCommand struct {
	CommandID   string    `json:"command_id"`
	Region      string    `json:"region"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	RequestedBy string    `json:"requested_by,omitempty"`
}

// BackfillResult reports a completed (or failed) backfill run.
type BackfillResult struct {
	CommandID  string    `json:"command_id"`
	Region     string    `json:"region"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Points     int       `json:"points"`
	Error      string    `json:"error,omitempty"`
	FinishedAt time.Time `json:"finished_at"`
}
