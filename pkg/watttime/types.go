package watttime

import (
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────── account wire types ─────────────────────────────

type loginResponse struct {
	Token string `json:"token"`
}

type registerRequest struct {
	Username     string `json:"username"`
	Password     string `json:"password"`
	Email        string `json:"email"`
	Organization string `json:"org"`
}

type registerResponse struct {
	User string `json:"user"`
	OK   string `json:"ok"`
}

type passwordResetResponse struct {
	OK string `json:"ok"`
}

// ─────────────────────────── emissions wire types ────────────────────────────

// GridRegion identifies the balancing authority serving a location.
type GridRegion struct {
	ID     int    `json:"id"`
	Abbrev string `json:"abbrev"`
	Name   string `json:"name"`
}

// RealtimeEmissions is a single point-in-time signal reading. The service
// serializes the numeric fields as strings; decimal keeps them precise.
type RealtimeEmissions struct {
	BalancingAuthority string          `json:"ba"`
	Frequency          string          `json:"freq"`
	Percent            decimal.Decimal `json:"percent"`
	MOER               decimal.Decimal `json:"moer"`
	PointTime          time.Time       `json:"point_time"`
}

// ForecastBundle is one forecast generation run: the moment the model ran and
// the series it produced.
type ForecastBundle struct {
	GeneratedAt time.Time       `json:"generated_at"`
	Forecast    []ForecastPoint `json:"forecast"`
}

// ForecastPoint is a single forecast sample.
type ForecastPoint struct {
	BalancingAuthority string          `json:"ba"`
	PointTime          time.Time       `json:"point_time"`
	Value              decimal.Decimal `json:"value"`
}

// EmissionPoint is a single historical signal sample.
type EmissionPoint struct {
	BalancingAuthority string          `json:"ba"`
	PointTime          time.Time       `json:"point_time"`
	Value              decimal.Decimal `json:"value"`
	Frequency          int             `json:"frequency"`
	Market             string          `json:"market"`
	Datatype           string          `json:"datatype"`
	Version            string          `json:"version"`
}
