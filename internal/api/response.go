package api

import (
	"time"

	"github.com/Checker-Finance/watttime-adapter/pkg/model"
)

// BackfillResponse reports the outcome of a backfill run.
type BackfillResponse struct {
	CommandID  string    `json:"commandId"`
	Region     string    `json:"region"`
	Start      time.Time `json:"start"`
	End        time.Time `json:"end"`
	Points     int       `json:"points"`
	FinishedAt time.Time `json:"finishedAt"`
	ErrorMsg   string    `json:"errorMessage,omitempty"`
}

func toBackfillResponse(result model.BackfillResult) BackfillResponse {
	return BackfillResponse{
		CommandID:  result.CommandID,
		Region:     result.Region,
		Start:      result.Start,
		End:        result.End,
		Points:     result.Points,
		FinishedAt: result.FinishedAt,
		ErrorMsg:   result.Error,
	}
}
