package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/Checker-Finance/watttime-adapter/pkg/model"
)

// BackfillRequest is the payload for launching a historical backfill.
type BackfillRequest struct {
	CommandID   string    `json:"commandId"`
	Region      string    `json:"region"`
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	RequestedBy string    `json:"requestedBy"`
}

// toBackfillCommand converts an API request to a canonical BackfillCommand.
func toBackfillCommand(req BackfillRequest) model.BackfillCommand {
	id := req.CommandID
	if id == "" {
		id = uuid.NewString()
	}
	return model.BackfillCommand{
		CommandID:   id,
		Region:      req.Region,
		Start:       req.Start,
		End:         req.End,
		RequestedBy: req.RequestedBy,
	}
}
