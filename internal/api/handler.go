package api

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/watttime-adapter/pkg/model"
	"github.com/Checker-Finance/watttime-adapter/pkg/watttime"
)

// EmissionsService defines the interface for emissions operations used by the handler.
type EmissionsService interface {
	ResolveRegion(ctx context.Context, latitude, longitude string) (model.Region, error)
	GetRealtime(ctx context.Context, region string) (model.SignalReading, error)
	GetForecast(ctx context.Context, region string) (*model.ForecastCurve, error)
	GetHistory(ctx context.Context, region string, start, end time.Time) ([]model.HistoricalPoint, error)
	RunBackfill(ctx context.Context, cmd model.BackfillCommand) (model.BackfillResult, error)
}

// RegionCatalog checks whether a balancing authority is known to the adapter.
type RegionCatalog interface {
	All() []model.Region
	Get(abbrev string) (model.Region, bool)
}

// EmissionsHandler handles HTTP API requests for grid emissions data.
type EmissionsHandler struct {
	logger  *zap.Logger
	service EmissionsService
	catalog RegionCatalog
}

// NewEmissionsHandler creates a new EmissionsHandler.
// catalog is optional — if nil, region validation is skipped.
func NewEmissionsHandler(logger *zap.Logger, service EmissionsService, catalog RegionCatalog) *EmissionsHandler {
	return &EmissionsHandler{
		logger:  logger,
		service: service,
		catalog: catalog,
	}
}

// ListRegionsHandler returns the balancing authorities the adapter serves.
func (h *EmissionsHandler) ListRegionsHandler(c *fiber.Ctx) error {
	regions := []model.Region{}
	if h.catalog != nil {
		regions = h.catalog.All()
	}
	return c.JSON(fiber.Map{
		"count":   len(regions),
		"regions": regions,
	})
}

// ResolveRegionHandler maps a coordinate pair to its balancing authority.
func (h *EmissionsHandler) ResolveRegionHandler(c *fiber.Ctx) error {
	latitude := c.Query("latitude")
	longitude := c.Query("longitude")
	if latitude == "" || longitude == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "latitude and longitude are required"})
	}

	region, err := h.service.ResolveRegion(c.Context(), latitude, longitude)
	if err != nil {
		h.logger.Error("api.resolve_region.failed",
			zap.String("latitude", latitude),
			zap.String("longitude", longitude),
			zap.Error(err))
		var reqErr *watttime.RequestError
		if errors.As(err, &reqErr) && reqErr.Code == watttime.CodeCoordinatesNotFound {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": err.Error()})
		}
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(region)
}

// RealtimeHandler serves the most recent marginal emissions reading for a region.
func (h *EmissionsHandler) RealtimeHandler(c *fiber.Ctx) error {
	region := c.Params("region")
	if region == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "region is required"})
	}
	if h.catalog != nil {
		if _, ok := h.catalog.Get(region); !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown region " + region})
		}
	}

	reading, err := h.service.GetRealtime(c.Context(), region)
	if err != nil {
		h.logger.Error("api.realtime.failed",
			zap.String("region", region),
			zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(reading)
}

// ForecastHandler serves the latest emissions forecast curve for a region.
func (h *EmissionsHandler) ForecastHandler(c *fiber.Ctx) error {
	region := c.Params("region")
	if region == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "region is required"})
	}
	if h.catalog != nil {
		if _, ok := h.catalog.Get(region); !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown region " + region})
		}
	}

	curve, err := h.service.GetForecast(c.Context(), region)
	if err != nil {
		h.logger.Error("api.forecast.failed",
			zap.String("region", region),
			zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": err.Error()})
	}
	if curve == nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no forecast available for " + region})
	}

	return c.JSON(curve)
}

// HistoryHandler serves archived emissions readings for a region and window.
func (h *EmissionsHandler) HistoryHandler(c *fiber.Ctx) error {
	region := c.Params("region")
	if region == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "region is required"})
	}
	if h.catalog != nil {
		if _, ok := h.catalog.Get(region); !ok {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown region " + region})
		}
	}

	start, end, err := parseWindow(c.Query("start"), c.Query("end"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	points, err := h.service.GetHistory(c.Context(), region, start, end)
	if err != nil {
		h.logger.Error("api.history.failed",
			zap.String("region", region),
			zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}

	return c.JSON(fiber.Map{
		"region": region,
		"count":  len(points),
		"points": points,
	})
}

// BackfillHandler runs a historical backfill synchronously and reports the outcome.
func (h *EmissionsHandler) BackfillHandler(c *fiber.Ctx) error {
	var req BackfillRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}
	if err := req.Validate(); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": err.Error()})
	}

	cmd := toBackfillCommand(req)

	h.logger.Info("api.backfill",
		zap.String("command_id", cmd.CommandID),
		zap.String("region", cmd.Region))

	result, err := h.service.RunBackfill(c.Context(), cmd)
	if err != nil {
		h.logger.Error("api.backfill.failed",
			zap.String("command_id", cmd.CommandID),
			zap.String("region", cmd.Region),
			zap.Error(err))
		return c.Status(fiber.StatusBadGateway).JSON(toBackfillResponse(result))
	}

	return c.Status(fiber.StatusOK).JSON(toBackfillResponse(result))
}
