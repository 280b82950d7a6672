// Package api exposes the push-relay HTTP surface.
package api

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/tinywideclouds/go-push-relay/pkg/push"
)

// maxDataEntries bounds the opaque data bag so a broadcast request cannot
// smuggle an oversized payload past the gateway limits.
const maxDataEntries = 20

type Registry interface {
	Register(ctx context.Context, reg push.Registration) (push.Registration, error)
	Remove(ctx context.Context, userID, token string) (bool, error)
}

type Broadcaster interface {
	Run(ctx context.Context, job push.BroadcastJob) (push.BroadcastResult, error)
}

type StatsReporter interface {
	Report(ctx context.Context) (push.TokenStats, error)
}

type PushAPI struct {
	registry    Registry
	broadcaster Broadcaster
	stats       StatsReporter
	logger      *slog.Logger
}

func NewPushAPI(registry Registry, broadcaster Broadcaster, stats StatsReporter, logger *slog.Logger) *PushAPI {
	return &PushAPI{
		registry:    registry,
		broadcaster: broadcaster,
		stats:       stats,
		logger:      logger.With("component", "PushAPI"),
	}
}

// RegisterRoutes attaches the push-relay endpoints to the router.
func (api *PushAPI) RegisterRoutes(e *echo.Echo) {
	e.POST("/register-token", api.RegisterToken)
	e.POST("/broadcast", api.Broadcast)
	e.GET("/stats", api.Stats)
	e.DELETE("/remove-token", api.RemoveToken)
}

type registerTokenRequest struct {
	UserID     string `json:"userId" validate:"required"`
	PushToken  string `json:"expoPushToken" validate:"required"`
	DeviceID   string `json:"deviceId"`
	Platform   string `json:"platform" validate:"required,oneof=ios android"`
	AppVersion string `json:"appVersion"`
}

func (api *PushAPI) RegisterToken(c echo.Context) error {
	var req registerTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	saved, err := api.registry.Register(c.Request().Context(), push.Registration{
		UserID:     req.UserID,
		DeviceID:   req.DeviceID,
		PushToken:  req.PushToken,
		Platform:   push.Platform(req.Platform),
		AppVersion: req.AppVersion,
	})
	if err != nil {
		if push.IsValidation(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		api.logger.Error("register failed", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "storage failed")
	}

	return c.JSON(http.StatusOK, saved)
}

type broadcastRequest struct {
	Title      string            `json:"title" validate:"required"`
	Body       string            `json:"body" validate:"required"`
	Data       map[string]string `json:"data"`
	TargetType string            `json:"targetType" validate:"omitempty,oneof=all ios android"`
	Sound      string            `json:"sound"`
	Badge      int               `json:"badge" validate:"gte=0"`
	Priority   string            `json:"priority" validate:"omitempty,oneof=default normal high"`
}

func (api *PushAPI) Broadcast(c echo.Context) error {
	var req broadcastRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if len(req.Data) > maxDataEntries {
		return echo.NewHTTPError(http.StatusBadRequest, "data payload too large")
	}

	result, err := api.broadcaster.Run(c.Request().Context(), push.BroadcastJob{
		Title:      req.Title,
		Body:       req.Body,
		Data:       req.Data,
		TargetType: push.TargetType(req.TargetType),
		Sound:      req.Sound,
		Badge:      req.Badge,
		Priority:   req.Priority,
	})
	if err != nil {
		if push.IsValidation(err) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		api.logger.Error("broadcast failed", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "broadcast failed")
	}

	return c.JSON(http.StatusOK, result)
}

func (api *PushAPI) Stats(c echo.Context) error {
	stats, err := api.stats.Report(c.Request().Context())
	if err != nil {
		api.logger.Error("stats failed", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "stats failed")
	}
	return c.JSON(http.StatusOK, stats)
}

type removeTokenRequest struct {
	UserID    string `json:"userId" validate:"required"`
	PushToken string `json:"expoPushToken" validate:"required"`
}

type removeTokenResponse struct {
	Removed bool `json:"removed"`
}

// RemoveToken is idempotent: removing an unknown token reports removed=false
// with a 200, never a hard error.
func (api *PushAPI) RemoveToken(c echo.Context) error {
	var req removeTokenRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request payload")
	}
	if err := c.Validate(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	removed, err := api.registry.Remove(c.Request().Context(), req.UserID, req.PushToken)
	if err != nil {
		api.logger.Error("remove failed", "err", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "storage failed")
	}

	return c.JSON(http.StatusOK, removeTokenResponse{Removed: removed})
}
