package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/pkg/statecache"
)

// LatestStateReader returns the most recently cached robot state.
type LatestStateReader interface {
	Latest(ctx context.Context) (statecache.Latest, error)
}

// RegisterCacheRoutes exposes the Redis state cache at /api/teleop/cached.
func RegisterCacheRoutes(app fiber.Router, reader LatestStateReader, logger customlog.Logger) {
	app.Get("/api/teleop/cached", func(c *fiber.Ctx) error {
		latest, err := reader.Latest(c.UserContext())
		if err != nil {
			return err
		}
		return c.JSON(latest)
	})
	logger.WithField("component", "cache-api").Infof("Registered cached state endpoint /api/teleop/cached")
}
