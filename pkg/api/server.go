package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/robodog/simcontroller/domain/simulation"
	"github.com/robodog/simcontroller/domain/teleop"
	"github.com/robodog/simcontroller/pkg/statecache"
	"github.com/robodog/simcontroller/services"
)

// ServerOptions configures NewServer.
type ServerOptions struct {
	AppName    string
	RobotID    string
	RequestLog bool
}

// NewServer creates the fiber app with the JSON error handler, panic
// recovery and the status routes.
func NewServer(opts ServerOptions) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               opts.AppName,
		ErrorHandler:          ErrorHandler,
		DisableStartupMessage: true,
	})

	if opts.RequestLog {
		app.Use(logger.New())
	}
	app.Use(recover.New())

	app.Get("/", func(c *fiber.Ctx) error {
		return c.JSON(StatusResponse{Status: "online", Service: opts.AppName, RobotID: opts.RobotID})
	})
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(StatusResponse{Status: "healthy"})
	})
	return app
}

// StatusCode maps an error to the HTTP status returned for it.
func StatusCode(err error) int {
	var fe *fiber.Error
	switch {
	case errors.As(err, &fe):
		return fe.Code
	case errors.Is(err, simulation.ErrInvalidCommand), errors.Is(err, services.ErrInvalidConfig):
		return fiber.StatusBadRequest
	case errors.Is(err, teleop.ErrNotConnected):
		return fiber.StatusConflict
	case errors.Is(err, statecache.ErrNotFound):
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// ErrorHandler renders every error as {"error": "..."}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	return c.Status(StatusCode(err)).JSON(ErrorResponse{Error: err.Error()})
}
