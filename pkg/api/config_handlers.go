package api

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	customlog "github.com/robodog/simcontroller/pkg/log"
	"github.com/robodog/simcontroller/services"
)

// ConfigHandler holds dependencies for configuration API endpoints.
type ConfigHandler struct {
	configService services.RobotConfigService
	logger        customlog.Logger
}

// NewConfigHandler creates a new handler for configuration endpoints.
func NewConfigHandler(configService services.RobotConfigService, logger customlog.Logger) *ConfigHandler {
	if configService == nil {
		panic("ConfigService cannot be nil in NewConfigHandler")
	}
	return &ConfigHandler{
		configService: configService,
		logger:        logger.WithField("component", "config-api"),
	}
}

// RegisterConfigRoutes registers the configuration API endpoints with the Fiber app.
func RegisterConfigRoutes(app fiber.Router, configService services.RobotConfigService, logger customlog.Logger) {
	h := NewConfigHandler(configService, logger)

	apiGroup := app.Group("/api/v1/config")
	apiGroup.Get("/robot", h.handleGetRobotConfig)
	apiGroup.Put("/robot", h.handleUpdateRobotConfig)

	h.logger.Infof("Registered robot configuration API endpoints under /api/v1/config")
}

// handleGetRobotConfig returns the operational config file as YAML.
func (h *ConfigHandler) handleGetRobotConfig(c *fiber.Ctx) error {
	yamlData, err := h.configService.GetCurrentConfigYAML()
	if err != nil {
		h.logger.Errorf("Failed to get current robot config YAML: %v", err)
		return fmt.Errorf("failed to retrieve configuration: %w", err)
	}
	if len(yamlData) == 0 {
		return fiber.NewError(fiber.StatusNotFound, "robot configuration not found or not yet set")
	}

	c.Set(fiber.HeaderContentType, "application/x-yaml")
	return c.Send(yamlData)
}

// handleUpdateRobotConfig validates, persists and applies a new YAML document.
func (h *ConfigHandler) handleUpdateRobotConfig(c *fiber.Ctx) error {
	switch c.Get(fiber.HeaderContentType) {
	case "application/x-yaml", "application/yaml", "text/yaml":
	default:
		h.logger.Warnf("Received PUT request with unexpected Content-Type: %q", c.Get(fiber.HeaderContentType))
	}

	newConfigYAML := c.Body()
	if len(newConfigYAML) == 0 {
		return fiber.NewError(fiber.StatusBadRequest, "request body cannot be empty")
	}

	if err := h.configService.UpdateConfig(newConfigYAML); err != nil {
		h.logger.Errorf("Failed to update robot configuration: %v", err)
		return fmt.Errorf("configuration update failed: %w", err)
	}

	h.logger.Infof("Robot configuration updated through the API")
	return c.JSON(fiber.Map{
		"message": "Robot configuration updated successfully.",
	})
}
