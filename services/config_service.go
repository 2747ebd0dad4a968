package services

import (
	"fmt"
	"os"
	"sync"

	"github.com/robodog/simcontroller/pkg/config"
	customlog "github.com/robodog/simcontroller/pkg/log"
)

// ConfigPublisher defines the interface for publishing configuration updates.
// This avoids a direct dependency on the concrete ZeroMQ publisher.
type ConfigPublisher interface {
	PublishConfigUpdatedNotification() error
}

// ConfigUpdateHook is invoked with the new configuration after a successful update.
type ConfigUpdateHook func(cfg *config.Config)

// RobotConfigService defines the interface for managing the operational robot configuration.
type RobotConfigService interface {
	LoadConfig() error
	GetCurrentConfig() *config.Config
	GetCurrentConfigYAML() ([]byte, error)
	UpdateConfig(newConfigYAML []byte) error
	PersistConfig(yamlData []byte) error
	SetPublisher(p ConfigPublisher)
	OnUpdate(hook ConfigUpdateHook)
}

// robotConfigService implements the RobotConfigService interface.
type robotConfigService struct {
	operationalConfigPath string
	logger                customlog.Logger
	configPublisher       ConfigPublisher
	hooks                 []ConfigUpdateHook
	currentConfig         *config.Config
	mu                    sync.RWMutex
}

// NewRobotConfigService creates a new RobotConfigService.
// Publisher can be set later via SetPublisher.
func NewRobotConfigService(operationalConfigPath string, logger customlog.Logger) (RobotConfigService, error) {
	if operationalConfigPath == "" {
		return nil, fmt.Errorf("operational configuration path cannot be empty")
	}
	if logger == nil {
		logger = customlog.NewNopLogger()
	}
	logger = logger.WithField("component", "config")

	service := &robotConfigService{
		operationalConfigPath: operationalConfigPath,
		logger:                logger,
	}

	if err := service.LoadConfig(); err != nil {
		// The file may be provided later through the API.
		logger.Warnf("Initial load of operational config '%s' failed: %v. Service created, but config is nil.", operationalConfigPath, err)
		return service, nil
	}

	logger.Infof("RobotConfigService initialized successfully for path: %s", operationalConfigPath)
	return service, nil
}

// LoadConfig reads the operational config file from disk and updates the currentConfig.
func (s *robotConfigService) LoadConfig() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.logger.Infof("Loading operational configuration from: %s", s.operationalConfigPath)
	cfg, err := config.LoadConfig(s.operationalConfigPath)
	if err != nil {
		s.logger.Errorf("Error loading operational config file '%s': %v", s.operationalConfigPath, err)
		s.currentConfig = nil
		return fmt.Errorf("error loading operational config file '%s': %w", s.operationalConfigPath, err)
	}

	s.currentConfig = cfg
	s.logger.Infof("Successfully loaded operational configuration ID: %s, Version: %s", cfg.ConfigID, cfg.Version)
	return nil
}

// GetCurrentConfig returns the currently loaded operational configuration.
// It's read-only; modifications should go through UpdateConfig.
func (s *robotConfigService) GetCurrentConfig() *config.Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentConfig
}

// GetCurrentConfigYAML reads the operational config file from disk and returns its raw YAML content.
func (s *robotConfigService) GetCurrentConfigYAML() ([]byte, error) {
	s.mu.RLock()
	path := s.operationalConfigPath
	s.mu.RUnlock()

	s.logger.Debugf("Reading raw operational configuration YAML from: %s", path)
	data, err := os.ReadFile(path)
	if err != nil {
		s.logger.Errorf("Error reading operational config file '%s' for YAML export: %v", path, err)
		return nil, fmt.Errorf("error reading operational config file '%s': %w", path, err)
	}
	return data, nil
}

// UpdateConfig validates, persists and applies the new operational configuration,
// then notifies the publisher and update hooks.
func (s *robotConfigService) UpdateConfig(newConfigYAML []byte) error {
	s.mu.Lock()

	s.logger.Infof("Attempting to update operational configuration from provided YAML")

	newCfg, err := config.ParseConfig(newConfigYAML)
	if err != nil {
		s.mu.Unlock()
		s.logger.Errorf("Rejected operational configuration: %v", err)
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	// Persist before applying so a failed write leaves the active config untouched.
	if err := s.persistConfigUnlocked(newConfigYAML); err != nil {
		s.mu.Unlock()
		return err
	}

	oldCfgID := "N/A"
	if s.currentConfig != nil {
		oldCfgID = s.currentConfig.ConfigID
	}
	s.currentConfig = newCfg
	publisher := s.configPublisher
	hooks := append([]ConfigUpdateHook(nil), s.hooks...)
	s.mu.Unlock()

	s.logger.Infof("Successfully updated and persisted operational configuration. ID %s -> %s, Version: %s", oldCfgID, newCfg.ConfigID, newCfg.Version)

	for _, hook := range hooks {
		hook(newCfg)
	}

	if publisher != nil {
		// Publish in a separate goroutine to avoid blocking the update
		go func(publisher ConfigPublisher) {
			if err := publisher.PublishConfigUpdatedNotification(); err != nil {
				s.logger.Warnf("Failed to publish config update notification: %v", err)
			} else {
				s.logger.Debugf("Published config update notification")
			}
		}(publisher)
	} else {
		s.logger.Infof("ConfigPublisher not configured, skipping update notification.")
	}

	return nil
}

// PersistConfig writes the given YAML data to the operational config file path.
func (s *robotConfigService) PersistConfig(yamlData []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.persistConfigUnlocked(yamlData)
}

// persistConfigUnlocked assumes the caller holds the lock.
func (s *robotConfigService) persistConfigUnlocked(yamlData []byte) error {
	s.logger.Infof("Persisting operational configuration to: %s", s.operationalConfigPath)
	if err := os.WriteFile(s.operationalConfigPath, yamlData, 0644); err != nil {
		s.logger.Errorf("Error writing operational config file '%s': %v", s.operationalConfigPath, err)
		return fmt.Errorf("error writing operational config file '%s': %w", s.operationalConfigPath, err)
	}
	return nil
}

// SetPublisher allows injecting the ConfigPublisher after initialization.
func (s *robotConfigService) SetPublisher(p ConfigPublisher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configPublisher = p
	s.logger.Infof("ConfigPublisher injected into RobotConfigService.")
}

// OnUpdate registers a hook run after every successful UpdateConfig.
func (s *robotConfigService) OnUpdate(hook ConfigUpdateHook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, hook)
}
