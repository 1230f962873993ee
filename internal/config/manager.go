package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/tbracken/gridpoll/internal/models"
)

// Manager manages application configuration
type Manager struct {
	configPath string
	rootDir    string
	config     *models.Config
	mu         sync.RWMutex
}

// NewManager creates a new configuration manager
func NewManager(configPath string, rootDir string) (*Manager, error) {
	// Ensure the config directory exists
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config directory: %w", err)
	}

	return &Manager{
		configPath: configPath,
		rootDir:    rootDir,
	}, nil
}

// Load loads the configuration from disk
func (m *Manager) Load() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.configPath)
	if err != nil {
		return err
	}

	// Unmarshal over the defaults so an absent key keeps its default
	// while an explicit zero (FTPThreadCount = 0 disables pooling) is
	// preserved.
	config := models.Config{Settings: defaultSettings(m.rootDir)}
	if err := json.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse configuration: %w", err)
	}

	m.config = &config
	return nil
}

// Save saves the configuration to disk
func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveInternal()
}

// saveInternal saves without locking (must be called with lock held)
func (m *Manager) saveInternal() error {
	// Marshal with indentation for readability
	data, err := json.MarshalIndent(m.config, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal configuration: %w", err)
	}

	// Write atomically by writing to a temp file and renaming
	tempPath := m.configPath + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write configuration: %w", err)
	}

	if err := os.Rename(tempPath, m.configPath); err != nil {
		if removeErr := os.Remove(tempPath); removeErr != nil {
			log.Printf("Warning: failed to remove temp file: %v", removeErr)
		}
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	return nil
}

// CreateDefault creates and persists a default configuration.
func (m *Manager) CreateDefault() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.config = &models.Config{
		Version:  "1.0",
		Settings: defaultSettings(m.rootDir),
	}

	return m.saveInternal()
}

// defaultSettings returns the documented defaults.
func defaultSettings(rootDir string) models.Settings {
	return models.Settings{
		FTPThreadCount:      20,
		StatusLogInclusions: ".rcd,.d00,.dat,.ctl,.cfg,.pcd",
		StatusLogExclusions: "rms.,trend.",
		MaxRemoteFileAge:    30,
		MaxLocalFileAge:     365,
		DefaultLocalPath:    filepath.Join(rootDir, "downloads"),
		SMTPPort:            25,
		LogMaxSizeMB:        50,
		LogMaxBackups:       5,
	}
}

// Get returns a copy of the current configuration
func (m *Manager) Get() *models.Config {
	m.mu.RLock()
	defer m.mu.RUnlock()

	// Return a deep copy to prevent external modifications
	configCopy := *m.config
	return &configCopy
}

// GetSettings returns the current settings
func (m *Manager) GetSettings() models.Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.config.Settings
}

// ResolvePath resolves a path relative to the root directory if it's not absolute
func (m *Manager) ResolvePath(path string) string {
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(m.rootDir, path)
}

// UpdateSettings updates the settings
func (m *Manager) UpdateSettings(settings models.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config.Settings = settings
	return m.saveInternal()
}
