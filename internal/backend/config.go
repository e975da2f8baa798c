package backend

import (
	"fmt"
	"time"

	"gastos/internal/config"
)

// Config holds configuration for source creation
type Config struct {
	Type SourceType

	// SQLite specific
	SQLiteDBPath string

	// Câmara API specific
	CamaraAPIURL      string
	CamaraConcurrency int
	CamaraTimeout     time.Duration

	// Memory specific
	DataDirectory string
}

// FromAppConfig converts the application config to source config
func FromAppConfig(appConfig *config.Config) (Config, error) {
	if appConfig == nil {
		return Config{}, fmt.Errorf("app config is nil")
	}

	sourceType := SourceType(appConfig.DataSource)
	if !sourceType.IsValid() {
		return Config{}, fmt.Errorf("invalid data source in config: %s", appConfig.DataSource)
	}

	return Config{
		Type:              sourceType,
		SQLiteDBPath:      appConfig.SQLiteDBPath,
		CamaraAPIURL:      appConfig.CamaraAPIURL,
		CamaraConcurrency: appConfig.CamaraConcurrency,
		CamaraTimeout:     appConfig.CamaraTimeout,
		DataDirectory:     appConfig.DataDirectory,
	}, nil
}

// Validate validates the source configuration
func (c Config) Validate() error {
	if !c.Type.IsValid() {
		return fmt.Errorf("invalid source type: %s", c.Type)
	}

	switch c.Type {
	case SQLiteSource:
		if c.SQLiteDBPath == "" {
			return fmt.Errorf("SQLite database path is required for sqlite source")
		}
	case CamaraSource:
		if c.CamaraConcurrency < 0 {
			return fmt.Errorf("Câmara concurrency must not be negative")
		}
	case MemorySource:
		// DataDirectory defaults to "data"
	}

	return nil
}
