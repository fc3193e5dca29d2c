package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"

	"chanrelay/internal/constants"
	"chanrelay/internal/models"
)

var (
	ErrMissingGatewayURL = models.ConfigError{Message: "missing gateway base URL"}
	ErrMissingDBPath     = models.ConfigError{Message: "missing database path"}
	ErrMissingStagingDir = models.ConfigError{Message: "missing media staging directory"}
	ErrMissingOwnerID    = models.ConfigError{Message: "missing owner user id"}
)

func LoadConfig(path string) (*models.Config, error) {
	file, err := os.ReadFile(path) // #nosec G304 - path comes from the operator, not request data
	if err != nil {
		return nil, err
	}

	var config models.Config
	if err := json.Unmarshal(file, &config); err != nil {
		return nil, err
	}

	if err := validate(&config); err != nil {
		return nil, err
	}

	applyEnvironmentOverrides(&config)

	return &config, nil
}

func validate(c *models.Config) error {
	if c.Gateway.BaseURL == "" {
		return ErrMissingGatewayURL
	}
	if c.Database.Path == "" {
		return ErrMissingDBPath
	}
	if c.Media.StagingDir == "" {
		return ErrMissingStagingDir
	}
	if c.OwnerID == 0 {
		return ErrMissingOwnerID
	}

	if c.Gateway.HTTPTimeoutSec <= 0 {
		c.Gateway.HTTPTimeoutSec = constants.DefaultGatewayHTTPTimeoutSec
	}
	if c.Media.MaxSizeMB <= 0 {
		c.Media.MaxSizeMB = 2048
	}
	if c.Retry.InitialBackoffMs <= 0 {
		c.Retry.InitialBackoffMs = constants.DefaultBackoffInitialMs
	}
	if c.Retry.MaxBackoffMs <= 0 {
		c.Retry.MaxBackoffMs = constants.DefaultBackoffMaxMs
	}
	if c.Retry.MaxAttempts <= 0 {
		c.Retry.MaxAttempts = constants.DefaultDatabaseRetryAttempts
	}
	if c.Server.Port <= 0 {
		c.Server.Port = constants.DefaultServerPort
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 30
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	return nil
}

func applyEnvironmentOverrides(c *models.Config) {
	if url := os.Getenv("CHANRELAY_GATEWAY_URL"); url != "" {
		c.Gateway.BaseURL = url
	}
	if url := os.Getenv("CHANRELAY_GATEWAY_EVENTS_URL"); url != "" {
		c.Gateway.EventsURL = url
	}

	// The gateway API key must not live in the config file.
	if key := os.Getenv("CHANRELAY_GATEWAY_API_KEY"); key != "" {
		c.Gateway.APIKey = key
	}

	if path := os.Getenv("CHANRELAY_DB_PATH"); path != "" {
		c.Database.Path = path
	}
	if dir := os.Getenv("CHANRELAY_MEDIA_DIR"); dir != "" {
		c.Media.StagingDir = dir
	}
	if owner := os.Getenv("CHANRELAY_OWNER_ID"); owner != "" {
		if id, err := strconv.ParseInt(owner, 10, 64); err == nil {
			c.OwnerID = id
		} else {
			fmt.Fprintf(os.Stderr, "WARNING: ignoring malformed CHANRELAY_OWNER_ID %q\n", owner)
		}
	}
}
