package config

import "time"

// Config holds all application configuration.
// It organizes settings into logical groups for better maintainability.
type Config struct {
	Server   ServerConfig   `mapstructure:"server" validate:"required"`
	Task     TaskConfig     `mapstructure:"task" validate:"required"`
	Database DatabaseConfig `mapstructure:"database"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

// ServerConfig contains all server-related configuration settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port" validate:"required,gt=0,lt=65536"`
	LogLevel        string        `mapstructure:"log_level" validate:"required,oneof=debug info warn error"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// TaskConfig sizes the task engine.
type TaskConfig struct {
	// WorkerCount is the number of tasks that run concurrently.
	WorkerCount int `mapstructure:"worker_count" validate:"gt=0"`

	// QueueSize is how many admitted tasks may wait for a worker.
	QueueSize int `mapstructure:"queue_size" validate:"gte=0"`

	// Timeout is the wall-clock limit of a running task; zero disables it.
	Timeout time.Duration `mapstructure:"timeout" validate:"gte=0"`

	// MaxRetained bounds how many finished tasks stay queryable in memory.
	MaxRetained int `mapstructure:"max_retained" validate:"gt=0"`

	StageDelay time.Duration `mapstructure:"stage_delay" validate:"gte=0"`
}

// DatabaseConfig contains all database-related configuration settings.
// The database is optional; without it finished tasks are kept in memory only.
type DatabaseConfig struct {
	// URL accepts any connection string pgx accepts: a postgres:// URL or
	// libpq keyword/value pairs such as "host=db user=analyze".
	URL string `mapstructure:"url" validate:"omitempty,dsn"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path" validate:"required,startswith=/"`
}
