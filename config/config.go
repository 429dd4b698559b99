package config

// AppConfig is the main application configuration struct that composes
// domain-specific configuration from separate files.
//
// Configuration is loaded from environment variables using the
// github.com/caarlos0/env library. See individual domain config
// files for details on available environment variables:
//   - database.go: Database and status queue storage configuration
//   - services.go: Service mode, worker, reaper, and status queue configuration
type AppConfig struct {
	// Env names the deployment environment (dev, stg, prd, dotcomstg, dotcomprd).
	// It selects which per-environment bucket/URL a docset resolves to.
	Env string `env:"ENV" envDefault:"stg"`

	// Database configuration
	Postgres DBConfig    `envPrefix:"DB_"`
	Redis    RedisConfig `envPrefix:"REDIS_"`

	// Services is a comma-delimited list of enabled services.
	// Valid values: worker, reaper, status-consumer
	Services string `env:"SERVICES" envDefault:"worker"`

	// Worker configuration
	Worker WorkerConfig

	// Build pipeline configuration
	Build BuildConfig

	// Reaper configuration
	Reaper ReaperConfig

	// Status queue configuration
	StatusQueue StatusQueueConfig

	// Compute dispatch configuration
	Compute ComputeConfig
}

// Sanitize applies guardrails to configuration values loaded from env.
// This should be called after loading configuration from environment variables.
func (c *AppConfig) Sanitize() {
	c.Worker.Sanitize()
	c.Build.Sanitize()
	c.Reaper.Sanitize()
	c.StatusQueue.Sanitize()
}

// GetEnabledServices returns the enabled services based on the Services field.
func (c *AppConfig) GetEnabledServices() (map[ServiceMode]bool, error) {
	return ParseServices(c.Services)
}

// IsWorkerEnabled returns true if the worker service is enabled.
func (c *AppConfig) IsWorkerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeWorker]
}

// IsReaperEnabled returns true if the reaper service is enabled.
func (c *AppConfig) IsReaperEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeReaper]
}

// IsStatusConsumerEnabled returns true if the status queue consumer is enabled.
func (c *AppConfig) IsStatusConsumerEnabled() bool {
	services, err := c.GetEnabledServices()
	if err != nil {
		return false
	}
	return services[ServiceModeStatusConsumer]
}
