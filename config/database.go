package config

import "time"

// DBConfig contains PostgreSQL database configuration.
type DBConfig struct {
	Host     string `env:"HOST"     envDefault:"localhost"`
	Port     int    `env:"PORT"     envDefault:"5432"`
	User     string `env:"USER"     envDefault:"docworker"`
	Password string `env:"PASSWORD" envDefault:"docworker"`
	Name     string `env:"NAME"     envDefault:"docworker"`
	SSLMode  string `env:"SSL_MODE" envDefault:"disable"` // Use 'disable' for local dev, 'require' for production
	// RunMigrationsOnStart controls whether the application automatically applies migrations during startup.
	RunMigrationsOnStart bool `env:"RUN_MIGRATIONS_ON_START" envDefault:"true"`
	// OpTimeout bounds every individual store operation. A call that exceeds it
	// fails with a store error instead of hanging.
	OpTimeout time.Duration `env:"OP_TIMEOUT" envDefault:"10s"`
}

// RedisConfig contains Redis configuration for the status queue.
type RedisConfig struct {
	URI      string `env:"URI"      envDefault:"localhost:6379"`
	Password string `env:"PASSWORD" envDefault:""`
	DB       int    `env:"DB"       envDefault:"0"`
}
