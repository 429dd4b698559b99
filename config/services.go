package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeWorker runs the job claim-and-execute loop.
	ServiceModeWorker ServiceMode = "worker"
	// ServiceModeReaper runs the stuck-job reaper.
	ServiceModeReaper ServiceMode = "reaper"
	// ServiceModeStatusConsumer runs the status queue consumer.
	ServiceModeStatusConsumer ServiceMode = "status-consumer"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{ServiceModeWorker, ServiceModeReaper, ServiceModeStatusConsumer}
}

// ParseServices parses a comma-delimited string of service names and returns the enabled services.
// It validates that all service names are valid and returns an error if any are invalid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeWorker, ServiceModeReaper, ServiceModeStatusConsumer:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: worker, reaper, status-consumer)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// WorkerConfig contains worker service configuration.
type WorkerConfig struct {
	// PollInterval is how long the worker sleeps between claim attempts when the
	// queue is empty. A pg notification wakes it early.
	PollInterval time.Duration `env:"WORKER_POLL_INTERVAL" envDefault:"5s"`

	// ShutdownGrace bounds how long shutdown waits for the in-flight job to be
	// reset before the process exits.
	ShutdownGrace time.Duration `env:"WORKER_SHUTDOWN_GRACE" envDefault:"30s"`

	// JobID, when set, makes the worker claim this specific job and exit rather
	// than polling. Used for manually-triggered or offloaded execution.
	JobID string `env:"WORKER_JOB_ID" envDefault:""`
}

// Sanitize applies guardrails to worker configuration values.
func (w *WorkerConfig) Sanitize() {
	if w.PollInterval < time.Second {
		w.PollInterval = time.Second
	}
	if w.ShutdownGrace < 5*time.Second {
		w.ShutdownGrace = 5 * time.Second
	}
}

// BuildConfig contains build pipeline configuration.
type BuildConfig struct {
	// WorkDir is the root directory under which per-repo working directories live.
	WorkDir string `env:"BUILD_WORK_DIR" envDefault:"/tmp/docworker/repos"`

	// OutputDir is the directory (relative to the repo workdir) that the build
	// command writes artifacts to.
	OutputDir string `env:"BUILD_OUTPUT_DIR" envDefault:"public"`

	// NextGenMarker is the token whose presence in the repo's worker script opts
	// the repository into the next-gen pipeline.
	NextGenMarker string `env:"BUILD_NEXTGEN_MARKER" envDefault:"snooty-build"`

	// WorkerScript is the repo-provided script inspected for NextGenMarker.
	WorkerScript string `env:"BUILD_WORKER_SCRIPT" envDefault:"worker.sh"`

	// ErrorMarker flags a deploy whose output reports an internal failure even
	// when the process exited zero.
	ErrorMarker string `env:"BUILD_ERROR_MARKER" envDefault:"ERROR"`

	// SupportFileURL is the shared build-support file fetched into the workdir
	// before the build commands run. Empty disables the fetch.
	SupportFileURL string `env:"BUILD_SUPPORT_FILE_URL" envDefault:""`

	// CommandTimeout bounds a single logical shell invocation.
	CommandTimeout time.Duration `env:"BUILD_COMMAND_TIMEOUT" envDefault:"40m"`

	// MaxOutputBytes caps captured stdout/stderr per invocation.
	MaxOutputBytes int `env:"BUILD_MAX_OUTPUT_BYTES" envDefault:"1048576"`
}

// Sanitize applies guardrails to build configuration values.
func (b *BuildConfig) Sanitize() {
	if b.WorkDir == "" {
		b.WorkDir = "/tmp/docworker/repos"
	}
	if b.OutputDir == "" {
		b.OutputDir = "public"
	}
	if b.NextGenMarker == "" {
		b.NextGenMarker = "snooty-build"
	}
	if b.WorkerScript == "" {
		b.WorkerScript = "worker.sh"
	}
	if b.CommandTimeout < time.Minute {
		b.CommandTimeout = time.Minute
	}
	if b.MaxOutputBytes < 4096 {
		b.MaxOutputBytes = 4096
	}
}

// ReaperConfig contains stuck-job reaper configuration.
type ReaperConfig struct {
	// Interval is the reaper tick interval.
	Interval time.Duration `env:"REAPER_INTERVAL" envDefault:"5m"`

	// StuckThreshold is how long a job may sit inProgress before the reaper
	// fails it. Guards against workers that died without reporting.
	StuckThreshold time.Duration `env:"REAPER_STUCK_THRESHOLD" envDefault:"8h"`

	// CompletedMaxAge is the maximum age for terminal jobs before deletion.
	CompletedMaxAge time.Duration `env:"REAPER_COMPLETED_MAX_AGE" envDefault:"720h"` // 30 days

	// BatchSize is the maximum number of rows to process per sweep.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"REAPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to reaper configuration values.
func (r *ReaperConfig) Sanitize() {
	if r.Interval < time.Minute {
		r.Interval = time.Minute
	}
	if r.StuckThreshold < 10*time.Minute {
		r.StuckThreshold = 10 * time.Minute
	}
	if r.CompletedMaxAge < time.Hour {
		r.CompletedMaxAge = time.Hour
	}
	if r.BatchSize < 1 {
		r.BatchSize = 1
	}
	if r.BatchSize > 10000 {
		r.BatchSize = 10000
	}
}

// StatusQueueConfig contains status queue configuration.
type StatusQueueConfig struct {
	// KeyPrefix namespaces the queue's Redis keys per environment.
	KeyPrefix string `env:"STATUS_QUEUE_KEY_PREFIX" envDefault:"docworker:status"`

	// BaseDelay is multiplied by the try count to compute the re-enqueue delay
	// of a message that failed processing.
	BaseDelay time.Duration `env:"STATUS_QUEUE_BASE_DELAY" envDefault:"10s"`

	// MaxRetries bounds delivery attempts before a message is dead-lettered.
	MaxRetries int `env:"STATUS_QUEUE_MAX_RETRIES" envDefault:"5"`

	// PollInterval is how often the consumer promotes due delayed messages.
	PollInterval time.Duration `env:"STATUS_QUEUE_POLL_INTERVAL" envDefault:"1s"`
}

// Sanitize applies guardrails to status queue configuration values.
func (s *StatusQueueConfig) Sanitize() {
	if s.KeyPrefix == "" {
		s.KeyPrefix = "docworker:status"
	}
	if s.BaseDelay <= 0 {
		s.BaseDelay = 10 * time.Second
	}
	if s.MaxRetries < 1 {
		s.MaxRetries = 1
	}
	if s.PollInterval < 100*time.Millisecond {
		s.PollInterval = 100 * time.Millisecond
	}
}

// ComputeConfig contains external compute dispatch configuration.
type ComputeConfig struct {
	// BaseURL of the container execution service. Empty disables offloading;
	// jobs then execute in-process.
	BaseURL string `env:"COMPUTE_BASE_URL" envDefault:""`

	// Queue is the compute service queue that offloaded tasks land on.
	Queue string `env:"COMPUTE_QUEUE" envDefault:"docworker-jobs"`
}

// Enabled reports whether execution offloading is configured.
func (c *ComputeConfig) Enabled() bool {
	return c.BaseURL != ""
}
