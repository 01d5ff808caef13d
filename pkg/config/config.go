// Package config loads the controller's runtime configuration from a YAML
// file with environment-variable overrides, following the same flat-struct
// style the rest of the controller uses for its domain types.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the controller's process-wide configuration. A single instance
// is built at startup and handed to every component in pkg/containerctx,
// pkg/task, pkg/gateway, pkg/deploydriver and pkg/worker; nothing
// hot-reconfigures it (spec.md Non-goals).
type Config struct {
	// Container engine
	ContainerdSocket string `yaml:"containerd_socket"`
	ImageRef         string `yaml:"image_ref"`
	NetworkName      string `yaml:"network_name"`
	DNSSuffix        string `yaml:"dns_suffix"`
	ManagementPort   int    `yaml:"management_port"`
	UserServicePort  int    `yaml:"user_service_port"`

	// Task pipeline timeouts (spec.md §5)
	TaskTotalTimeout   time.Duration `yaml:"task_total_timeout"`
	RouterSendTimeout  time.Duration `yaml:"router_send_timeout"`
	IdleTaskWarning    time.Duration `yaml:"idle_task_warning"`
	ContainerStopGrace time.Duration `yaml:"container_stop_grace"`
	RuntimeRPCTimeout  time.Duration `yaml:"runtime_rpc_timeout"`
	BackoffCap         time.Duration `yaml:"backoff_cap"`

	// Idle eviction (spec.md §9 Open Question: exposed as an override)
	IdleCPUPerMinuteThreshold float64 `yaml:"idle_cpu_per_minute_threshold"`

	// Bounded counters (spec.md §4.2, §8 invariant 7)
	MaxRestartAttempts  int `yaml:"max_restart_attempts"`
	MaxRecreateAttempts int `yaml:"max_recreate_attempts"`
	MaxProbeAttempts    int `yaml:"max_probe_attempts"`

	// Persistence and listeners
	DataDir       string `yaml:"data_dir"`
	ListenAddr    string `yaml:"listen_addr"`
	ProxyAddr     string `yaml:"proxy_addr"`
	AdminSecret   string `yaml:"admin_secret"`
	ACMEEmail     string `yaml:"acme_email"`
	AmbulanceTick time.Duration `yaml:"ambulance_tick"`
}

// Default returns the configuration used when no file is supplied, matching
// every default called out in spec.md §5.
func Default() Config {
	return Config{
		ContainerdSocket:          "/run/containerd/containerd.sock",
		ImageRef:                  "",
		NetworkName:               "controller0",
		DNSSuffix:                 "projects.example.internal",
		ManagementPort:            8001,
		UserServicePort:           8000,
		TaskTotalTimeout:          300 * time.Second,
		RouterSendTimeout:         9 * time.Second,
		IdleTaskWarning:           60 * time.Second,
		ContainerStopGrace:        10 * time.Second,
		RuntimeRPCTimeout:         120 * time.Second,
		BackoffCap:                300 * time.Second,
		IdleCPUPerMinuteThreshold: 1.0e8,
		MaxRestartAttempts:        5,
		MaxRecreateAttempts:       5,
		MaxProbeAttempts:          10,
		DataDir:                   "/var/lib/controller",
		ListenAddr:                ":7070",
		ProxyAddr:                 ":7080",
		AmbulanceTick:             30 * time.Second,
	}
}

// Load reads a YAML file over the defaults, then applies CONTROLLER_*
// environment overrides for the handful of secrets/paths that are usually
// injected by the deployment environment rather than checked into a file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONTROLLER_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
	if v := os.Getenv("CONTROLLER_ADMIN_SECRET"); v != "" {
		cfg.AdminSecret = v
	}
	if v := os.Getenv("CONTROLLER_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("CONTROLLER_IDLE_CPU_THRESHOLD"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.IdleCPUPerMinuteThreshold = f
		}
	}
}
