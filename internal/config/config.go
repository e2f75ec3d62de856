// Package config loads and defaults the server's on-disk YAML configuration,
// layered with optional .env overrides, following the same
// Load-fills-defaults-over-YAML pattern the rest of the stack uses for its
// config surface.
package config

import (
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every runtime-tunable value named in the configuration
// surface. Fields map 1:1 onto YAML keys and, where noted, an environment
// variable override applied after Load.
type Config struct {
	Server struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"server"`

	Transcoding struct {
		MaxConcurrentJobs int  `yaml:"max_concurrent_jobs"` // 0 = derive from hardware tier
		SegmentDurationS  int  `yaml:"segment_duration_s"`
		EnableABR         bool `yaml:"enable_abr"`
		ABRMaxVariants    int  `yaml:"abr_max_variants"`
		ToneMapHDR        bool `yaml:"tone_map_hdr"`
		RetryCount        int  `yaml:"retry_count"`
		StallTimeoutS     int  `yaml:"stall_timeout_s"`
	} `yaml:"transcoding"`

	Hardware struct {
		PreferHWAccel      bool   `yaml:"prefer_hw_accel"`
		FallbackToSoftware bool   `yaml:"fallback_to_software"`
		NVENCPreset        string `yaml:"nvenc_preset"`
	} `yaml:"hardware"`

	Security struct {
		APIKey string `yaml:"api_key"`
	} `yaml:"security"`

	Logging struct {
		Level string `yaml:"level"`
	} `yaml:"logging"`

	Janitor struct {
		RetentionTTLSeconds int `yaml:"retention_ttl_s"`
		MaxJobs             int `yaml:"max_jobs"`
		MaxTerminalRetained int `yaml:"max_terminal_retained"`
	} `yaml:"janitor"`

	Metrics struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"metrics"`

	// FFmpegPath and FFprobePath locate the encoder toolchain.
	FFmpegPath  string `yaml:"ffmpeg_path"`
	FFprobePath string `yaml:"ffprobe_path"`

	// TempDirectory is the root under which every job's working directory
	// is created (job id subdirectories, see the persisted state layout).
	TempDirectory string `yaml:"temp_directory"`

	// StateDirectory holds the aggregate-stats SQLite database. Distinct
	// from TempDirectory: this is small, long-lived state; TempDirectory
	// holds large, job-scoped, ephemeral artifacts.
	StateDirectory string `yaml:"state_directory"`
}

// DefaultConfig returns a Config with every field set to the default named
// in the configuration surface.
func DefaultConfig() *Config {
	c := &Config{}
	c.Server.Host = "0.0.0.0"
	c.Server.Port = 8765
	c.Transcoding.MaxConcurrentJobs = 0
	c.Transcoding.SegmentDurationS = 4
	c.Transcoding.EnableABR = true
	c.Transcoding.ABRMaxVariants = 4
	c.Transcoding.ToneMapHDR = true
	c.Transcoding.RetryCount = 3
	c.Transcoding.StallTimeoutS = 120
	c.Hardware.PreferHWAccel = true
	c.Hardware.FallbackToSoftware = true
	c.Hardware.NVENCPreset = "p4"
	c.Logging.Level = "info"
	c.Janitor.RetentionTTLSeconds = 120
	c.Janitor.MaxJobs = 50
	c.Janitor.MaxTerminalRetained = 10
	c.Metrics.Enabled = true
	c.FFmpegPath = "ffmpeg"
	c.FFprobePath = "ffprobe"
	c.TempDirectory = "/tmp/ghoststream"
	c.StateDirectory = "config"
	return c
}

// Load reads config from a YAML file, applying defaults for anything the
// file omits. A missing file is not an error: DefaultConfig() is returned
// as-is.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	if cfg.Transcoding.RetryCount <= 0 {
		cfg.Transcoding.RetryCount = 3
	}
	if cfg.Transcoding.StallTimeoutS <= 0 {
		cfg.Transcoding.StallTimeoutS = 120
	}
	if cfg.Janitor.RetentionTTLSeconds <= 0 {
		cfg.Janitor.RetentionTTLSeconds = 120
	}
	if cfg.Janitor.MaxJobs <= 0 {
		cfg.Janitor.MaxJobs = 50
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8765
	}

	return cfg, nil
}

// Save writes the config back out as YAML, creating the parent directory if
// needed.
func (c *Config) Save(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// LoadDotEnv loads an optional .env file, silently doing nothing if absent.
// Recognized keys are applied on top of an already-loaded Config by
// ApplyEnvOverrides.
func LoadDotEnv(path string) {
	_ = godotenv.Load(path)
}

// ApplyEnvOverrides layers GHOSTSTREAM_* environment variables (populated
// either by the real environment or by LoadDotEnv) over an already-loaded
// Config.
func ApplyEnvOverrides(c *Config) {
	if v := os.Getenv("GHOSTSTREAM_HOST"); v != "" {
		c.Server.Host = v
	}
	if v := os.Getenv("GHOSTSTREAM_TEMP_DIR"); v != "" {
		c.TempDirectory = v
	}
	if v := os.Getenv("GHOSTSTREAM_STATE_DIR"); v != "" {
		c.StateDirectory = v
	}
	if v := os.Getenv("GHOSTSTREAM_API_KEY"); v != "" {
		c.Security.APIKey = v
	}
	if v := os.Getenv("GHOSTSTREAM_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("GHOSTSTREAM_FFMPEG_PATH"); v != "" {
		c.FFmpegPath = v
	}
}

// JobWorkingDir returns the working directory for a job id under the
// configured temp root.
func (c *Config) JobWorkingDir(jobID string) string {
	return filepath.Join(c.TempDirectory, jobID)
}
