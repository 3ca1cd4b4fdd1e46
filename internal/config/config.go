package config

import (
	"fmt"
	"os"
	"time"

	constants "hwpulse/config"
	"hwpulse/internal/access"
	"hwpulse/internal/alerts"

	"github.com/spf13/viper"
)

// Config represents the engine configuration
type Config struct {
	HostID   string            `mapstructure:"host_id"`
	HostTags map[string]string `mapstructure:"host_tags"` // tag groups this host belongs to, e.g. rack: r12
	Mode     string            `mapstructure:"mode"`
	DataDir  string            `mapstructure:"data_dir"`
	EventDir string            `mapstructure:"event_dir"`

	CPUThreshold  float64 `mapstructure:"cpu_threshold"`
	MemThreshold  float64 `mapstructure:"mem_threshold"`
	DiskThreshold float64 `mapstructure:"disk_threshold"`
	GPUTempLimit  float64 `mapstructure:"gpu_temp_limit"`

	CollectionInterval time.Duration `mapstructure:"collection_interval"`
	SegmentMaxSamples  int           `mapstructure:"segment_max_samples"`
	SegmentMaxSpan     time.Duration `mapstructure:"segment_max_span"`
	RetentionHorizon   time.Duration `mapstructure:"retention_horizon"`
	CompactionInterval time.Duration `mapstructure:"compaction_interval"`

	AggregateBucket  time.Duration `mapstructure:"aggregate_bucket"`
	AnomalyWindow    int           `mapstructure:"anomaly_window"`
	AnomalyThreshold float64       `mapstructure:"anomaly_threshold"`
	PredictWindow    int           `mapstructure:"predict_window"`
	StalenessWindow  time.Duration `mapstructure:"staleness_window"`

	ListenAddr     string        `mapstructure:"listen_addr"`
	FleetURL       string        `mapstructure:"fleet_url"` // aggregator base URL for reporters
	FleetKey       string        `mapstructure:"fleet_key"`
	ReportInterval time.Duration `mapstructure:"report_interval"`

	RateLimitWindow time.Duration  `mapstructure:"rate_limit_window"`
	Tokens          []access.Token `mapstructure:"tokens"`
	Rules           []alerts.Rule  `mapstructure:"rules"`
	StateSeries     []string       `mapstructure:"state_series"` // discrete series watched for changes
}

// IsFleetMode checks if this host participates in fleet aggregation
func (cfg *Config) IsFleetMode() bool {
	return cfg.Mode == constants.MODE_FLEET
}

// determineMode automatically sets the operation mode
func (cfg *Config) determineMode() {
	if cfg.Mode == "" {
		cfg.Mode = constants.MODE_STANDALONE
	}
}

// LoadConfig loads configuration from file and environment
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath("$HOME" + constants.CONFIG_DIR_NAME)
	viper.AddConfigPath(".")

	// Set defaults
	home := os.Getenv("HOME")
	viper.SetDefault("data_dir", home+constants.DATA_DIR_NAME)
	viper.SetDefault("event_dir", home+constants.EVENTS_DIR_NAME)
	viper.SetDefault("cpu_threshold", constants.DEFAULT_CPU_THRESHOLD)
	viper.SetDefault("mem_threshold", constants.DEFAULT_MEMORY_THRESHOLD)
	viper.SetDefault("disk_threshold", constants.DEFAULT_DISK_THRESHOLD)
	viper.SetDefault("gpu_temp_limit", constants.DEFAULT_GPU_TEMP_LIMIT)
	viper.SetDefault("collection_interval", constants.DEFAULT_COLLECTION_INTERVAL)
	viper.SetDefault("segment_max_samples", constants.DEFAULT_SEGMENT_MAX_SAMPLES)
	viper.SetDefault("segment_max_span", constants.DEFAULT_SEGMENT_MAX_SPAN)
	viper.SetDefault("retention_horizon", constants.DEFAULT_RETENTION_HORIZON)
	viper.SetDefault("compaction_interval", constants.DEFAULT_COMPACTION_INTERVAL)
	viper.SetDefault("aggregate_bucket", constants.DEFAULT_AGGREGATE_BUCKET)
	viper.SetDefault("anomaly_window", constants.DEFAULT_ANOMALY_WINDOW)
	viper.SetDefault("anomaly_threshold", constants.DEFAULT_ANOMALY_THRESHOLD)
	viper.SetDefault("predict_window", constants.DEFAULT_PREDICT_WINDOW)
	viper.SetDefault("staleness_window", constants.DEFAULT_STALENESS_WINDOW)
	viper.SetDefault("listen_addr", constants.DEFAULT_LISTEN_ADDR)
	viper.SetDefault("report_interval", constants.DEFAULT_REPORT_INTERVAL)
	viper.SetDefault("rate_limit_window", constants.DEFAULT_RATE_LIMIT_WINDOW)

	// Read config file
	viper.ReadInConfig()

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if cfg.HostID == "" {
		cfg.HostID, _ = os.Hostname()
	}

	// Determine operation mode
	cfg.determineMode()

	return &cfg, nil
}

// SaveConfig saves configuration to file
func SaveConfig(cfg *Config) error {
	configDir := os.Getenv("HOME") + constants.CONFIG_DIR_NAME
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return err
	}

	// Build config content with only non-default values
	var configLines []string

	if cfg.HostID != "" {
		configLines = append(configLines, fmt.Sprintf("host_id: %s", cfg.HostID))
	}
	if cfg.Mode != "" {
		configLines = append(configLines, fmt.Sprintf("mode: %s", cfg.Mode))
	}
	if cfg.DataDir != "" {
		configLines = append(configLines, fmt.Sprintf("data_dir: %s", cfg.DataDir))
	}
	if cfg.EventDir != "" {
		configLines = append(configLines, fmt.Sprintf("event_dir: %s", cfg.EventDir))
	}

	// Alert thresholds (always save)
	configLines = append(configLines, fmt.Sprintf("cpu_threshold: %.1f", cfg.CPUThreshold))
	configLines = append(configLines, fmt.Sprintf("mem_threshold: %.1f", cfg.MemThreshold))
	configLines = append(configLines, fmt.Sprintf("disk_threshold: %.1f", cfg.DiskThreshold))
	configLines = append(configLines, fmt.Sprintf("gpu_temp_limit: %.1f", cfg.GPUTempLimit))

	configContent := ""
	for i, line := range configLines {
		configContent += line
		if i < len(configLines)-1 {
			configContent += "\n"
		}
	}

	configFile := configDir + "/config.yaml"
	return os.WriteFile(configFile, []byte(configContent), 0644)
}
