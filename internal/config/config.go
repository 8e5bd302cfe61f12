package config

import (
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full pipeline configuration.
type Config struct {
	Paths     PathsConfig   `yaml:"paths" mapstructure:"paths"`
	Params    ParamsConfig  `yaml:"params" mapstructure:"params"`
	Outputs   OutputsConfig `yaml:"outputs" mapstructure:"outputs"`
	FeedsFile string        `yaml:"feeds_file" mapstructure:"feeds_file"`
	Log       LogConfig     `yaml:"log" mapstructure:"log"`
}

// PathsConfig locates pipeline inputs and working directories.
type PathsConfig struct {
	DNSDBGlob string `yaml:"dnsdb_glob" mapstructure:"dnsdb_glob"`
	Step1Dir  string `yaml:"step1_dir" mapstructure:"step1_dir"`
	Step2Dir  string `yaml:"step2_dir" mapstructure:"step2_dir"`
	CIDRMap   string `yaml:"cidr_map" mapstructure:"cidr_map"`
	LedgerDir string `yaml:"ledger_dir" mapstructure:"ledger_dir"`
}

// ParamsConfig holds tunables shared across steps.
type ParamsConfig struct {
	Processes         int    `yaml:"processes" mapstructure:"processes"`
	ThresholdSLDCount int64  `yaml:"threshold_sld_count" mapstructure:"threshold_sld_count"`
	CommitEvery       int    `yaml:"commit_every" mapstructure:"commit_every"`
	LedgerSizeGB      int    `yaml:"ledger_size_gb" mapstructure:"ledger_size_gb"`
	RunID             string `yaml:"run_id" mapstructure:"run_id"`
	IncludeIPv6       bool   `yaml:"include_ipv6" mapstructure:"include_ipv6"`
}

// OutputsConfig locates the per-step output tables.
type OutputsConfig struct {
	OrgsCSV       string `yaml:"orgs_csv" mapstructure:"orgs_csv"`
	CapacityCSV   string `yaml:"capacity_csv" mapstructure:"capacity_csv"`
	FeedCountsCSV string `yaml:"feed_counts_csv" mapstructure:"feed_counts_csv"`
	MergedCSV     string `yaml:"merged_csv" mapstructure:"merged_csv"`
	MergedXLSX    string `yaml:"merged_xlsx" mapstructure:"merged_xlsx"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from the given YAML file and the environment.
// An absent default config file is tolerated (commands validate their own
// inputs); an explicitly named file that cannot be read is fatal.
func Load(path string) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("HOSTERBENCH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault("paths.step1_dir", "data/work/step1")
	v.SetDefault("paths.step2_dir", "data/work/step2")
	v.SetDefault("paths.ledger_dir", "data/work/ledger")
	v.SetDefault("params.processes", 1)
	v.SetDefault("params.threshold_sld_count", 100)
	v.SetDefault("params.commit_every", 10000)
	v.SetDefault("params.ledger_size_gb", 64)
	v.SetDefault("params.include_ipv6", false)
	v.SetDefault("outputs.orgs_csv", "data/output/orgs.csv")
	v.SetDefault("outputs.capacity_csv", "data/output/org_ip_capacity.csv")
	v.SetDefault("outputs.feed_counts_csv", "data/output/hoster_abuse_counts.csv")
	v.SetDefault("outputs.merged_csv", "data/output/merged_counts_with_capacity.csv")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	if err := v.ReadInConfig(); err != nil {
		if path != "" {
			if _, statErr := os.Stat(path); statErr != nil {
				return nil, eris.Wrapf(statErr, "config: %s", path)
			}
			return nil, eris.Wrap(err, "config: read file")
		}
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, eris.Wrap(err, "config: read file")
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, eris.Wrap(err, "config: unmarshal")
	}

	return &cfg, nil
}

// Validate checks invariants every command relies on. Config errors are
// fatal at startup, before any processing begins — a missing hoster map
// must not surface only after hours of extraction.
func (c *Config) Validate() error {
	if c.Paths.CIDRMap == "" {
		return eris.New("config: paths.cidr_map is required")
	}
	if c.Params.CommitEvery < 0 {
		return eris.New("config: params.commit_every must be >= 0")
	}
	if c.Params.ThresholdSLDCount < 0 {
		return eris.New("config: params.threshold_sld_count must be >= 0")
	}
	if c.Params.LedgerSizeGB < 0 {
		return eris.New("config: params.ledger_size_gb must be >= 0")
	}
	if c.Params.Processes < 0 {
		return eris.New("config: params.processes must be >= 0")
	}
	return nil
}

// InitLogger initializes the global zap logger.
func InitLogger(cfg LogConfig) error {
	var zapCfg zap.Config
	if cfg.Format == "console" {
		zapCfg = zap.NewDevelopmentConfig()
	} else {
		zapCfg = zap.NewProductionConfig()
	}

	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return eris.Wrap(err, "config: parse log level")
	}
	zapCfg.Level.SetLevel(level)

	logger, err := zapCfg.Build()
	if err != nil {
		return eris.Wrap(err, "config: build logger")
	}
	zap.ReplaceGlobals(logger)

	return nil
}
