package config

import (
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config holds the full application configuration.
type Config struct {
	Study     StudyConfig     `yaml:"study" mapstructure:"study"`
	Survey    SurveyConfig    `yaml:"survey" mapstructure:"survey"`
	Geo       GeoConfig       `yaml:"geo" mapstructure:"geo"`
	Analytics AnalyticsConfig `yaml:"analytics" mapstructure:"analytics"`
	Publish   PublishConfig   `yaml:"publish" mapstructure:"publish"`
	Notion    NotionConfig    `yaml:"notion" mapstructure:"notion"`
	QC        QCConfig        `yaml:"qc" mapstructure:"qc"`
	Quota     QuotaConfig     `yaml:"quota" mapstructure:"quota"`
	Export    ExportConfig    `yaml:"export" mapstructure:"export"`
	Store     StoreConfig     `yaml:"store" mapstructure:"store"`
	Log       LogConfig       `yaml:"log" mapstructure:"log"`
}

// StudyConfig holds study-level constants.
type StudyConfig struct {
	Workbook        string `yaml:"workbook" mapstructure:"workbook"`
	InstrumentsFile string `yaml:"instruments_file" mapstructure:"instruments_file"`
	TargetProvince  int    `yaml:"target_province" mapstructure:"target_province"`
}

// SurveyConfig configures the survey response source.
type SurveyConfig struct {
	ExportURL   string `yaml:"export_url" mapstructure:"export_url"`
	Token       string `yaml:"token" mapstructure:"token"`
	CacheFile   string `yaml:"cache_file" mapstructure:"cache_file"`
	TimeoutSecs int    `yaml:"timeout_secs" mapstructure:"timeout_secs"`
}

// GeoConfig configures the IP geolocation integration.
type GeoConfig struct {
	APIKey            string `yaml:"api_key" mapstructure:"api_key"`
	BaseURL           string `yaml:"base_url" mapstructure:"base_url"`
	BoundaryShapefile string `yaml:"boundary_shapefile" mapstructure:"boundary_shapefile"`
	RateLimitPerMin   int    `yaml:"rate_limit_per_min" mapstructure:"rate_limit_per_min"`
	BatchSize         int    `yaml:"batch_size" mapstructure:"batch_size"`
}

// AnalyticsConfig configures the engagement analytics integration.
type AnalyticsConfig struct {
	PropertyID    string `yaml:"property_id" mapstructure:"property_id"`
	Token         string `yaml:"token" mapstructure:"token"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
	StartDate     string `yaml:"start_date" mapstructure:"start_date"`
	EndDate       string `yaml:"end_date" mapstructure:"end_date"`
	CacheFile     string `yaml:"cache_file" mapstructure:"cache_file"`
	MaxConcurrent int    `yaml:"max_concurrent" mapstructure:"max_concurrent"`
}

// PublishConfig configures the spreadsheet publish of the quota table.
type PublishConfig struct {
	SpreadsheetID string `yaml:"spreadsheet_id" mapstructure:"spreadsheet_id"`
	Token         string `yaml:"token" mapstructure:"token"`
	SheetName     string `yaml:"sheet_name" mapstructure:"sheet_name"`
	BaseURL       string `yaml:"base_url" mapstructure:"base_url"`
}

// NotionConfig holds the optional Notion manual-decision source.
type NotionConfig struct {
	Token      string `yaml:"token" mapstructure:"token"`
	DecisionDB string `yaml:"decision_db" mapstructure:"decision_db"`
}

// QCConfig holds quality-flag tuning.
type QCConfig struct {
	SpeedRatio          float64 `yaml:"speed_ratio" mapstructure:"speed_ratio"`
	LongstringThreshold int     `yaml:"longstring_threshold" mapstructure:"longstring_threshold"`
}

// QuotaConfig holds quota accounting tuning.
type QuotaConfig struct {
	ValidGenders []int `yaml:"valid_genders" mapstructure:"valid_genders"`
}

// ExportConfig configures snapshot output.
type ExportConfig struct {
	OutDir string `yaml:"out_dir" mapstructure:"out_dir"`
}

// StoreConfig configures the run-history backend.
type StoreConfig struct {
	Driver      string `yaml:"driver" mapstructure:"driver"`
	DatabaseURL string `yaml:"database_url" mapstructure:"database_url"`
	SQLitePath  string `yaml:"sqlite_path" mapstructure:"sqlite_path"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level" mapstructure:"level"`
	Format string `yaml:"format" mapstructure:"format"`
}

// Load reads configuration from file and environment.
func Load() (*Config, error) {
	v := viper.New()

	// Config file
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")

	// Environment
	v.SetEnvPrefix("SURVEYQC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("study.workbook", "study.xlsx")
	v.SetDefault("study.target_province", 7)
	v.SetDefault("survey.cache_file", "survey_cache.csv")
	v.SetDefault("survey.timeout_secs", 60)
	v.SetDefault("geo.base_url", "https://pro.ip-api.com/batch")
	v.SetDefault("geo.rate_limit_per_min", 45)
	v.SetDefault("geo.batch_size", 100)
	v.SetDefault("analytics.base_url", "https://analyticsdata.googleapis.com/v1beta")
	v.SetDefault("analytics.cache_file", "engagement_cache.csv")
	v.SetDefault("analytics.max_concurrent", 4)
	v.SetDefault("publish.sheet_name", "quota")
	v.SetDefault("publish.base_url", "https://sheets.googleapis.com/v4")
	v.SetDefault("qc.speed_ratio", 0.3)
	v.SetDefault("qc.longstring_threshold", 2)
	v.SetDefault("quota.valid_genders", []int{1, 2})
	v.SetDefault("export.out_dir", "out")
	v.SetDefault("store.driver", "sqlite")
	v.SetDefault("store.sqlite_path", "surveyqc.db")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	// Read config file (optional)
	if err := v.ReadInConfig(); err != nil {
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

// Validate checks that the configuration is usable for the given mode.
// Modes: "report" (the full pipeline; the check command uses it too) and
// "runs" (run history only). Problems are aggregated into a single error.
func (c *Config) Validate(mode string) error {
	var problems []string

	checkStore := func() {
		switch c.Store.Driver {
		case "sqlite":
			if c.Store.SQLitePath == "" {
				problems = append(problems, "store.sqlite_path is required")
			}
		case "postgres":
			if c.Store.DatabaseURL == "" {
				problems = append(problems, "store.database_url is required")
			}
		default:
			problems = append(problems, fmt.Sprintf("store.driver must be sqlite or postgres, got %q", c.Store.Driver))
		}
	}

	switch mode {
	case "report":
		if c.Study.Workbook == "" {
			problems = append(problems, "study.workbook is required")
		}
		if c.Study.TargetProvince < 1 || c.Study.TargetProvince > 14 {
			problems = append(problems, "study.target_province must be a province code between 1 and 14")
		}
		if c.Survey.ExportURL == "" && c.Survey.CacheFile == "" {
			problems = append(problems, "one of survey.export_url or survey.cache_file is required")
		}
		if c.QC.SpeedRatio <= 0 || c.QC.SpeedRatio >= 1 {
			problems = append(problems, "qc.speed_ratio must be between 0 and 1 exclusive")
		}
		if c.QC.LongstringThreshold < 0 {
			problems = append(problems, "qc.longstring_threshold must be >= 0")
		}
		if len(c.Quota.ValidGenders) == 0 {
			problems = append(problems, "quota.valid_genders must not be empty")
		}
		if c.Export.OutDir == "" {
			problems = append(problems, "export.out_dir is required")
		}
		checkStore()
	case "runs":
		checkStore()
	default:
		return eris.Errorf("config: unknown mode %q", mode)
	}

	if len(problems) > 0 {
		return eris.Errorf("config: %s", strings.Join(problems, "; "))
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
