package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"github.com/timmy/goldmine/internal/logger"
)

type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Documents  DocumentsConfig  `mapstructure:"documents"`
	Render     RenderConfig     `mapstructure:"render"`
	Supervisor SupervisorConfig `mapstructure:"supervisor"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Qdrant     QdrantConfig     `mapstructure:"qdrant"`
	Embedding  EmbeddingConfig  `mapstructure:"embedding"`
	Preview    PreviewConfig    `mapstructure:"preview"`
	Log        LogConfig        `mapstructure:"log"`
}

type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORS            CORSConfig    `mapstructure:"cors"`
}

type CORSConfig struct {
	AllowedOrigins  []string `mapstructure:"allowed_origins"`
	AllowAllOrigins bool     `mapstructure:"allow_all_origins"`
}

// DatabaseConfig selects the gorm driver. Path is used by sqlite, the
// remaining connection fields by postgres.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"`
	Path            string        `mapstructure:"path"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	AutoMigrate     bool          `mapstructure:"auto_migrate"`
	LogLevel        string        `mapstructure:"log_level"`
}

// DSN returns the connection string for the configured driver.
func (c *DatabaseConfig) DSN() string {
	if c.Driver == "postgres" {
		return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode)
	}
	return c.Path + "?_busy_timeout=5000"
}

// DocumentsConfig locates the TeX sources and the rendered output.
type DocumentsConfig struct {
	Root         string `mapstructure:"root"`
	AssetRoot    string `mapstructure:"asset_root"`
	PreviewCache string `mapstructure:"preview_cache"`
}

// RenderConfig drives the external TeX to HTML converter.
type RenderConfig struct {
	Binary            string        `mapstructure:"binary"`
	Args              []string      `mapstructure:"args"`
	PathFlag          string        `mapstructure:"path_flag"`
	Timeout           time.Duration `mapstructure:"timeout"`
	SearchDirs        []string      `mapstructure:"search_dirs"`
	SupportedPackages []string      `mapstructure:"supported_packages"`
	HintCommands      []string      `mapstructure:"hint_commands"`
	KeepWorkspace     bool          `mapstructure:"keep_workspace"`
	MirrorAssets      bool          `mapstructure:"mirror_assets"`
	IndexVectors      bool          `mapstructure:"index_vectors"`
}

// SupervisorConfig controls the render job driver.
type SupervisorConfig struct {
	Command       string        `mapstructure:"command"`
	CommandArgs   []string      `mapstructure:"command_args"`
	FlushInterval time.Duration `mapstructure:"flush_interval"`
	LogLimit      int           `mapstructure:"log_limit"`
}

// StorageConfig configures the optional S3-compatible asset mirror.
type StorageConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Type      string `mapstructure:"type"`
	Endpoint  string `mapstructure:"endpoint"`
	AccessKey string `mapstructure:"access_key"`
	SecretKey string `mapstructure:"secret_key"`
	UseSSL    bool   `mapstructure:"use_ssl"`
	Bucket    string `mapstructure:"bucket"`
	Region    string `mapstructure:"region"`
	PublicURL string `mapstructure:"public_url"`
	Prefix    string `mapstructure:"prefix"`
}

type QdrantConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	Host       string `mapstructure:"host"`
	Port       int    `mapstructure:"port"`
	Collection string `mapstructure:"collection"`
	APIKey     string `mapstructure:"api_key"`
	UseTLS     bool   `mapstructure:"use_tls"`
}

// PreviewConfig bounds the PDF raster preview subprocess.
type PreviewConfig struct {
	Binary   string        `mapstructure:"binary"`
	Timeout  time.Duration `mapstructure:"timeout"`
	MaxWidth int           `mapstructure:"max_width"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Format      string `mapstructure:"format"`
	Environment string `mapstructure:"environment"`
	File        string `mapstructure:"file"`
	FileOnly    bool   `mapstructure:"file_only"`
	MaxSizeMB   int    `mapstructure:"max_size_mb"`
	MaxBackups  int    `mapstructure:"max_backups"`
	MaxAgeDays  int    `mapstructure:"max_age_days"`
	Compress    bool   `mapstructure:"compress"`
}

// Load reads configuration from configPath (or ./configs/config.yaml,
// ./config.yaml), a .env file and the environment, in increasing priority.
// Parameters:
//   - configPath: explicit config file; empty searches the default locations.
//
// Returns:
//   - *Config: merged configuration.
//   - error: non-nil if the file exists but cannot be parsed.
func Load(configPath string) (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath("./configs")
		v.AddConfigPath(".")
	}

	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("documents.root", "GOLDMINE_DOCUMENT_ROOT")
	v.BindEnv("documents.asset_root", "GOLDMINE_ASSET_ROOT")
	v.BindEnv("render.binary", "GOLDMINE_RENDER_BINARY")
	v.BindEnv("supervisor.command", "GOLDMINE_RENDER_COMMAND")
	v.BindEnv("storage.access_key", "S3_ACCESS_KEY")
	v.BindEnv("storage.secret_key", "S3_SECRET_KEY")
	v.BindEnv("qdrant.host", "QDRANT_HOST")
	v.BindEnv("qdrant.api_key", "QDRANT_API_KEY")
	v.BindEnv("embedding.api_key", "EMBEDDING_API_KEY")
	v.BindEnv("preview.timeout", "PDF_TO_PNG_TIMEOUT")
	v.BindEnv("log.level", "LOG_LEVEL")
	v.BindEnv("log.environment", "APP_ENV")

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	cfg.Embedding.ResolveEnvVars()

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.mode", "release")
	v.SetDefault("server.shutdown_timeout", 5*time.Second)
	v.SetDefault("server.cors.allow_all_origins", true)
	v.SetDefault("server.cors.allowed_origins", []string{})

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/goldmine.db")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_idle_conns", 4)
	v.SetDefault("database.max_open_conns", 8)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.auto_migrate", true)
	v.SetDefault("database.log_level", "warn")

	v.SetDefault("documents.root", "./data/lectures")
	v.SetDefault("documents.asset_root", "./data/render-assets")
	v.SetDefault("documents.preview_cache", "./data/pdf-previews")

	v.SetDefault("render.binary", "latexmlc")
	v.SetDefault("render.args", []string{
		"--format=html5",
		"--whatsout=fragment",
		"--log={{.Log}}",
		"--dest={{.Dest}}",
		"{{.Input}}",
	})
	v.SetDefault("render.path_flag", "--path=")
	v.SetDefault("render.timeout", 120*time.Second)
	v.SetDefault("render.mirror_assets", false)
	v.SetDefault("render.index_vectors", false)

	v.SetDefault("supervisor.command", "goldmine-render")
	v.SetDefault("supervisor.flush_interval", 600*time.Millisecond)
	v.SetDefault("supervisor.log_limit", 200000)

	v.SetDefault("storage.enabled", false)
	v.SetDefault("storage.use_ssl", true)
	v.SetDefault("storage.bucket", "goldmine-assets")
	v.SetDefault("storage.prefix", "render-assets")

	v.SetDefault("qdrant.enabled", false)
	v.SetDefault("qdrant.host", "localhost")
	v.SetDefault("qdrant.port", 6334)
	v.SetDefault("qdrant.collection", "exercises")

	v.SetDefault("embedding.name", "default")
	v.SetDefault("embedding.provider", "jina")
	v.SetDefault("embedding.model", "jina-embeddings-v3")
	v.SetDefault("embedding.dimensions", 1024)
	v.SetDefault("embedding.api_key_env", "JINA_API_KEY")

	v.SetDefault("preview.binary", "pdftocairo")
	v.SetDefault("preview.timeout", 20*time.Second)
	v.SetDefault("preview.max_width", 1600)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.environment", "local")
	v.SetDefault("log.file", "/var/log/goldmine/app.log")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 7)
	v.SetDefault("log.max_age_days", 30)
	v.SetDefault("log.compress", true)
}

// LoggerConfig converts the log section for logger.New.
func (c LogConfig) LoggerConfig(service string) *logger.Config {
	return &logger.Config{
		Level:       c.Level,
		Format:      c.Format,
		ServiceName: service,
		Environment: c.Environment,
		File:        c.File,
		FileOnly:    c.FileOnly,
		MaxSizeMB:   c.MaxSizeMB,
		MaxBackups:  c.MaxBackups,
		MaxAgeDays:  c.MaxAgeDays,
		Compress:    c.Compress,
	}
}
