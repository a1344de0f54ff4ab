package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config represents runtime configuration for the service.
type Config struct {
	BasicConfig BasicConfig               `json:"basic_config"`
	Providers   map[string]ProviderConfig `json:"providers"`
	Databases   map[string]DatabaseConfig `json:"databases"`
	Redis       RedisConfig               `json:"redis"`
	Spectrogram SpectrogramConfig         `json:"spectrogram"`
	AI          AIConfig                  `json:"ai"`
	Tutorial    TutorialConfig            `json:"tutorial"`
	Auth        AuthConfig                `json:"auth"`
	Log         LogConfig                 `json:"log"`
}

// Provider names used as keys of Config.Providers.
const (
	ProviderGemini  = "gemini"
	ProviderYouTube = "youtube"
)

type ProviderConfig struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
	APIKey  string `json:"api_key"`
}

type BasicConfig struct {
	ServerAddress string `json:"server_address"`
	// Database selects an entry of Databases: sqlite3, mysql or mongo.
	Database          string `json:"database"`
	TempDir           string `json:"temp_dir"`
	MaxUploadMB       int    `json:"max_upload_mb"`
	TempFileTTL       int    `json:"temp_file_ttl"`       // minutes
	TempCleanInterval int    `json:"temp_clean_interval"` // minutes
	TranscodeWorkers  int    `json:"transcode_workers"`
	QueueSize         int    `json:"queue_size"`
}

type DatabaseConfig struct {
	DSN      string `json:"dsn"`
	Username string `json:"username"`
	Password string `json:"password"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	DBName   string `json:"db_name"`
	Params   string `json:"params"`
	URI      string `json:"uri"`
}

// RedisConfig is optional; an empty Host disables redis.
type RedisConfig struct {
	Host           string `json:"host"`
	Port           int    `json:"port"`
	Username       string `json:"username"`
	Password       string `json:"password"`
	DB             int    `json:"db"`
	IdempotencyTTL int    `json:"idempotency_ttl"` // minutes
}

type SpectrogramConfig struct {
	FFmpegPath     string `json:"ffmpeg_path"`
	Width          int    `json:"width"`
	Height         int    `json:"height"`
	Scale          string `json:"scale"`
	FreqScale      string `json:"fscale"`
	Orientation    string `json:"orientation"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

type AIConfig struct {
	TimeoutSeconds   int `json:"timeout_seconds"`
	MaxRetries       int `json:"max_retries"` // -1 disables retries
	InitialBackoffMS int `json:"initial_backoff_ms"`
	MaxBackoffMS     int `json:"max_backoff_ms"`
}

type TutorialConfig struct {
	TimeoutSeconds  int `json:"timeout_seconds"`
	CacheSize       int `json:"cache_size"`
	CacheTTLMinutes int `json:"cache_ttl_minutes"`
}

type AuthConfig struct {
	JWTSecret     string `json:"jwt_secret"`
	TokenTTLHours int    `json:"token_ttl_hours"`
	BcryptCost    int    `json:"bcrypt_cost"`
}

type LogConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"` // json or console
}

const defaultConfigPath = "config.json"

// Load reads configuration from the provided path (defaults to config.json),
// then applies .env and environment overrides. A missing default file is not
// an error so the service can run from the environment alone.
func Load(path string) (*Config, error) {
	explicit := path != ""
	if !explicit {
		path = defaultConfigPath
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve config path: %w", err)
	}

	var cfg Config
	file, err := os.Open(absPath)
	switch {
	case err == nil:
		defer file.Close()
		if err := json.NewDecoder(file).Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	case errors.Is(err, fs.ErrNotExist) && !explicit:
	default:
		return nil, fmt.Errorf("open config %s: %w", absPath, err)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()

	if dsn := cfg.Databases["sqlite3"].DSN; dsn != "" && dsn != ":memory:" && !strings.HasPrefix(dsn, "file:") && !filepath.IsAbs(dsn) {
		db := cfg.Databases["sqlite3"]
		db.DSN = filepath.Join(filepath.Dir(absPath), dsn)
		cfg.Databases["sqlite3"] = db
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns a configuration with every default applied and no file or
// environment input. Useful for tests.
func Default() *Config {
	var cfg Config
	cfg.applyDefaults()
	return &cfg
}

func (c *Config) applyEnv() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	if v := os.Getenv("CARCARE_ADDR"); v != "" {
		c.BasicConfig.ServerAddress = v
	}
	if v := os.Getenv("CARCARE_DB"); v != "" {
		c.BasicConfig.Database = v
	}
	if v := os.Getenv("CARCARE_TEMP_DIR"); v != "" {
		c.BasicConfig.TempDir = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		p := c.Providers[ProviderGemini]
		p.APIKey = v
		c.Providers[ProviderGemini] = p
	}
	if v := os.Getenv("GEMINI_MODEL"); v != "" {
		p := c.Providers[ProviderGemini]
		p.Model = v
		c.Providers[ProviderGemini] = p
	}
	if v := os.Getenv("YOUTUBE_API_KEY"); v != "" {
		p := c.Providers[ProviderYouTube]
		p.APIKey = v
		c.Providers[ProviderYouTube] = p
	}
	if v := os.Getenv("CARCARE_SQLITE_DSN"); v != "" {
		db := c.Databases["sqlite3"]
		db.DSN = v
		c.Databases["sqlite3"] = db
	}
	if v := os.Getenv("MONGO_URI"); v != "" {
		db := c.Databases["mongo"]
		db.URI = v
		c.Databases["mongo"] = db
	}
	if v := os.Getenv("REDIS_HOST"); v != "" {
		c.Redis.Host = v
	}
	if v := os.Getenv("REDIS_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Redis.Port = port
		}
	}
	if v := os.Getenv("REDIS_PASSWORD"); v != "" {
		c.Redis.Password = v
	}
	if v := os.Getenv("FFMPEG_PATH"); v != "" {
		c.Spectrogram.FFmpegPath = v
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		c.Auth.JWTSecret = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
}

func (c *Config) applyDefaults() {
	if c.Providers == nil {
		c.Providers = make(map[string]ProviderConfig)
	}
	if c.Databases == nil {
		c.Databases = make(map[string]DatabaseConfig)
	}
	b := &c.BasicConfig
	if b.ServerAddress == "" {
		b.ServerAddress = ":8090"
	}
	if b.Database == "" {
		b.Database = "sqlite3"
	}
	if b.TempDir == "" {
		b.TempDir = filepath.Join(os.TempDir(), "carcare")
	}
	if b.MaxUploadMB <= 0 {
		b.MaxUploadMB = 10
	}
	if b.TempFileTTL <= 0 {
		b.TempFileTTL = 15
	}
	if b.TempCleanInterval <= 0 {
		b.TempCleanInterval = 5
	}
	if b.TranscodeWorkers <= 0 {
		b.TranscodeWorkers = 4
	}
	if b.QueueSize <= 0 {
		b.QueueSize = 16
	}

	gemini := c.Providers[ProviderGemini]
	if gemini.Model == "" {
		gemini.Model = "gemini-2.5-flash"
	}
	c.Providers[ProviderGemini] = gemini

	sqlite := c.Databases["sqlite3"]
	if sqlite.DSN == "" {
		sqlite.DSN = "carcare.db"
	}
	c.Databases["sqlite3"] = sqlite
	mongo := c.Databases["mongo"]
	if mongo.URI == "" {
		mongo.URI = "mongodb://localhost:27017"
	}
	if mongo.DBName == "" {
		mongo.DBName = "carcare"
	}
	c.Databases["mongo"] = mongo

	if c.Redis.Port == 0 {
		c.Redis.Port = 6379
	}
	if c.Redis.IdempotencyTTL <= 0 {
		c.Redis.IdempotencyTTL = 24 * 60
	}

	s := &c.Spectrogram
	if s.FFmpegPath == "" {
		s.FFmpegPath = "ffmpeg"
	}
	if s.Width <= 0 {
		s.Width = 800
	}
	if s.Height <= 0 {
		s.Height = 400
	}
	if s.Scale == "" {
		s.Scale = "log"
	}
	if s.FreqScale == "" {
		s.FreqScale = "lin"
	}
	if s.Orientation == "" {
		s.Orientation = "vertical"
	}
	if s.TimeoutSeconds <= 0 {
		s.TimeoutSeconds = 30
	}

	if c.AI.TimeoutSeconds <= 0 {
		c.AI.TimeoutSeconds = 45
	}
	if c.AI.MaxRetries < 0 {
		c.AI.MaxRetries = 0
	} else if c.AI.MaxRetries == 0 {
		c.AI.MaxRetries = 3
	}
	if c.AI.InitialBackoffMS <= 0 {
		c.AI.InitialBackoffMS = 500
	}
	if c.AI.MaxBackoffMS <= 0 {
		c.AI.MaxBackoffMS = 4000
	}

	if c.Tutorial.TimeoutSeconds <= 0 {
		c.Tutorial.TimeoutSeconds = 5
	}
	if c.Tutorial.CacheSize <= 0 {
		c.Tutorial.CacheSize = 256
	}
	if c.Tutorial.CacheTTLMinutes <= 0 {
		c.Tutorial.CacheTTLMinutes = 6 * 60
	}

	if c.Auth.TokenTTLHours <= 0 {
		c.Auth.TokenTTLHours = 24
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

// Validate reports settings the service cannot start with.
func (c *Config) Validate() error {
	switch strings.ToLower(c.BasicConfig.Database) {
	case "sqlite", "sqlite3", "mysql", "mongo", "mongodb":
	default:
		return fmt.Errorf("unsupported database %q", c.BasicConfig.Database)
	}
	if c.Spectrogram.Width > 4096 || c.Spectrogram.Height > 4096 {
		return fmt.Errorf("spectrogram size %dx%d too large", c.Spectrogram.Width, c.Spectrogram.Height)
	}
	switch c.Spectrogram.Orientation {
	case "vertical", "horizontal":
	default:
		return fmt.Errorf("spectrogram orientation must be vertical or horizontal, got %q", c.Spectrogram.Orientation)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("log format must be json or console, got %q", c.Log.Format)
	}
	return nil
}

func (b BasicConfig) MaxUploadBytes() int64 {
	return int64(b.MaxUploadMB) << 20
}

func (s SpectrogramConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutSeconds) * time.Second
}

func (a AIConfig) Timeout() time.Duration {
	return time.Duration(a.TimeoutSeconds) * time.Second
}

func (t TutorialConfig) Timeout() time.Duration {
	return time.Duration(t.TimeoutSeconds) * time.Second
}
