package internal

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// EnvPrefix is prepended to every environment variable the tool reads
const EnvPrefix = "VIDMIGRATE"

// Config holds application configuration
type Config struct {
	Worklist    string `mapstructure:"worklist"`
	DownloadDir string `mapstructure:"download_dir"`
	Workers     int    `mapstructure:"workers"`
	MetricsAddr string `mapstructure:"metrics_addr"`

	Transfer TransferConfig `mapstructure:"transfer"`
	Storage  StorageConfig  `mapstructure:"storage"`
	YouTube  YouTubeConfig  `mapstructure:"youtube"`
	Publish  PublishConfig  `mapstructure:"publish"`
	Log      LogConfig      `mapstructure:"log"`
}

// TransferConfig configures the chunked transfer engine
type TransferConfig struct {
	DownloadChunkSize   int64         `mapstructure:"download_chunk_size"`
	UploadChunkSize     int64         `mapstructure:"upload_chunk_size"`
	MaxDownloadAttempts int           `mapstructure:"max_download_attempts"`
	MaxUploadAttempts   int           `mapstructure:"max_upload_attempts"`
	DownloadBaseDelay   time.Duration `mapstructure:"download_base_delay"`
	MaxUploadBackoff    time.Duration `mapstructure:"max_upload_backoff"`
	ChunkTimeout        time.Duration `mapstructure:"chunk_timeout"`
	UploadChunkTimeout  time.Duration `mapstructure:"upload_chunk_timeout"`
	RateLimit           string        `mapstructure:"rate_limit"`
	ProxyURL            string        `mapstructure:"proxy"`
}

// StorageConfig configures access to the Cloud Files container
type StorageConfig struct {
	AuthURL       string        `mapstructure:"auth_url"`
	Username      string        `mapstructure:"username"`
	APIKey        string        `mapstructure:"api_key"`
	Region        string        `mapstructure:"region"`
	Container     string        `mapstructure:"container"`
	BaseURL       string        `mapstructure:"base_url"`
	TempURLKey    string        `mapstructure:"temp_url_key"`
	TempURLExpiry time.Duration `mapstructure:"temp_url_expiry"`
	PurgeDelay    time.Duration `mapstructure:"purge_delay"`
}

// YouTubeConfig configures the upload destination
type YouTubeConfig struct {
	ClientSecrets string `mapstructure:"client_secrets"`
	TokenFile     string `mapstructure:"token_file"`
	PrivacyStatus string `mapstructure:"privacy_status"`
	WebsiteURL    string `mapstructure:"website_url"`
	UploadURL     string `mapstructure:"upload_url"`
}

// PublishConfig configures the website database update
type PublishConfig struct {
	DSN   string `mapstructure:"dsn"`
	Table string `mapstructure:"table"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
	Debug bool   `mapstructure:"debug"`
	Quiet bool   `mapstructure:"quiet"`
	File  string `mapstructure:"file"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Worklist:    "videos.csv",
		DownloadDir: "downloads",
		Workers:     1,
		Transfer: TransferConfig{
			DownloadChunkSize:   1024 * 1024,
			UploadChunkSize:     8 * 1024 * 1024,
			MaxDownloadAttempts: 3,
			MaxUploadAttempts:   5,
			DownloadBaseDelay:   5 * time.Second,
			MaxUploadBackoff:    60 * time.Second,
			ChunkTimeout:        30 * time.Second,
			UploadChunkTimeout:  5 * time.Minute,
		},
		Storage: StorageConfig{
			AuthURL:       "https://lon.identity.api.rackspacecloud.com/v2.0/tokens",
			Region:        "LON",
			TempURLExpiry: time.Hour,
			PurgeDelay:    500 * time.Millisecond,
		},
		YouTube: YouTubeConfig{
			ClientSecrets: "credentials.json",
			TokenFile:     "token.json",
			PrivacyStatus: "public",
		},
		Publish: PublishConfig{
			Table: "mm_jmultimedia",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// SetDefaults registers every configuration key with its default so that
// environment variables are picked up for all of them
func SetDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("worklist", d.Worklist)
	v.SetDefault("download_dir", d.DownloadDir)
	v.SetDefault("workers", d.Workers)
	v.SetDefault("metrics_addr", d.MetricsAddr)

	v.SetDefault("transfer.download_chunk_size", d.Transfer.DownloadChunkSize)
	v.SetDefault("transfer.upload_chunk_size", d.Transfer.UploadChunkSize)
	v.SetDefault("transfer.max_download_attempts", d.Transfer.MaxDownloadAttempts)
	v.SetDefault("transfer.max_upload_attempts", d.Transfer.MaxUploadAttempts)
	v.SetDefault("transfer.download_base_delay", d.Transfer.DownloadBaseDelay)
	v.SetDefault("transfer.max_upload_backoff", d.Transfer.MaxUploadBackoff)
	v.SetDefault("transfer.chunk_timeout", d.Transfer.ChunkTimeout)
	v.SetDefault("transfer.upload_chunk_timeout", d.Transfer.UploadChunkTimeout)
	v.SetDefault("transfer.rate_limit", d.Transfer.RateLimit)
	v.SetDefault("transfer.proxy", d.Transfer.ProxyURL)

	v.SetDefault("storage.auth_url", d.Storage.AuthURL)
	v.SetDefault("storage.username", "")
	v.SetDefault("storage.api_key", "")
	v.SetDefault("storage.region", d.Storage.Region)
	v.SetDefault("storage.container", "")
	v.SetDefault("storage.base_url", "")
	v.SetDefault("storage.temp_url_key", "")
	v.SetDefault("storage.temp_url_expiry", d.Storage.TempURLExpiry)
	v.SetDefault("storage.purge_delay", d.Storage.PurgeDelay)

	v.SetDefault("youtube.client_secrets", d.YouTube.ClientSecrets)
	v.SetDefault("youtube.token_file", d.YouTube.TokenFile)
	v.SetDefault("youtube.privacy_status", d.YouTube.PrivacyStatus)
	v.SetDefault("youtube.website_url", "")
	v.SetDefault("youtube.upload_url", "")

	v.SetDefault("publish.dsn", "")
	v.SetDefault("publish.table", d.Publish.Table)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.debug", d.Log.Debug)
	v.SetDefault("log.quiet", d.Log.Quiet)
	v.SetDefault("log.file", d.Log.File)
}

// Load reads .env, the optional config file and VIDMIGRATE_* environment variables
func Load(v *viper.Viper, configFile string) (*Config, error) {
	// Missing .env is fine
	_ = godotenv.Load()

	SetDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, NewValidationErrorWithValue("config", "failed to read config file", configFile).
				WithContext("error", err.Error())
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode configuration: %w", err)
	}

	if cfg.Log.Debug {
		cfg.Log.Level = "debug"
	}
	if cfg.Log.Quiet {
		cfg.Log.Level = "error"
	}

	if err := cfg.ValidateConfig(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ValidateConfig validates the configuration values
func (c *Config) ValidateConfig() error {
	if c.Workers < 1 || c.Workers > 16 {
		return fmt.Errorf("invalid workers: %d (must be 1-16)", c.Workers)
	}

	if c.Transfer.DownloadChunkSize < 1 {
		return fmt.Errorf("invalid download chunk size: %d (must be > 0)", c.Transfer.DownloadChunkSize)
	}

	// The resumable upload protocol requires multiples of 256 KiB for every chunk but the last
	if c.Transfer.UploadChunkSize < 256*1024 || c.Transfer.UploadChunkSize%(256*1024) != 0 {
		return fmt.Errorf("invalid upload chunk size: %d (must be a positive multiple of 262144)", c.Transfer.UploadChunkSize)
	}

	if c.Transfer.MaxDownloadAttempts < 1 {
		return fmt.Errorf("invalid max download attempts: %d (must be >= 1)", c.Transfer.MaxDownloadAttempts)
	}

	if c.Transfer.MaxUploadAttempts < 1 {
		return fmt.Errorf("invalid max upload attempts: %d (must be >= 1)", c.Transfer.MaxUploadAttempts)
	}

	if c.Transfer.ChunkTimeout <= 0 {
		return fmt.Errorf("invalid chunk timeout: %v (must be > 0)", c.Transfer.ChunkTimeout)
	}
	if c.Transfer.UploadChunkTimeout <= 0 {
		return fmt.Errorf("invalid upload chunk timeout: %v (must be > 0)", c.Transfer.UploadChunkTimeout)
	}

	if c.Storage.TempURLExpiry < 0 {
		return fmt.Errorf("invalid temp URL expiry: %v (must be >= 0)", c.Storage.TempURLExpiry)
	}

	switch c.YouTube.PrivacyStatus {
	case "public", "private", "unlisted":
	default:
		return fmt.Errorf("invalid privacy status: %q (must be public, private or unlisted)", c.YouTube.PrivacyStatus)
	}

	return nil
}
