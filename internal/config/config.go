package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	WhatsApp   WhatsAppConfig
	Media      MediaConfig
	Background BackgroundConfig
	Sweeper    SweeperConfig
	Log        LogConfig
}

type ServerConfig struct {
	Address         string
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	PostgresURL string
}

type RedisConfig struct {
	Enabled  bool
	Address  string
	Password string
	DB       int
	TTL      time.Duration
}

type WhatsAppConfig struct {
	APIURL     string
	APIVersion string
	Timeout    time.Duration
}

type MediaConfig struct {
	Root      string
	PublicURL string
}

type BackgroundConfig struct {
	MaxTasks int
}

type SweeperConfig struct {
	Enabled    bool
	Interval   time.Duration
	StaleAfter time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

// AudioConfig configures client-side transcoding.
type AudioConfig struct {
	Profile    string
	FFmpegPath string
	Timeout    time.Duration
}

func LoadAll() (*Config, error) {
	var errs []error

	postgresURL, err := requireEnv("POSTGRES_URL")
	errs = appendErr(errs, err)

	shutdown, err := getEnvInt("SHUTDOWN_TIMEOUT_SECONDS", 20)
	errs = appendErr(errs, err)
	providerTimeout, err := getEnvInt("PROVIDER_TIMEOUT_SECONDS", 30)
	errs = appendErr(errs, err)
	maxTasks, err := getEnvInt("BACKGROUND_MAX_TASKS", 16)
	errs = appendErr(errs, err)
	sweepInterval, err := getEnvInt("SWEEP_INTERVAL_SECONDS", 60)
	errs = appendErr(errs, err)
	staleAfter, err := getEnvInt("STALE_PROCESSING_SECONDS", 600)
	errs = appendErr(errs, err)
	sweeperEnabled, err := getEnvBool("SWEEPER_ENABLED", true)
	errs = appendErr(errs, err)

	redisCfg, err := loadRedisConfig()
	errs = appendErr(errs, err)

	cfg := &Config{
		Server: ServerConfig{
			Address:         getEnv("SERVER_ADDRESS", ":8080"),
			ShutdownTimeout: time.Duration(shutdown) * time.Second,
		},
		Database: DatabaseConfig{
			PostgresURL: postgresURL,
		},
		Redis: redisCfg,
		WhatsApp: WhatsAppConfig{
			APIURL:     getEnv("WHATSAPP_API_URL", "https://graph.facebook.com"),
			APIVersion: getEnv("WHATSAPP_API_VERSION", "v21.0"),
			Timeout:    time.Duration(providerTimeout) * time.Second,
		},
		Media: MediaConfig{
			Root:      getEnv("MEDIA_ROOT", "./media"),
			PublicURL: getEnv("MEDIA_PUBLIC_URL", "http://localhost:8080/media"),
		},
		Background: BackgroundConfig{
			MaxTasks: maxTasks,
		},
		Sweeper: SweeperConfig{
			Enabled:    sweeperEnabled,
			Interval:   time.Duration(sweepInterval) * time.Second,
			StaleAfter: time.Duration(staleAfter) * time.Second,
		},
		Log: LogConfig{
			Level:  strings.ToLower(getEnv("LOG_LEVEL", "info")),
			Format: strings.ToLower(getEnv("LOG_FORMAT", "text")),
		},
	}

	if len(errs) > 0 {
		return nil, joinErrors(errs)
	}
	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAudio reads the transcoding settings used by the voicenote client.
func LoadAudio() (AudioConfig, error) {
	timeout, err := getEnvInt("TRANSCODE_TIMEOUT_SECONDS", 120)
	if err != nil {
		return AudioConfig{}, err
	}

	cfg := AudioConfig{
		Profile:    strings.ToLower(getEnv("AUDIO_PROFILE", "voice")),
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),
		Timeout:    time.Duration(timeout) * time.Second,
	}

	var errs []error
	if cfg.Profile != "voice" && cfg.Profile != "baseline" {
		errs = append(errs, fmt.Errorf("AUDIO_PROFILE must be voice or baseline, got %q", cfg.Profile))
	}
	if cfg.Timeout <= 0 {
		errs = append(errs, errors.New("TRANSCODE_TIMEOUT_SECONDS must be > 0"))
	}
	return cfg, joinErrors(errs)
}

func loadRedisConfig() (RedisConfig, error) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		return RedisConfig{Enabled: false}, nil
	}

	db, err1 := getEnvInt("REDIS_DB", 0)
	ttl, err2 := getEnvInt("REDIS_TTL_SECONDS", 86400)

	return RedisConfig{
		Enabled:  true,
		Address:  addr,
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       db,
		TTL:      time.Duration(ttl) * time.Second,
	}, errors.Join(err1, err2)
}

func validate(cfg *Config) error {
	var errs []error

	if cfg.Server.ShutdownTimeout <= 0 {
		errs = append(errs, errors.New("SHUTDOWN_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.WhatsApp.Timeout <= 0 {
		errs = append(errs, errors.New("PROVIDER_TIMEOUT_SECONDS must be > 0"))
	}
	if cfg.Background.MaxTasks <= 0 {
		errs = append(errs, errors.New("BACKGROUND_MAX_TASKS must be > 0"))
	}
	if cfg.Sweeper.Interval <= 0 {
		errs = append(errs, errors.New("SWEEP_INTERVAL_SECONDS must be > 0"))
	}
	if cfg.Sweeper.StaleAfter <= 0 {
		errs = append(errs, errors.New("STALE_PROCESSING_SECONDS must be > 0"))
	}
	if cfg.Redis.Enabled && cfg.Redis.TTL <= 0 {
		errs = append(errs, errors.New("REDIS_TTL_SECONDS must be > 0"))
	}
	switch cfg.Log.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.Log.Format))
	}

	return joinErrors(errs)
}

func requireEnv(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("missing required env var: %s", key)
	}
	return val, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getEnvInt(key string, def int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return def, fmt.Errorf("invalid int for env %s: %q", key, v)
	}
	return i, nil
}

func getEnvBool(key string, def bool) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def, fmt.Errorf("invalid bool for env %s: %q", key, v)
	}
	return b, nil
}

func appendErr(errs []error, err error) []error {
	if err != nil {
		errs = append(errs, err)
	}
	return errs
}

func joinErrors(errs []error) error {
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}
