package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName   string
	AppEnv    string
	AppPort   string
	JWTSecret string

	DatabaseURL string
	RedisURL    string
	NATSURL     string
	ChannelBase string

	BlobBackend            string
	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	MinioEndpoint          string
	MinioAccessKey         string
	MinioSecretKey         string
	MinioBucket            string
	MinioUseSSL            bool
	UploadMaxSizeMB        int

	SMTPHost     string
	SMTPPort     string
	SMTPUser     string
	SMTPPassword string
	SMTPFrom     string
	SMTPTLS      bool
	SMTPTimeout  time.Duration

	CORSAllowOrigins []string

	Points PointsPolicy

	LeaderboardCacheTTL      time.Duration
	StandingsRefreshInterval time.Duration
	OutboxRelayInterval      time.Duration
	SSEKeepAlive             time.Duration
	ReviewRetryAttempts      int
	WriteRateLimit           int
}

// PointsPolicy maps an activity type to the points an approval mints.
type PointsPolicy map[string]int64

// DefaultPointsPolicy returns the stock points per activity type.
func DefaultPointsPolicy() PointsPolicy {
	return PointsPolicy{
		"certification": 500,
		"workshop":      200,
		"training":      150,
		"conference":    300,
	}
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("UPSKILL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "Upskill API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("channel.base", "upskill")
	v.SetDefault("blob.backend", "cloudinary")
	v.SetDefault("cloudinary.folder", "upskill/attachments")
	v.SetDefault("minio.bucket", "upskill-attachments")
	v.SetDefault("minio.use_ssl", true)
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("smtp.port", "587")
	v.SetDefault("smtp.tls", false)
	v.SetDefault("smtp.timeout", "30s")
	v.SetDefault("leaderboard.cache_ttl", "5m")
	v.SetDefault("standings.refresh_interval", "10m")
	v.SetDefault("outbox.relay_interval", "30s")
	v.SetDefault("sse.keepalive", "30s")
	v.SetDefault("review.retry_attempts", 3)
	v.SetDefault("rate_limit.writes", 30)

	defaults := DefaultPointsPolicy()
	for activity, points := range defaults {
		v.SetDefault("points."+activity, points)
	}

	cacheTTL, err := parseDuration(v, "leaderboard.cache_ttl")
	if err != nil {
		return Config{}, err
	}
	refresh, err := parseDuration(v, "standings.refresh_interval")
	if err != nil {
		return Config{}, err
	}
	relay, err := parseDuration(v, "outbox.relay_interval")
	if err != nil {
		return Config{}, err
	}
	keepAlive, err := parseDuration(v, "sse.keepalive")
	if err != nil {
		return Config{}, err
	}
	smtpTimeout, err := parseDuration(v, "smtp.timeout")
	if err != nil {
		return Config{}, err
	}

	var origins []string
	for _, origin := range strings.Split(v.GetString("cors.allow_origins"), ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}

	policy := PointsPolicy{}
	for activity := range defaults {
		points := v.GetInt64("points." + activity)
		if points <= 0 {
			return Config{}, fmt.Errorf("points for %s must be positive", activity)
		}
		policy[activity] = points
	}

	cfg := Config{
		AppName:                  v.GetString("app.name"),
		AppEnv:                   v.GetString("app.env"),
		AppPort:                  v.GetString("app.port"),
		JWTSecret:                v.GetString("jwt.secret"),
		DatabaseURL:              v.GetString("database.url"),
		RedisURL:                 v.GetString("redis.url"),
		NATSURL:                  v.GetString("nats.url"),
		ChannelBase:              v.GetString("channel.base"),
		BlobBackend:              strings.ToLower(v.GetString("blob.backend")),
		CloudinaryCloudName:      v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:         v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:      v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder:   v.GetString("cloudinary.folder"),
		MinioEndpoint:            v.GetString("minio.endpoint"),
		MinioAccessKey:           v.GetString("minio.access_key"),
		MinioSecretKey:           v.GetString("minio.secret_key"),
		MinioBucket:              v.GetString("minio.bucket"),
		MinioUseSSL:              v.GetBool("minio.use_ssl"),
		UploadMaxSizeMB:          v.GetInt("upload.max_size_mb"),
		SMTPHost:                 v.GetString("smtp.host"),
		SMTPPort:                 v.GetString("smtp.port"),
		SMTPUser:                 v.GetString("smtp.user"),
		SMTPPassword:             v.GetString("smtp.password"),
		SMTPFrom:                 v.GetString("smtp.from"),
		SMTPTLS:                  v.GetBool("smtp.tls"),
		SMTPTimeout:              smtpTimeout,
		CORSAllowOrigins:         origins,
		Points:                   policy,
		LeaderboardCacheTTL:      cacheTTL,
		StandingsRefreshInterval: refresh,
		OutboxRelayInterval:      relay,
		SSEKeepAlive:             keepAlive,
		ReviewRetryAttempts:      v.GetInt("review.retry_attempts"),
		WriteRateLimit:           v.GetInt("rate_limit.writes"),
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.BlobBackend {
	case "cloudinary", "minio":
	default:
		return Config{}, fmt.Errorf("unsupported blob backend %q", cfg.BlobBackend)
	}

	if cfg.ReviewRetryAttempts <= 0 {
		cfg.ReviewRetryAttempts = 3
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 10
	}

	return cfg, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	raw := v.GetString(key)
	if raw == "" {
		return 0, nil
	}

	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}

	return parsed, nil
}
