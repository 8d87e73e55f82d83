package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	ListenAddr   string
	TLSAddr      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	TLSCertOrganization string
	TLSCertHosts        []string
	TLSCertValidity     time.Duration

	LogLevel  string
	LogFormat string
	LogFile   string

	PostgresUser     string
	PostgresPassword string
	PostgresHost     string
	PostgresPort     string
	PostgresDatabase string
	PostgresSSLMode  string

	RedisURL string

	BlocklistCacheTTL time.Duration
	TrustedProxies    []string

	GeoProvider    string
	GeoAPIURL      string
	GeoAPITimeout  time.Duration
	GeoMaxMindPath string
	GeoCacheTTL    time.Duration

	LogQueueSize int
	LogWorkers   int

	DetectorInterval           time.Duration
	DetectorWindow             time.Duration
	DetectorVolumeThreshold    int
	DetectorSensitiveThreshold int
	SensitivePaths             []string

	JWTSecret          string
	AnonymousRateLimit int
	AuthRateLimit      int
	RateLimitWindow    time.Duration

	ReportS3Bucket string
	ReportS3Prefix string
	S3Region       string
	S3Endpoint     string
	S3AccessKey    string
	S3SecretKey    string
}

// fileConfig is the optional YAML overlay. Only policy knobs live here;
// secrets and connection settings stay in the environment.
type fileConfig struct {
	Detector struct {
		Interval           string   `yaml:"interval"`
		Window             string   `yaml:"window"`
		VolumeThreshold    int      `yaml:"volume_threshold"`
		SensitiveThreshold int      `yaml:"sensitive_threshold"`
		SensitivePaths     []string `yaml:"sensitive_paths"`
	} `yaml:"detector"`
	Gate struct {
		CacheTTL       string   `yaml:"cache_ttl"`
		TrustedProxies []string `yaml:"trusted_proxies"`
	} `yaml:"gate"`
}

func Load() (*Config, error) {
	cfg := &Config{
		ListenAddr:   getEnv("LISTEN_ADDR", ":8080"),
		TLSAddr:      getEnv("TLS_LISTEN_ADDR", ""),
		ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 30*time.Second),
		WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 30*time.Second),

		TLSCertOrganization: getEnv("TLS_CERT_ORGANIZATION", "Traffic Guard"),
		TLSCertHosts:        getEnvList("TLS_CERT_HOSTS"),
		TLSCertValidity:     getEnvDuration("TLS_CERT_VALIDITY", 365*24*time.Hour),

		LogLevel:  getEnv("LOG_LEVEL", "info"),
		LogFormat: getEnv("LOG_FORMAT", "text"),
		LogFile:   getEnv("LOG_FILE", ""),

		PostgresUser:     getEnv("POSTGRES_USER", "guard"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "password"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDatabase: getEnv("POSTGRES_DATABASE", "traffic_guard"),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		RedisURL: getEnv("REDIS_URL", ""),

		BlocklistCacheTTL: getEnvDuration("BLOCKLIST_CACHE_TTL", 300*time.Second),
		TrustedProxies:    getEnvList("TRUSTED_PROXIES"),

		GeoProvider:    getEnv("GEO_PROVIDER", "http"),
		GeoAPIURL:      getEnv("GEO_API_URL", "http://ip-api.com/json"),
		GeoAPITimeout:  getEnvDuration("GEO_API_TIMEOUT", 5*time.Second),
		GeoMaxMindPath: getEnv("GEO_MAXMIND_PATH", "GeoLite2-City.mmdb"),
		GeoCacheTTL:    getEnvDuration("GEO_CACHE_TTL", 24*time.Hour),

		LogQueueSize: getEnvInt("LOG_QUEUE_SIZE", 1024),
		LogWorkers:   getEnvInt("LOG_WORKERS", 8),

		DetectorInterval:           getEnvDuration("DETECTOR_INTERVAL", 5*time.Minute),
		DetectorWindow:             getEnvDuration("DETECTOR_WINDOW", time.Hour),
		DetectorVolumeThreshold:    getEnvInt("DETECTOR_VOLUME_THRESHOLD", 100),
		DetectorSensitiveThreshold: getEnvInt("DETECTOR_SENSITIVE_THRESHOLD", 10),
		SensitivePaths:             getEnvList("SENSITIVE_PATHS"),

		JWTSecret:          getEnv("JWT_SECRET", ""),
		AnonymousRateLimit: getEnvInt("RATE_LIMIT_ANONYMOUS", 5),
		AuthRateLimit:      getEnvInt("RATE_LIMIT_AUTHENTICATED", 10),
		RateLimitWindow:    getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),

		ReportS3Bucket: getEnv("REPORT_S3_BUCKET", ""),
		ReportS3Prefix: getEnv("REPORT_S3_PREFIX", "anomaly-reports"),
		S3Region:       getEnv("AWS_REGION", "us-east-1"),
		S3Endpoint:     getEnv("S3_ENDPOINT", ""),
		S3AccessKey:    getEnv("AWS_ACCESS_KEY_ID", ""),
		S3SecretKey:    getEnv("AWS_SECRET_ACCESS_KEY", ""),
	}

	if len(cfg.SensitivePaths) == 0 {
		cfg.SensitivePaths = []string{"/admin", "/login"}
	}

	if path := os.Getenv("GUARD_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}

	if cfg.ReportS3Bucket != "" && (cfg.S3AccessKey == "" || cfg.S3SecretKey == "") {
		return nil, fmt.Errorf("REPORT_S3_BUCKET is set but AWS credentials are missing")
	}

	return cfg, nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}

	if err := setDuration(&c.DetectorInterval, fc.Detector.Interval); err != nil {
		return fmt.Errorf("detector.interval: %w", err)
	}
	if err := setDuration(&c.DetectorWindow, fc.Detector.Window); err != nil {
		return fmt.Errorf("detector.window: %w", err)
	}
	if err := setDuration(&c.BlocklistCacheTTL, fc.Gate.CacheTTL); err != nil {
		return fmt.Errorf("gate.cache_ttl: %w", err)
	}
	if fc.Detector.VolumeThreshold > 0 {
		c.DetectorVolumeThreshold = fc.Detector.VolumeThreshold
	}
	if fc.Detector.SensitiveThreshold > 0 {
		c.DetectorSensitiveThreshold = fc.Detector.SensitiveThreshold
	}
	if len(fc.Detector.SensitivePaths) > 0 {
		c.SensitivePaths = fc.Detector.SensitivePaths
	}
	if len(fc.Gate.TrustedProxies) > 0 {
		c.TrustedProxies = fc.Gate.TrustedProxies
	}
	return nil
}

func setDuration(dst *time.Duration, raw string) error {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return err
	}
	*dst = d
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
