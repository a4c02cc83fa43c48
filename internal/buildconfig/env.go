// Package buildconfig loads the engine's ambient process configuration
// (database DSN, build root, pool sizing) and the per-document YAML
// configuration that drives Graph Construction (spec.md §4.2, §6.1).
package buildconfig

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
)

// Config is the process-level configuration, loaded once at startup exactly
// as the teacher's config.go loads DatabaseConfig/S3Config/PathsConfig.
type Config struct {
	Database DatabaseConfig
	S3       S3Config
	Paths    PathsConfig
	Pools    PoolConfig
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// S3Config configures the Install operator's tileserver-staging -> live
// publish step, the same fields the teacher's s3.go uses for R2.
type S3Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Bucket          string
}

// PathsConfig lays out the build root per spec.md §6.4.
type PathsConfig struct {
	BuildRoot string
}

// PoolConfig sizes the two scheduler pools (spec.md §4.6). CPUPool defaults
// to max(1, NumCPU-1); IOPool defaults to 4x that.
type PoolConfig struct {
	CPUPool int
	IOPool  int
}

// Load reads the .env.local file beside envPath when it exists, otherwise
// envPath itself (the local file replaces the base one, matching the
// teacher's Next.js-style precedence), then builds Config from the
// environment.
func Load(envPath string) (*Config, error) {
	localEnvPath := strings.TrimSuffix(envPath, ".env") + ".env.local"
	if _, err := os.Stat(localEnvPath); err == nil {
		if err := loadEnvFile(localEnvPath); err != nil {
			return nil, fmt.Errorf("load local env file: %w", err)
		}
	} else if _, err := os.Stat(envPath); err == nil {
		if err := loadEnvFile(envPath); err != nil {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}

	defaultBuildRoot := "./build"
	if home, err := os.UserHomeDir(); err == nil {
		defaultBuildRoot = filepath.Join(home, "data", "geobuild")
	}

	cpuPool := getEnvInt("CPU_POOL", 0)
	if cpuPool <= 0 {
		cpuPool = runtime.NumCPU() - 1
		if cpuPool < 1 {
			cpuPool = 1
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnvInt("DB_PORT", 5432),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "geobuild"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		S3: S3Config{
			Endpoint:        getEnv("S3_ENDPOINT", ""),
			AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", ""),
			Region:          getEnv("S3_REGION", "us-west-1"),
			Bucket:          getEnv("S3_BUCKET", ""),
		},
		Paths: PathsConfig{
			BuildRoot: getEnv("BUILD_ROOT", defaultBuildRoot),
		},
		Pools: PoolConfig{
			CPUPool: cpuPool,
			IOPool:  getEnvIntOr(cpuPool*4, "IO_POOL"),
		},
	}

	if cfg.Database.Password == "" {
		return nil, fmt.Errorf("DB_PASSWORD environment variable is required")
	}

	return cfg, nil
}

func loadEnvFile(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) == 2 {
			os.Setenv(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
		}
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if iv, err := strconv.Atoi(v); err == nil {
			return iv
		}
	}
	return defaultVal
}

func getEnvIntOr(defaultVal int, key string) int {
	return getEnvInt(key, defaultVal)
}
