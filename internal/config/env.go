package config

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/kelseyhightower/envconfig"
)

type BaseEnv struct {
	Env      string `envconfig:"ENV" default:"local"`
	HTTPHost string `envconfig:"HTTP_HOST" default:""`
	HTTPPort string `envconfig:"HTTP_PORT" default:"3200"`
	LogLevel string `envconfig:"LOG_LEVEL" default:"debug"`
}

type StorageEnv struct {
	Type    string `envconfig:"STORAGE_TYPE" default:"local"`
	BaseDir string `envconfig:"STORAGE_BASE_DIR" default:".sajilo/data"`
	// S3 settings (used when Type == "s3")
	S3Bucket string `envconfig:"S3_BUCKET"`
	S3Prefix string `envconfig:"S3_PREFIX" default:"sajilo/"`
	S3Region string `envconfig:"S3_REGION" default:"ap-south-1"`
}

// MarketEnv holds marketplace tunables. PlatformFeePct and DefaultRadiusKm
// are fallbacks only; the settings store overrides them at runtime.
type MarketEnv struct {
	PlatformFeePct    float64       `envconfig:"PLATFORM_FEE_PCT" default:"10"`
	DefaultRadiusKm   float64       `envconfig:"DEFAULT_RADIUS_KM" default:"3"`
	StaleAfter        time.Duration `envconfig:"STALE_AFTER" default:"1h"`
	SchedulerInterval time.Duration `envconfig:"SCHEDULER_INTERVAL" default:"60s"`
	EscrowIntentTTL   time.Duration `envconfig:"ESCROW_INTENT_TTL" default:"72h"`
}

type VAPIDEnv struct {
	VAPIDPublicKey  string `envconfig:"VAPID_PUBLIC_KEY"`
	VAPIDPrivateKey string `envconfig:"VAPID_PRIVATE_KEY"`
	VAPIDContact    string `envconfig:"VAPID_CONTACT" default:"mailto:ops@sajilotask.example"`
}

type Env struct {
	BaseEnv
	StorageEnv
	MarketEnv
	VAPIDEnv
}

const namespace = "SAJILO"

func LoadEnv() (*Env, error) {
	var env Env
	if err := envconfig.Process(namespace, &env); err != nil {
		return nil, fmt.Errorf("failed to load env: %w", err)
	}
	return &env, nil
}

func (e *BaseEnv) SlogLevel() slog.Level {
	if e == nil {
		return slog.LevelDebug
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(e.LogLevel)); err != nil {
		return slog.LevelDebug
	}
	return level
}

func VAPIDEnvFromEnv(env *Env) *VAPIDEnv {
	return &env.VAPIDEnv
}
