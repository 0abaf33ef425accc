package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	DataDir           string
	CheckpointBackend string // "sqlite" or "jsonfile"

	// Concurrency limits
	MaxWorkers  int
	MaxScrapers int
	PageSize    int

	// Retry policy for transient fetch/transcode failures
	MaxAttempts    int
	RetryBaseDelay time.Duration

	// Per-task processing deadline
	TaskTimeout time.Duration

	// Resource admission thresholds. Admission pauses when memory usage
	// rises above MemoryPausePercent or free disk falls below
	// DiskPauseFreeGB, and resumes only once usage is back past the
	// resume values (hysteresis).
	MemoryPausePercent  float64
	MemoryResumePercent float64
	DiskPauseFreeGB     float64
	DiskResumeFreeGB    float64
	SampleInterval      time.Duration
	AdmissionWaitBudget time.Duration

	// Delivery spec for the transcoder
	TargetContainer string
	TargetCodec     string
	TargetFPS       int

	// Validation thresholds
	MinWidth             int
	MinHeight            int
	MinFPS               float64
	MinDuration          float64
	CutSceneThreshold    float64
	CutSceneMinScenes    int
	TextMinConfidence    float64
	PhysicsFlowThreshold float64
	PhysicsMinViolations int
	SampleFPS            float64
	MaxSampleFrames      int
	FailFast             bool

	// Source credentials
	PexelsAPIKey string

	// S3-compatible storage sink
	S3Endpoint  string
	S3Bucket    string
	S3AccessKey string
	S3SecretKey string
	S3Prefix    string
	S3UseSSL    bool
}

func Load() (*Config, error) {
	cfg := &Config{
		DataDir:           getEnv("DATA_DIR", "data"),
		CheckpointBackend: getEnv("CHECKPOINT_BACKEND", "sqlite"),
		TargetContainer:   getEnv("TARGET_CONTAINER", "mp4"),
		TargetCodec:       getEnv("TARGET_CODEC", "h264"),
		PexelsAPIKey:      os.Getenv("PEXELS_API_KEY"),
		S3Endpoint:        os.Getenv("S3_ENDPOINT"),
		S3Bucket:          os.Getenv("S3_BUCKET"),
		S3AccessKey:       os.Getenv("S3_ACCESS_KEY"),
		S3SecretKey:       os.Getenv("S3_SECRET_KEY"),
		S3Prefix:          getEnv("S3_PREFIX", "clips/"),
	}

	var err error
	if cfg.MaxWorkers, err = getEnvInt("MAX_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.MaxScrapers, err = getEnvInt("MAX_SCRAPERS", 3); err != nil {
		return nil, err
	}
	if cfg.PageSize, err = getEnvInt("PAGE_SIZE", 20); err != nil {
		return nil, err
	}
	if cfg.MaxAttempts, err = getEnvInt("MAX_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if cfg.RetryBaseDelay, err = getEnvDuration("RETRY_BASE_DELAY", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if cfg.TaskTimeout, err = getEnvDuration("TASK_TIMEOUT", 10*time.Minute); err != nil {
		return nil, err
	}
	if cfg.MemoryPausePercent, err = getEnvFloat("MEMORY_PAUSE_PERCENT", 85); err != nil {
		return nil, err
	}
	if cfg.MemoryResumePercent, err = getEnvFloat("MEMORY_RESUME_PERCENT", 75); err != nil {
		return nil, err
	}
	if cfg.DiskPauseFreeGB, err = getEnvFloat("DISK_PAUSE_FREE_GB", 1); err != nil {
		return nil, err
	}
	if cfg.DiskResumeFreeGB, err = getEnvFloat("DISK_RESUME_FREE_GB", 2); err != nil {
		return nil, err
	}
	if cfg.SampleInterval, err = getEnvDuration("SAMPLE_INTERVAL", 2*time.Second); err != nil {
		return nil, err
	}
	if cfg.AdmissionWaitBudget, err = getEnvDuration("ADMISSION_WAIT_BUDGET", 5*time.Minute); err != nil {
		return nil, err
	}
	if cfg.TargetFPS, err = getEnvInt("TARGET_FPS", 0); err != nil {
		return nil, err
	}
	if cfg.MinWidth, err = getEnvInt("MIN_WIDTH", 512); err != nil {
		return nil, err
	}
	if cfg.MinHeight, err = getEnvInt("MIN_HEIGHT", 512); err != nil {
		return nil, err
	}
	if cfg.MinFPS, err = getEnvFloat("MIN_FPS", 20); err != nil {
		return nil, err
	}
	if cfg.MinDuration, err = getEnvFloat("MIN_DURATION_SECONDS", 2); err != nil {
		return nil, err
	}
	if cfg.CutSceneThreshold, err = getEnvFloat("CUT_SCENE_THRESHOLD", 0.35); err != nil {
		return nil, err
	}
	if cfg.CutSceneMinScenes, err = getEnvInt("CUT_SCENE_MIN_SCENES", 2); err != nil {
		return nil, err
	}
	if cfg.TextMinConfidence, err = getEnvFloat("TEXT_MIN_CONFIDENCE", 0.7); err != nil {
		return nil, err
	}
	if cfg.PhysicsFlowThreshold, err = getEnvFloat("PHYSICS_FLOW_THRESHOLD", 50); err != nil {
		return nil, err
	}
	if cfg.PhysicsMinViolations, err = getEnvInt("PHYSICS_MIN_VIOLATIONS", 3); err != nil {
		return nil, err
	}
	if cfg.SampleFPS, err = getEnvFloat("SAMPLE_FPS", 3); err != nil {
		return nil, err
	}
	if cfg.MaxSampleFrames, err = getEnvInt("MAX_SAMPLE_FRAMES", 300); err != nil {
		return nil, err
	}
	if cfg.FailFast, err = getEnvBool("VALIDATION_FAIL_FAST", false); err != nil {
		return nil, err
	}
	if cfg.S3UseSSL, err = getEnvBool("S3_USE_SSL", true); err != nil {
		return nil, err
	}

	if cfg.MaxWorkers < 1 {
		return nil, fmt.Errorf("MAX_WORKERS must be at least 1")
	}
	if cfg.MaxScrapers < 1 {
		return nil, fmt.Errorf("MAX_SCRAPERS must be at least 1")
	}
	if cfg.MemoryResumePercent >= cfg.MemoryPausePercent {
		return nil, fmt.Errorf("MEMORY_RESUME_PERCENT (%g) must be below MEMORY_PAUSE_PERCENT (%g)",
			cfg.MemoryResumePercent, cfg.MemoryPausePercent)
	}
	if cfg.DiskResumeFreeGB <= cfg.DiskPauseFreeGB {
		return nil, fmt.Errorf("DISK_RESUME_FREE_GB (%g) must be above DISK_PAUSE_FREE_GB (%g)",
			cfg.DiskResumeFreeGB, cfg.DiskPauseFreeGB)
	}
	if cfg.CheckpointBackend != "sqlite" && cfg.CheckpointBackend != "jsonfile" {
		return nil, fmt.Errorf("invalid CHECKPOINT_BACKEND: %q", cfg.CheckpointBackend)
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, defaultValue float64) (float64, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return f, nil
}

func getEnvBool(key string, defaultValue bool) (bool, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
