package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

type AppConfig struct {
	ListenAddr string

	StockfishPath  string
	EngineDepth    int
	EngineElo      int
	EngineSkill    int
	EngineThreads  int
	EngineHashMB   int
	LimitStrength  bool
	EngineCapacity int

	AnalysisDebounce time.Duration
	DropPolicy       string
	ClickPolicy      string

	VisionURL     string
	VisionTimeout time.Duration
	VisionDemo    bool

	RedisURL    string
	DatabaseURL string

	BoardPixels int
	MessagesDir string
	MaxSessions int
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ListenAddr:       ":8080",
		EngineDepth:      15,
		EngineElo:        2200,
		EngineSkill:      20,
		EngineThreads:    1,
		EngineHashMB:     64,
		LimitStrength:    true,
		AnalysisDebounce: 100 * time.Millisecond,
		DropPolicy:       "legal_then_forced",
		ClickPolicy:      "forced",
		VisionTimeout:    30 * time.Second,
		BoardPixels:      480,
		MaxSessions:      64,
	}

	if v := strings.TrimSpace(os.Getenv("LISTEN_ADDR")); v != "" {
		cfg.ListenAddr = v
	}

	// Engine
	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	setPositiveInt(&cfg.EngineDepth, "ENGINE_DEPTH")
	setPositiveInt(&cfg.EngineElo, "ENGINE_ELO")
	setPositiveInt(&cfg.EngineThreads, "ENGINE_THREADS")
	setPositiveInt(&cfg.EngineHashMB, "ENGINE_HASH_MB")
	setPositiveInt(&cfg.EngineCapacity, "ENGINE_CAPACITY")
	if v := strings.TrimSpace(os.Getenv("ENGINE_SKILL")); v != "" { // 0 is a valid skill level
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			cfg.EngineSkill = n
		}
	}
	setBool(&cfg.LimitStrength, "ENGINE_LIMIT_STRENGTH")

	// Editing
	setMillis(&cfg.AnalysisDebounce, "ANALYSIS_DEBOUNCE_MS")
	if v := strings.TrimSpace(os.Getenv("EDIT_DROP_POLICY")); v != "" {
		cfg.DropPolicy = v
	}
	if v := strings.TrimSpace(os.Getenv("EDIT_CLICK_POLICY")); v != "" {
		cfg.ClickPolicy = v
	}

	// Vision
	cfg.VisionURL = strings.TrimSpace(os.Getenv("VISION_URL"))
	setMillis(&cfg.VisionTimeout, "VISION_TIMEOUT_MS")
	setBool(&cfg.VisionDemo, "VISION_DEMO")

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	setPositiveInt(&cfg.BoardPixels, "BOARD_PIXELS")
	cfg.MessagesDir = strings.TrimSpace(os.Getenv("MESSAGES_DIR"))
	setPositiveInt(&cfg.MaxSessions, "MAX_SESSIONS")

	if cfg.BoardPixels < 160 {
		return nil, errors.New("BOARD_PIXELS must be at least 160")
	}
	if cfg.EngineSkill > 20 {
		return nil, errors.New("ENGINE_SKILL must be within 0-20")
	}
	return cfg, nil
}

func setPositiveInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setMillis(dst *time.Duration, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}
