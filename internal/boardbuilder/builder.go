package boardbuilder

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/park285/cheese-board-editor/internal/adapter/boardpresenter"
	"github.com/park285/cheese-board-editor/internal/analysis"
	"github.com/park285/cheese-board-editor/internal/chess/uci"
	"github.com/park285/cheese-board-editor/internal/config"
	"github.com/park285/cheese-board-editor/internal/editor"
	"github.com/park285/cheese-board-editor/internal/journal"
	"github.com/park285/cheese-board-editor/internal/msgcat"
	"github.com/park285/cheese-board-editor/internal/render"
	board "github.com/park285/cheese-board-editor/internal/service/board"
	"github.com/park285/cheese-board-editor/internal/vision"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Deps struct {
	Manager   *board.Manager
	Formatter *boardpresenter.Formatter
	Renderer  *render.Renderer
	Catalog   *msgcat.Catalog
	Pool      *uci.Pool
	Redis     *redis.Client
	Journal   journal.Repository
}

// New wires the editor from configuration. Only the message catalog and the renderer are
// mandatory; engine, redis, vision and postgres are each optional and their absence
// degrades the matching feature.
func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := &Deps{}

	cat, err := msgcat.New(cfg.MessagesDir)
	if err != nil {
		return nil, fmt.Errorf("load messages: %w", err)
	}
	deps.Catalog = cat
	deps.Formatter = boardpresenter.NewFormatter(cat)

	renderer, err := render.New(cfg.BoardPixels)
	if err != nil {
		return nil, err
	}
	deps.Renderer = renderer

	editorCfg, err := editorConfig(cfg)
	if err != nil {
		return nil, err
	}

	// Engine (optional)
	var engines board.EngineSource
	if strings.TrimSpace(cfg.StockfishPath) != "" {
		pool, err := uci.NewPool(uci.PoolConfig{
			BinaryPath:         cfg.StockfishPath,
			PerOptionsCapacity: cfg.EngineCapacity,
			Logger:             logger.Named("uci"),
		})
		if err != nil {
			return nil, fmt.Errorf("init engine pool: %w", err)
		}
		deps.Pool = pool
		engines = board.PoolEngines(pool, engineOptions(cfg), logger.Named("uci"))
	} else {
		logger.Warn("STOCKFISH_PATH not set; analysis disabled")
	}

	// Redis (optional, caches recognition results)
	if strings.TrimSpace(cfg.RedisURL) != "" {
		opts, err := parseRedisURL(cfg.RedisURL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		pctx, cancel := context.WithTimeout(ctx, 3*time.Second)
		err = rdb.Ping(pctx).Err()
		cancel()
		if err != nil {
			logger.Warn("redis unreachable; recognition cache disabled", zap.Error(err))
			_ = rdb.Close()
		} else {
			deps.Redis = rdb
		}
	}

	recognizer := buildRecognizer(cfg, deps.Redis, logger)

	// Journal
	if strings.TrimSpace(cfg.DatabaseURL) != "" {
		repo, err := journal.OpenPostgres(ctx, cfg.DatabaseURL)
		if err != nil {
			deps.Close()
			return nil, fmt.Errorf("open journal: %w", err)
		}
		deps.Journal = repo
	} else {
		deps.Journal = journal.NewMemoryRepository()
	}

	deps.Manager = board.NewManager(board.Config{
		Editor: editorCfg,
		Analysis: analysis.Config{
			Debounce: cfg.AnalysisDebounce,
			Depth:    cfg.EngineDepth,
		},
		MaxSessions: cfg.MaxSessions,
	}, engines, recognizer, deps.Journal, logger.Named("board"))

	return deps, nil
}

func buildRecognizer(cfg *config.AppConfig, rdb *redis.Client, logger *zap.Logger) vision.Recognizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	var rec vision.Recognizer
	switch {
	case strings.TrimSpace(cfg.VisionURL) != "":
		rec = vision.NewHTTPRecognizer(cfg.VisionURL,
			vision.WithTimeout(cfg.VisionTimeout),
			vision.WithLogger(logger.Named("vision")),
		)
	case cfg.VisionDemo:
		logger.Info("vision demo mode: uploads always yield the demo position")
		rec = vision.NewStaticRecognizer()
	default:
		logger.Warn("VISION_URL not set; board scanning disabled")
		return nil
	}
	if rdb != nil {
		rec = vision.NewCachedRecognizer(rec, rdb, logger.Named("vision"))
	}
	return rec
}

func editorConfig(cfg *config.AppConfig) (editor.Config, error) {
	out := editor.DefaultConfig()
	if cfg.DropPolicy != "" {
		p, err := editor.ParsePolicy(cfg.DropPolicy)
		if err != nil {
			return out, fmt.Errorf("EDIT_DROP_POLICY: %w", err)
		}
		out.DropPolicy = p
	}
	if cfg.ClickPolicy != "" {
		p, err := editor.ParsePolicy(cfg.ClickPolicy)
		if err != nil {
			return out, fmt.Errorf("EDIT_CLICK_POLICY: %w", err)
		}
		out.ClickPolicy = p
	}
	return out, nil
}

func engineOptions(cfg *config.AppConfig) uci.Options {
	opt := uci.DefaultOptions()
	opt.Threads = cfg.EngineThreads
	opt.HashMB = cfg.EngineHashMB
	opt.SkillLevel = cfg.EngineSkill
	opt.Elo = cfg.EngineElo
	opt.LimitStrength = cfg.LimitStrength
	return opt
}

// parseRedisURL accepts redis:// and rediss:// URLs. rediss gets a TLS config for the host.
func parseRedisURL(raw string) (*redis.Options, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, err
	}
	if u.Hostname() == "" {
		return nil, errors.New("missing host")
	}
	return redis.ParseURL(raw)
}

// Close releases everything New opened. Sessions go first so their engines return to
// the pool before it shuts down.
func (d *Deps) Close() {
	if d == nil {
		return
	}
	if d.Manager != nil {
		d.Manager.Shutdown()
	}
	if d.Pool != nil {
		_ = d.Pool.Close()
	}
	if d.Redis != nil {
		_ = d.Redis.Close()
	}
	if d.Journal != nil {
		_ = d.Journal.Close()
	}
}
