package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/robfig/cron"

	"github.com/agenthands/genesis/internal/budget"
	"github.com/agenthands/genesis/internal/config"
	"github.com/agenthands/genesis/internal/core/auditor"
	"github.com/agenthands/genesis/internal/core/canon"
	"github.com/agenthands/genesis/internal/core/moderation"
	"github.com/agenthands/genesis/internal/core/novelty"
	"github.com/agenthands/genesis/internal/core/orchestrator"
	"github.com/agenthands/genesis/internal/core/script"
	"github.com/agenthands/genesis/internal/core/storylet"
	"github.com/agenthands/genesis/internal/core/worldstate"
	"github.com/agenthands/genesis/internal/driver"
	"github.com/agenthands/genesis/internal/jobs"
	"github.com/agenthands/genesis/internal/llm"
	"github.com/agenthands/genesis/internal/logger"
	"github.com/agenthands/genesis/internal/server"
	"github.com/agenthands/genesis/internal/store"
	"github.com/agenthands/genesis/internal/video"
	"github.com/agenthands/genesis/internal/vision"
)

// graphStore is what the process needs from either store backend.
type graphStore interface {
	store.Store
	store.Seeder
}

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using defaults")
	}

	cfgPath := flag.String("config", envOr("CONFIG_PATH", "config/config.toml"), "path to config.toml")
	seedPath := flag.String("seed", "", "seed the world from this TOML file before serving")
	memory := flag.Bool("memory", false, "use the in-process store instead of neo4j")
	noCron := flag.Bool("no-cron", false, "disable the daily and nightly schedule")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("Failed to init logger: %v", err)
	}
	defer lg.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	table := canon.NewTable(cfg.Canon.Exclusive)

	var st graphStore
	if *memory {
		lg.Warn("using in-process store; nothing survives a restart")
		st = store.NewMemoryStore(table)
	} else {
		d, err := driver.NewNeo4jDriver(ctx, cfg.Neo4j, lg)
		if err != nil {
			lg.Fatal("Failed to connect to neo4j", "error", err)
		}
		defer d.Close(context.Background())
		if err := d.BuildIndices(ctx); err != nil {
			lg.Fatal("Failed to build indices", "error", err)
		}
		st = store.NewGraphStore(d, table, lg)
	}

	if *seedPath != "" {
		w, err := store.LoadWorld(*seedPath)
		if err != nil {
			lg.Fatal("Failed to load world", "error", err)
		}
		if err := store.Seed(ctx, st, w); err != nil {
			lg.Fatal("Failed to seed world", "error", err)
		}
		lg.Info("world seeded", "path", *seedPath, "heroes", len(w.Heroes), "events", len(w.Events))
	}

	var locker store.Locker = store.NewKeyedMutex()
	if cfg.Redis.Addr != "" {
		rdb, err := store.DialRedis(ctx, cfg.Redis.Addr)
		if err != nil {
			lg.Fatal("Failed to connect to redis", "error", err)
		}
		defer rdb.Close()
		locker = store.NewRedisLocker(rdb, time.Duration(cfg.Redis.LockTTLSecond)*time.Second)
	} else {
		lg.Warn("no redis configured; hero locks are per process")
	}

	llmClient, embedder, err := llm.NewClient(ctx, cfg.LLM)
	if err != nil {
		lg.Fatal("Failed to initialize LLM client", "error", err)
	}
	images, err := llm.NewImageGenerator(cfg.Image)
	if err != nil {
		lg.Fatal("Failed to initialize image generator", "error", err)
	}

	gate, closeGate := buildGate(ctx, cfg, lg)
	defer closeGate()

	templates, err := storylet.Load(cfg.Storylets.Path)
	if err != nil {
		lg.Fatal("Failed to load storylets", "error", err)
	}
	library, err := storylet.New(templates, cfg.Storylets)
	if err != nil {
		lg.Fatal("Invalid storylet library", "error", err)
	}

	loc := cfg.Generation.Location()
	orch := orchestrator.New(orchestrator.Deps{
		Store:     st,
		Locker:    locker,
		Storylets: library,
		Writer:    script.NewWriter(llmClient, cfg.Prompts.Script, cfg.Generation.MaxPanels),
		Gate:      gate,
		Images:    images,
		Video:     video.New(cfg.Video),
		Budget:    budget.NewGovernor(cfg.Budget, loc, budget.PoliciesFrom(cfg.Budget)...),
	}, cfg, uuid.NewString, lg)

	world := worldstate.NewSummarizer(llmClient, cfg.Prompts.WorldSummary, st, lg)
	aud := auditor.New(st, table, novelty.NewChecker(embedder, cfg.Auditor.NoveltySimilarity, lg), world, cfg.Auditor, uuid.NewString, lg)

	daily := jobs.NewDailyRunner(st, orch, cfg.Schedule.Concurrency, lg)
	nightly := jobs.NewNightlyRunner(aud, lg)

	if !*noCron {
		c := cron.NewWithLocation(loc)
		mustSchedule(c, cfg.Schedule.Daily, "daily", lg, func() {
			if _, err := daily.Run(ctx); err != nil {
				lg.Error("scheduled daily batch failed", "error", err)
			}
		})
		mustSchedule(c, cfg.Schedule.Nightly, "nightly", lg, func() {
			if _, err := nightly.Run(ctx); err != nil {
				lg.Error("scheduled nightly audit failed", "error", err)
			}
		})
		c.Start()
		defer c.Stop()
	}

	srv := server.NewServer(orch, st, aud, daily, nightly, lg)
	httpSrv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           srv.SetupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		lg.Info("Starting server", "port", cfg.Server.Port)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			lg.Fatal("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	lg.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Error("shutdown", "error", err)
	}
}

// buildGate wires the text classifiers named in config plus, when enabled,
// the vision image classifier.
func buildGate(ctx context.Context, cfg *config.Config, lg *logger.Logger) (*moderation.Gate, func()) {
	text := []moderation.TextClassifier{moderation.NewLexicon(cfg.Moderation.Blocklist)}
	if strings.EqualFold(cfg.Moderation.TextClassifier, "openai") {
		text = append(text, llm.NewOpenAIClient(cfg.ModerationKey(), "", "", ""))
	}

	var image moderation.ImageClassifier
	closeFn := func() {}
	if cfg.Vision.Enabled {
		vc, err := vision.New(ctx, cfg.Vision.CredentialsFile, lg)
		if err != nil {
			lg.Fatal("Failed to initialize vision client", "error", err)
		}
		image = vc
		closeFn = func() { _ = vc.Close() }
	} else {
		lg.Warn("vision disabled; panels are moderated on their prompt only")
	}

	gate, err := moderation.NewGate(text, image, cfg.Moderation.VerdictCacheLen, lg)
	if err != nil {
		lg.Fatal("Failed to build moderation gate", "error", err)
	}
	return gate, closeFn
}

func mustSchedule(c *cron.Cron, expr, name string, lg *logger.Logger, fn func()) {
	if expr == "" {
		lg.Info("schedule disabled", "job", name)
		return
	}
	if err := c.AddFunc(expr, fn); err != nil {
		lg.Fatal("invalid schedule", "job", name, "schedule", expr, "error", err)
	}
	lg.Info("scheduled", "job", name, "schedule", expr)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
