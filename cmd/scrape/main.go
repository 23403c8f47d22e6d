package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/maltedev/review-scraper/internal/app"
	"github.com/maltedev/review-scraper/internal/config"
	"github.com/maltedev/review-scraper/internal/models"
	"github.com/maltedev/review-scraper/internal/queue"
	"github.com/maltedev/review-scraper/internal/scrapeerr"
	"github.com/maltedev/review-scraper/pkg/logger"
	"github.com/redis/go-redis/v9"
)

func main() {
	var (
		asins     = flag.String("asins", "", "Comma-separated list of ASINs or product URLs")
		inputFile = flag.String("file", "", "File with one ASIN or product URL per line")
		mode      = flag.String("mode", "", "Fetch path: api or browser (default from SCRAPER_MODE)")
		country   = flag.String("country", models.DefaultCountry, "Marketplace country code")
		language  = flag.String("language", models.DefaultLanguage, "Review language")
		sortBy    = flag.String("sort", models.DefaultSortBy, "Sort order: most_helpful, most_recent, top_critical or top_positive")
		count     = flag.Int("count", models.DefaultReviewsCount, "Reviews per product")
		attempts  = flag.Int("attempts", 0, "Attempts per target for retryable failures (default from SCRAPER_MAX_ATTEMPTS)")
		envFile   = flag.String("env", "", "Optional .env file")
	)
	flag.Parse()

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}

	cfg, err := config.Load(envFiles...)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if *mode != "" {
		cfg.Scraper.Mode = *mode
	}
	if *attempts > 0 {
		cfg.Operation.MaxAttempts = *attempts
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(log)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid config", "error", err)
		os.Exit(1)
	}

	targets, err := loadTargets(*asins, *inputFile)
	if err != nil {
		log.Error("failed to load targets", "error", err)
		os.Exit(1)
	}
	if len(targets) == 0 {
		fmt.Fprintln(os.Stderr, "No targets given. Use -asins or -file.")
		flag.Usage()
		os.Exit(2)
	}

	opts := models.FetchOptions{
		Country:      *country,
		Language:     *language,
		SortBy:       *sortBy,
		ReviewsCount: *count,
	}

	failed, err := run(cfg, log, targets, opts)
	if err != nil {
		log.Error("scrape failed", "error", err)
		os.Exit(1)
	}
	if failed > 0 {
		os.Exit(1)
	}
}

// reviewFetcher is the part of the scraper service the batch loop needs.
type reviewFetcher interface {
	FetchResult(ctx context.Context, targetID string, opts models.FetchOptions) (*models.ReviewScrapeResult, error)
}

func run(cfg *config.Config, log *slog.Logger, targets []string, opts models.FetchOptions) (int, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	deps := app.Deps{}
	if cfg.Cache.Backend == config.CacheRedis {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer client.Close()
		deps.Redis = client
	}

	svc, err := app.NewService(ctx, cfg, deps, log)
	if err != nil {
		return 0, err
	}
	defer func() {
		if err := svc.Close(context.WithoutCancel(ctx)); err != nil {
			log.Error("failed to close scraper", "error", err)
		}
	}()

	tasks := queue.NewInMemoryQueue()
	defer tasks.Close()

	for _, target := range targets {
		if err := tasks.Push(queue.NewTask(target, opts, 1)); err != nil {
			return 0, err
		}
	}

	log.Info("starting scrape", "targets", tasks.Size(), "mode", cfg.Scraper.Mode)

	failed, err := drain(ctx, svc, tasks, os.Stdout, log)
	log.Info("scrape completed", "targets", len(targets), "failed", failed)
	return failed, err
}

// drain fetches every queued task once and writes each result as JSON.
// Retries happen inside the service; a failed task is reported, not
// requeued.
func drain(ctx context.Context, svc reviewFetcher, tasks *queue.InMemoryQueue, w io.Writer, log *slog.Logger) (int, error) {
	out := json.NewEncoder(w)
	out.SetIndent("", "  ")

	failed := 0
	for {
		task, err := tasks.TryPop()
		if errors.Is(err, queue.ErrQueueEmpty) || errors.Is(err, queue.ErrQueueClosed) {
			return failed, nil
		}
		if err != nil {
			return failed, err
		}
		if ctx.Err() != nil {
			log.Info("interrupted", "remaining", tasks.Size()+1)
			return failed, nil
		}

		result, err := svc.FetchResult(ctx, task.Target, task.Options)
		if err != nil {
			failed++
			log.Error("failed to fetch reviews",
				"target", task.Target,
				"kind", scrapeerr.KindOf(err),
				"retryable", scrapeerr.IsRetryable(err),
				"error", err)
			continue
		}

		if err := out.Encode(result); err != nil {
			return failed, fmt.Errorf("failed to write result: %w", err)
		}
	}
}

func loadTargets(list, inputFile string) ([]string, error) {
	var targets []string

	for _, item := range strings.Split(list, ",") {
		if item = strings.TrimSpace(item); item != "" {
			targets = append(targets, item)
		}
	}

	if inputFile == "" {
		return targets, nil
	}

	f, err := os.Open(inputFile)
	if err != nil {
		return nil, fmt.Errorf("failed to open input file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		targets = append(targets, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read input file: %w", err)
	}

	return targets, nil
}
