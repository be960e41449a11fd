package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/hitoshi/contentforge/internal/approval"
	"github.com/hitoshi/contentforge/internal/config"
	"github.com/hitoshi/contentforge/internal/content"
	"github.com/hitoshi/contentforge/internal/database"
	"github.com/hitoshi/contentforge/internal/generator"
	"github.com/hitoshi/contentforge/internal/handler"
	"github.com/hitoshi/contentforge/internal/logger"
	"github.com/hitoshi/contentforge/internal/mailer"
	"github.com/hitoshi/contentforge/internal/metadata"
	"github.com/hitoshi/contentforge/internal/metrics"
	"github.com/hitoshi/contentforge/internal/middleware"
	"github.com/hitoshi/contentforge/internal/pipeline"
	"github.com/hitoshi/contentforge/internal/publish"
	"github.com/hitoshi/contentforge/internal/security"
	"github.com/hitoshi/contentforge/internal/transcript"
	"github.com/hitoshi/contentforge/internal/worker/cleanup"
	"github.com/hitoshi/contentforge/internal/worker/dispatch"
	"github.com/hitoshi/contentforge/internal/worker/expiry"
)

// shutdownTimeout はHTTPサーバーのグレースフルシャットダウンの猶予。
const shutdownTimeout = 30 * time.Second

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数と設定ファイルからConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 設定読み込み前にログを使えるようにする
	logger.SetupDefault(w)

	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("設定の読み込みに失敗しました: %w", err)
	}
	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd, err := ParseCommand(args)
	if err != nil {
		fmt.Fprint(os.Stderr, Usage())
		return err
	}

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("初期化に失敗しました: %w", err)
	}

	slog.Info("アプリケーションを起動します",
		slog.String("command", string(cmd)),
		slog.String("store", cfg.StoreDriver),
		slog.String("port", cfg.ServerPort),
		slog.String("base_url", cfg.BaseURL),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// services はserveモードで組み立てたコンポーネント一式。
type services struct {
	engine     *content.Engine
	dispatcher *dispatch.Dispatcher
	intake     *pipeline.Intake
	resumer    *pipeline.Resumer
	gate       *approval.Gate
	publisher  *publish.Driver
	sweeper    *expiry.Sweeper
	cleanup    *cleanup.CleanupJob
}

// buildServices は外部連携を含む全コンポーネントを組み立て、ジョブハンドラを登録する。
func buildServices(cfg *config.Config, st *stores, collector metrics.MetricsCollector, log *slog.Logger) *services {
	notifier := content.NewStatusNotifier(st.status, log, collector)
	engine := content.NewEngine(st.content, st.index, notifier, collector, log)

	guard := security.NewSSRFGuard()
	dispatcher := dispatch.NewDispatcher(cfg.DispatchWorkers, cfg.DispatchQueueSize, log)
	m := newMailer(cfg, log)

	generation := pipeline.NewDriver(
		engine,
		newTranscriber(cfg, log),
		metadata.NewFetcher(guard.NewSafeClient(cfg.MetadataTimeout), log),
		newGenerator(cfg, log),
		security.NewArtifactSanitizer(),
		dispatcher,
		collector,
		log,
		pipeline.Options{
			TranscriptTimeout:   cfg.TranscriptTimeout,
			MetadataTimeout:     cfg.MetadataTimeout,
			GenerationTimeout:   cfg.GenerationTimeout,
			MaxAttempts:         cfg.GenerationMaxAttempts,
			InitialBackoff:      cfg.GenerationInitialBackoff,
			AutoRequestApproval: cfg.AutoRequestApproval,
			StallAfter:          cfg.StallAfter,
		},
	)
	gate := approval.NewGate(engine, m, cfg.BaseURL, collector, log)
	publisher := publish.NewDriver(engine, dispatcher, m, cfg.FallbackHandle, collector, log)

	dispatcher.Handle(dispatch.KindGenerate, generation.Process)
	dispatcher.Handle(dispatch.KindRequestApproval, func(ctx context.Context, id string) error {
		_, err := gate.RequestNotification(ctx, id)
		return err
	})
	dispatcher.Handle(dispatch.KindPublish, publisher.Execute)

	return &services{
		engine:     engine,
		dispatcher: dispatcher,
		intake:     pipeline.NewIntake(engine, dispatcher, guard, log),
		resumer:    pipeline.NewResumer(engine, st.index, dispatcher, cfg.StallAfter, log),
		gate:       gate,
		publisher:  publisher,
		sweeper:    expiry.NewSweeper(engine, st.index, collector, log),
		cleanup:    cleanup.NewCleanupJob(st.status, cfg.StatusRetention, log),
	}
}

// newTranscriber はAPIキーが設定されていればDeepgram、なければ何もしない実装を返す。
func newTranscriber(cfg *config.Config, log *slog.Logger) pipeline.Transcriber {
	if cfg.DeepgramAPIKey == "" {
		log.Warn("DEEPGRAM_API_KEYが未設定のため文字起こしを無効化します")
		return transcript.Nop{}
	}
	return transcript.NewDeepgramClient(cfg.DeepgramAPIKey, &http.Client{Timeout: cfg.TranscriptTimeout}, log)
}

// newGenerator はGENERATOR_PROVIDERに応じた生成クライアントを返す。
func newGenerator(cfg *config.Config, log *slog.Logger) pipeline.Generator {
	if cfg.GeneratorProvider == config.ProviderAnthropic {
		if cfg.AnthropicAPIKey == "" {
			log.Warn("ANTHROPIC_API_KEYが未設定です。生成は失敗します")
		}
		return generator.NewAnthropicClient(cfg.AnthropicAPIKey, cfg.AnthropicModel)
	}
	if cfg.OpenRouterAPIKey == "" {
		log.Warn("OPENROUTER_API_KEYが未設定です。生成は失敗します")
	}
	return generator.NewOpenRouterClient(generator.OpenRouterConfig{
		APIKey:  cfg.OpenRouterAPIKey,
		BaseURL: cfg.OpenRouterBaseURL,
		Model:   cfg.OpenRouterModel,
		Referer: cfg.BaseURL,
		Title:   "contentforge",
	}, &http.Client{Timeout: cfg.GenerationTimeout})
}

// newMailer はAPIキーが設定されていればResend、なければログ出力のみの実装を返す。
func newMailer(cfg *config.Config, log *slog.Logger) mailer.Sender {
	if cfg.ResendAPIKey == "" {
		log.Warn("RESEND_API_KEYが未設定のためメールは送信されません")
		return mailer.Nop{}
	}
	return mailer.NewResendClient(cfg.ResendAPIKey, cfg.MailFrom, &http.Client{Timeout: 10 * time.Second})
}

// runServe はAPIサーバーモードで起動する。
// ジョブディスパッチャ、期限切れスイープ、ステータス保持ジョブを同じプロセスで実行し、
// ctxのキャンセルでグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	svc := buildServices(cfg, st, collector, log)

	limiter := middleware.NewRateLimiter(middleware.PerMinuteConfig(cfg.RateLimitGeneral, cfg.RateLimitCreate))
	defer limiter.Stop()

	router := handler.NewRouter(&handler.RouterDeps{
		Logger:            log,
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       limiter,
		HealthChecker:     st.health,
		MetricsHandler:    metrics.Handler(reg),
		Submitter:         svc.intake,
		Reader:            svc.engine,
		Statuses:          st.status,
		Approval:          svc.gate,
		Publisher:         svc.publisher,
	})

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		svc.dispatcher.Start(gctx)
		return nil
	})
	// 生成ジョブはこのプロセスのキューで処理されるため、再開処理はserveで行う
	g.Go(func() error {
		svc.resumer.Start(gctx, cfg.SweepInterval)
		return nil
	})
	if cfg.SweepInServe {
		g.Go(func() error {
			svc.sweeper.Start(gctx, cfg.SweepInterval)
			return nil
		})
	}
	g.Go(func() error {
		svc.cleanup.Start(gctx, cleanup.DefaultInterval)
		return nil
	})
	g.Go(func() error {
		log.Info("APIサーバーを起動しました", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTPサーバーの起動に失敗しました: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info("APIサーバーを停止しています")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTPサーバーのシャットダウンに失敗しました: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	log.Info("APIサーバーを正常に停止しました")
	return nil
}

// runWorker はワーカーモードで起動する。
// APIサーバーとは別プロセスで期限切れスイープとステータス保持ジョブを実行する。
// 共有ストア（postgres/sqlite）での利用を前提とする。
func runWorker(ctx context.Context, cfg *config.Config) error {
	log := slog.Default()

	if cfg.StoreDriver == config.StoreMemory {
		log.Warn("メモリストアのワーカーはAPIサーバーとデータを共有しません")
	}

	st, err := openStores(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.close()

	collector := metrics.NewCollector(prometheus.NewRegistry())
	notifier := content.NewStatusNotifier(st.status, log, collector)
	engine := content.NewEngine(st.content, st.index, notifier, collector, log)

	sweeper := expiry.NewSweeper(engine, st.index, collector, log)
	job := cleanup.NewCleanupJob(st.status, cfg.StatusRetention, log)

	log.Info("ワーカーを起動しました",
		slog.Duration("sweep_interval", cfg.SweepInterval),
		slog.Duration("status_retention", cfg.StatusRetention),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sweeper.Start(gctx, cfg.SweepInterval)
		return nil
	})
	g.Go(func() error {
		job.Start(gctx, cleanup.DefaultInterval)
		return nil
	})
	if err := g.Wait(); err != nil {
		return err
	}

	log.Info("ワーカーを正常に停止しました")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if cfg.StoreDriver == config.StoreMemory {
		slog.Info("メモリストアのためマイグレーションは不要です")
		return nil
	}

	dsn := storeDSN(cfg)
	slog.Info("マイグレーションを実行します",
		slog.String("driver", cfg.StoreDriver),
		slog.String("database_url", maskDatabaseURL(dsn)),
	)

	version, err := database.RunMigrations(cfg.StoreDriver, dsn)
	if err != nil {
		return fmt.Errorf("マイグレーションに失敗しました: %w", err)
	}

	slog.Info("マイグレーションが完了しました", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("ヘルスチェックに失敗しました: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ヘルスチェックが異常ステータスを返しました: %d", resp.StatusCode)
	}
	return nil
}

// maskDatabaseURL はデータベースURLの認証情報をマスクする。
func maskDatabaseURL(url string) string {
	if len(url) > 20 {
		return url[:12] + "***@..."
	}
	return "***"
}
