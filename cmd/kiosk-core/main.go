// Точка входа ядра киоска — хранилище контента, сессия редактирования
// и раздача файлов для оболочки экрана приветствия.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/welcome-kiosk/internal/api/handlers"
	"github.com/bigkaa/welcome-kiosk/internal/api/middleware"
	"github.com/bigkaa/welcome-kiosk/internal/auth"
	"github.com/bigkaa/welcome-kiosk/internal/config"
	"github.com/bigkaa/welcome-kiosk/internal/domain/session"
	"github.com/bigkaa/welcome-kiosk/internal/instance"
	"github.com/bigkaa/welcome-kiosk/internal/server"
	"github.com/bigkaa/welcome-kiosk/internal/service"
	"github.com/bigkaa/welcome-kiosk/internal/storage/docfile"
	"github.com/bigkaa/welcome-kiosk/internal/storage/filestore"
	"github.com/bigkaa/welcome-kiosk/internal/storage/wal"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env необязателен: переменные окружения имеют приоритет
	_ = godotenv.Load()

	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("ошибка конфигурации: %w", err)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Ядро киоска запускается",
		slog.String("version", config.Version),
		slog.String("data_dir", cfg.DataDir),
		slog.Bool("dev_mode", cfg.DevMode),
		slog.Int("port", cfg.Port),
		slog.String("stream_addr", cfg.StreamAddr()),
	)

	// --- Инициализация компонентов ---

	// 1. Защита от второго экземпляра
	guard, err := instance.Acquire(cfg.DataDir, cfg.AdminAddr(), logger)
	if err != nil {
		if errors.Is(err, instance.ErrAlreadyRunning) {
			logger.Error("Второй экземпляр не запускается", slog.String("error", err.Error()))
		}
		return err
	}
	defer guard.Release()

	// 2. Файловое хранилище и начальное заполнение из комплекта
	store, err := filestore.New(cfg.DataDir, cfg.TempDir)
	if err != nil {
		return fmt.Errorf("ошибка инициализации FileStore: %w", err)
	}
	seed, err := store.Seed(cfg.BundleDir, logger)
	if err != nil {
		return fmt.Errorf("ошибка заполнения хранилища: %w", err)
	}
	logger.Info("Хранилище готово",
		slog.Int("seeded_files", seed.Copied),
		slog.String("temp_dir", store.TempDir()),
	)

	// 3. Журнал сохранений
	journal, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации WAL: %w", err)
	}

	// 4. Документ, разрешение ссылок, менеджер сессии
	docs := docfile.New(cfg.DocumentPath())
	resolver := service.NewResolver(store, cfg.StreamBaseURL(), cfg.DescriptorCacheSize, cfg.DescriptorCacheTTL, logger)
	manager := service.NewManager(store, docs, journal, resolver, service.StagingConfig{
		MaxImageSize:       cfg.MaxImageSize,
		MaxVideoSize:       cfg.MaxVideoSize,
		CropSize:           cfg.CropSize,
		PromoteConcurrency: cfg.PromoteConcurrency,
	}, logger)

	// WAL recovery: незавершённые сохранения прошлого запуска
	recovery, err := manager.RecoverJournal()
	if err != nil {
		return fmt.Errorf("ошибка восстановления WAL: %w", err)
	}
	if recovery.Recovered > 0 {
		logger.Warn("Восстановлены незавершённые сохранения",
			slog.Int("transactions", recovery.Recovered),
			slog.Int("deleted_assets", len(recovery.Deleted)),
		)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// 5. Фоновые процессы
	gcSvc := service.NewGCService(store, manager, journal, cfg.GCInterval, cfg.TempMaxAge, logger)
	gcSvc.Start(ctx)

	reconcileSvc := service.NewReconcileService(store, manager, resolver, cfg.ReconcileInterval, cfg.ReconcileDeleteOrphans, logger)
	reconcileSvc.Start(ctx)

	// 6. Доступ администратора
	issuer, err := auth.NewTokenIssuer(string(cfg.TokenSecret), cfg.TokenTTL)
	if err != nil {
		return fmt.Errorf("ошибка инициализации токенов: %w", err)
	}
	gate := auth.NewGate(auth.NewPINVerifier(cfg.AdminPIN), issuer, cfg.PINWindow, logger)
	jwtAuth := middleware.NewJWTAuth(issuer, cfg.JWTLeeway, logger)

	// 7. Handlers
	assetHandler := handlers.NewAssetHandler(resolver, logger)
	apiHandler := handlers.NewAPIHandler(
		assetHandler,
		handlers.NewContentHandler(manager, resolver, logger),
		handlers.NewSessionHandler(manager, resolver, cfg.MaxImageSize, logger),
		handlers.NewAdminHandler(gate, auth.StaticLicense{}, logger),
		handlers.NewMaintenanceHandler(reconcileSvc, logger),
		handlers.NewHealthHandler(store.DataDir(), store.TempDir(), journal.Dir(), docs),
	)

	// 8. HTTP-серверы: admin API и loopback-стриминг
	adminSrv := server.NewAdmin(cfg, logger, apiHandler, jwtAuth.Middleware(), middleware.RequireScope(auth.ScopeAdmin))
	streamSrv := server.NewStream(cfg, logger, assetHandler)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return adminSrv.Run(gctx) })
	g.Go(func() error { return streamSrv.Run(gctx) })
	serveErr := g.Wait()

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")
	gcSvc.Stop()
	reconcileSvc.Stop()

	// Незавершённая сессия отменяется: staged-файлы удаляются, документ не меняется
	if manager.State() == session.StateEditing {
		if res, err := manager.Discard(); err != nil {
			logger.Error("Ошибка отмены сессии при остановке", slog.String("error", err.Error()))
		} else {
			logger.Info("Сессия редактирования отменена при остановке",
				slog.String("session_id", res.SessionID),
				slog.Int("deleted", len(res.Deleted)),
			)
		}
	}

	if serveErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", serveErr.Error()))
		return serveErr
	}
	logger.Info("Ядро киоска остановлено")
	return nil
}
