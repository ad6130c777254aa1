// Точка входа edi-mirror — зеркала документов EDI@Energy с портала BDEW.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/bigkaa/edimirror/internal/api/handlers"
	"github.com/bigkaa/edimirror/internal/api/middleware"
	"github.com/bigkaa/edimirror/internal/config"
	"github.com/bigkaa/edimirror/internal/lock"
	"github.com/bigkaa/edimirror/internal/portal"
	"github.com/bigkaa/edimirror/internal/server"
	"github.com/bigkaa/edimirror/internal/service"
	"github.com/bigkaa/edimirror/internal/storage/changedetect"
	"github.com/bigkaa/edimirror/internal/storage/filename"
	"github.com/bigkaa/edimirror/internal/storage/filestore"
	"github.com/bigkaa/edimirror/internal/storage/inventory"
)

func main() {
	var (
		rootDir = flag.StringP("root", "r", "", "корневая директория зеркала (перекрывает MIRROR_ROOT_DIR)")
		once    = flag.Bool("once", false, "выполнить один прогон и завершиться")
		dryRun  = flag.Bool("dry-run", false, "только план: ничего не загружать и не удалять (вместе с --once)")
		version = flag.BoolP("version", "v", false, "показать версию")
	)
	flag.Parse()

	if *version {
		fmt.Println(config.Version)
		return
	}

	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load(config.Overrides{RootDir: *rootDir})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	logger := config.SetupLogger(cfg)
	logger.Info("edi-mirror запускается",
		slog.String("version", config.Version),
		slog.String("root_dir", cfg.RootDir),
		slog.String("portal_url", cfg.PortalURL),
		slog.Bool("once", *once),
	)

	// --- Инициализация компонентов ---

	// 1. Файловое хранилище
	store, err := filestore.Open(cfg.RootDir)
	if err != nil {
		logger.Error("Ошибка инициализации FileStore", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Индекс локальных файлов
	codec := filename.NewCodec(logger)
	inv := inventory.New(codec, logger)
	if err := inv.BuildFromDir(cfg.RootDir); err != nil {
		logger.Error("Ошибка построения индекса", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Клиент портала
	client, err := portal.New(portalConfig(cfg), logger)
	if err != nil {
		logger.Error("Ошибка инициализации клиента портала", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Сервис синхронизации
	detector := changedetect.New(cfg.ChangeCacheSize, cfg.ChangeCacheTTL, logger)
	mirrorSvc := service.NewMirrorService(client, store, inv, codec, detector, service.MirrorOptions{
		Interval:        cfg.SyncInterval,
		RetainOnFailure: cfg.RetainOnFailure,
	}, logger)

	if *once {
		os.Exit(runOnce(mirrorSvc, *dryRun, logger))
	}
	if *dryRun {
		logger.Warn("--dry-run учитывается только вместе с --once")
	}

	// 5. Фоновые процессы
	ctx := context.Background()
	mirrorSvc.Start(ctx)

	// topologymetrics — мониторинг портала и JWKS
	var deps handlers.DependencyHealth
	dephealthSvc, dephealthErr := service.NewDephealthService(service.DephealthParams{
		ServiceID:     cfg.ServiceID,
		Group:         cfg.DephealthGroup,
		PortalURL:     cfg.PortalURL,
		JWKSURL:       cfg.JWKSUrl,
		CheckInterval: cfg.DephealthCheckInterval,
	}, logger)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			deps = dephealthSvc
			logger.Info("topologymetrics запущен",
				slog.String("portal_url", cfg.PortalURL),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 6. Handlers
	apiHandler := handlers.NewAPIHandler(
		handlers.NewHealthHandler(cfg.RootDir, inv, deps),
		handlers.NewStatusHandler(mirrorSvc, inv),
		handlers.NewMaintenanceHandler(mirrorSvc, logger),
	)

	// 7. JWT middleware
	var jwtAuth server.JWTAuthProvider
	if cfg.JWKSUrl == "" {
		logger.Warn("MIRROR_JWKS_URL не задан, ручной запуск синхронизации без аутентификации")
	} else {
		jwtMiddleware, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			ClientTimeout:   10 * time.Second,
			RefreshInterval: 15 * time.Minute,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			logger.Error("Ошибка инициализации JWT", slog.String("error", err.Error()))
			mirrorSvc.Stop()
			os.Exit(1)
		}
		jwtAuth = jwtMiddleware
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	}

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)

	runErr := srv.Run()

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	mirrorSvc.Stop()
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	if runErr != nil {
		logger.Error("Ошибка сервера", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
	logger.Info("edi-mirror остановлен")
}

// runOnce выполняет один прогон и возвращает код завершения процесса.
// SIGINT/SIGTERM прерывает загрузки; удаление при этом не выполняется.
func runOnce(ms *service.MirrorService, dryRun bool, logger *slog.Logger) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	report, err := ms.RunOnce(ctx, service.RunOptions{DryRun: dryRun})
	switch {
	case errors.Is(err, lock.ErrLocked):
		logger.Error("Корень зеркала заблокирован другим процессом")
		return 1
	case err != nil:
		logger.Error("Прогон синхронизации прерван", slog.String("error", err.Error()))
		return 1
	}

	if dryRun {
		for _, path := range report.WouldEvict {
			logger.Info("Будет удалён", slog.String("path", path))
		}
	}
	if report.Failed > 0 {
		// частичный отказ: зеркало согласовано, но неполно
		return 2
	}
	return 0
}

// portalConfig переносит настройки портала из конфигурации приложения.
func portalConfig(cfg *config.Config) portal.Config {
	pc := portal.DefaultConfig()
	pc.BaseURL = cfg.PortalURL
	pc.ConnectionLimit = cfg.ConnectionLimit
	pc.Timeout = cfg.HTTPTimeout
	pc.MaxRetries = cfg.MaxRetries
	pc.RetryDelay = cfg.RetryDelay
	pc.RateLimit = cfg.RateLimit
	pc.RateBurst = cfg.RateBurst
	pc.UserAgent = "edi-mirror/" + config.Version
	return pc
}
