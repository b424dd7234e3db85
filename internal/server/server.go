// Пакет server — HTTP-серверы ядра киоска с graceful shutdown.
//
// Admin-сервер обслуживает API, in-process протокол и /metrics.
// Loopback-сервер отдаёт видео плееру оболочки и слушает только 127.0.0.1.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/welcome-kiosk/internal/api/handlers"
	"github.com/bigkaa/welcome-kiosk/internal/api/middleware"
	"github.com/bigkaa/welcome-kiosk/internal/config"
)

// Server — HTTP-сервер с именем для логов и метрик.
type Server struct {
	name            string
	httpServer      *http.Server
	shutdownTimeout time.Duration
	logger          *slog.Logger
}

// NewAdmin создаёт admin-сервер.
// authenticate — цепочка проверки токена администратора для защищённых маршрутов.
func NewAdmin(cfg *config.Config, logger *slog.Logger, api *handlers.APIHandler, authenticate ...func(http.Handler) http.Handler) *Server {
	router := chi.NewRouter()

	// Middleware
	router.Use(chimw.RequestID)
	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware("admin"))

	router.Handle("/metrics", promhttp.Handler())
	api.Register(router, authenticate...)

	return newServer("admin", cfg.AdminAddr(), router, cfg.ShutdownTimeout, logger, 60*time.Second)
}

// NewStream создаёт loopback-сервер потоковой отдачи файлов.
// WriteTimeout не задаётся: отдача длинного видео не ограничена по времени.
func NewStream(cfg *config.Config, logger *slog.Logger, assets *handlers.AssetHandler) *Server {
	router := chi.NewRouter()

	router.Use(chimw.Recoverer)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware("stream"))

	assets.StreamRoutes(router)

	return newServer("stream", cfg.StreamAddr(), router, cfg.ShutdownTimeout, logger, 0)
}

func newServer(name, addr string, handler http.Handler, shutdownTimeout time.Duration, logger *slog.Logger, writeTimeout time.Duration) *Server {
	return &Server{
		name: name,
		httpServer: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       5 * time.Minute,
			WriteTimeout:      writeTimeout,
			IdleTimeout:       120 * time.Second,
		},
		shutdownTimeout: shutdownTimeout,
		logger:          logger.With(slog.String("component", "http_server"), slog.String("server", name)),
	}
}

// Handler возвращает корневой обработчик сервера.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Run слушает адрес сервера до отмены ctx.
// После отмены выполняется graceful shutdown с таймаутом shutdownTimeout.
func (s *Server) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("сервер %s: ошибка прослушивания %s: %w", s.name, s.httpServer.Addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve обслуживает соединения ln до отмены ctx.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", ln.Addr().String()))
		err := s.httpServer.Serve(ln)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера %s: %w", s.name, err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown сервера %s: %w", s.name, err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
