package server

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/bigkaa/welcome-kiosk/internal/api/handlers"
	"github.com/bigkaa/welcome-kiosk/internal/config"
	"github.com/bigkaa/welcome-kiosk/internal/service"
	"github.com/bigkaa/welcome-kiosk/internal/storage/filestore"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestStreamServer_ServeAndShutdown — loopback-сервер отдаёт диапазон
// и корректно останавливается при отмене контекста.
func TestStreamServer_ServeAndShutdown(t *testing.T) {
	root := t.TempDir()
	store, err := filestore.New(root, "")
	if err != nil {
		t.Fatalf("filestore.New: %v", err)
	}
	if err := os.WriteFile(filepath.Join(root, "assets", "videos", "clip.mp4"), []byte("0123456789"), 0o640); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	logger := quietLogger()
	resolver := service.NewResolver(store, "", 8, time.Minute, logger)
	cfg := &config.Config{StreamHost: "127.0.0.1", StreamPort: 3001, ShutdownTimeout: time.Second}
	srv := NewStream(cfg, logger, handlers.NewAssetHandler(resolver, logger))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx, ln) }()

	req, _ := http.NewRequest(http.MethodGet, "http://"+ln.Addr().String()+"/videos/clip.mp4", nil)
	req.Header.Set("Range", "bytes=3-5")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Запрос к серверу: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()

	if resp.StatusCode != http.StatusPartialContent || string(body) != "345" {
		t.Errorf("Статус %d, тело %q", resp.StatusCode, body)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve вернул ошибку: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Сервер не остановился")
	}
}
