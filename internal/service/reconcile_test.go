package service

import (
	"errors"
	"testing"
	"time"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
)

// setupReconcileTestEnv создаёт хранилище с сохранённым базовым документом.
func setupReconcileTestEnv(t *testing.T) *stagingEnv {
	t.Helper()
	env := setupStagingEnv(t)
	env.seedBase(t)
	return env
}

func TestReconcileRunOnce_NoIssues(t *testing.T) {
	env := setupReconcileTestEnv(t)

	rs := NewReconcileService(env.store, env.m, nil, time.Hour, false, quietLogger())
	report, err := rs.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if report.FilesChecked != 5 {
		t.Errorf("FilesChecked: хотели 5, получили %d", report.FilesChecked)
	}
	if len(report.Issues) != 0 {
		t.Errorf("Ожидалось 0 проблем, получено %+v", report.Issues)
	}
	if report.Summary.Ok != 5 {
		t.Errorf("Summary.Ok: хотели 5, получили %d", report.Summary.Ok)
	}
}

func TestReconcileRunOnce_OrphanedAsset(t *testing.T) {
	env := setupReconcileTestEnv(t)
	env.putCommitted(t, model.CategoryImage, "stray.png", pngBytes(t, 2, 2))

	rs := NewReconcileService(env.store, env.m, nil, time.Hour, false, quietLogger())
	report, err := rs.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if report.Summary.OrphanedAssets != 1 {
		t.Fatalf("OrphanedAssets: хотели 1, получили %d", report.Summary.OrphanedAssets)
	}
	issue := report.Issues[0]
	if issue.Type != IssueOrphanedAsset || issue.Name != "stray.png" || issue.Deleted {
		t.Errorf("Проблема = %+v", issue)
	}
	if !env.committedExists(model.CategoryImage, "stray.png") {
		t.Error("Orphaned-файл удалён без KC_RECONCILE_DELETE_ORPHANS")
	}
}

func TestReconcileRunOnce_DeletesOrphans(t *testing.T) {
	env := setupReconcileTestEnv(t)
	env.putCommitted(t, model.CategoryVideo, "stray.mp4", fakeVideo)

	rs := NewReconcileService(env.store, env.m, nil, time.Hour, true, quietLogger())
	report, err := rs.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if report.Summary.Deleted != 1 {
		t.Errorf("Deleted: хотели 1, получили %d", report.Summary.Deleted)
	}
	if env.committedExists(model.CategoryVideo, "stray.mp4") {
		t.Error("Orphaned-файл не удалён")
	}
	if !env.committedExists(model.CategoryVideo, "spa.mp4") {
		t.Error("Файл документа удалён")
	}
}

func TestReconcileRunOnce_MissingAsset(t *testing.T) {
	env := setupReconcileTestEnv(t)
	if _, err := env.store.DeleteCommitted(model.CategoryImage, "icon_b.png"); err != nil {
		t.Fatalf("DeleteCommitted: %v", err)
	}

	rs := NewReconcileService(env.store, env.m, nil, time.Hour, false, quietLogger())
	report, err := rs.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}

	if report.Summary.MissingAssets != 1 {
		t.Fatalf("MissingAssets: хотели 1, получили %d", report.Summary.MissingAssets)
	}
	issue := report.Issues[0]
	if issue.Type != IssueMissingAsset || issue.Category != model.CategoryImage || issue.Name != "icon_b.png" {
		t.Errorf("Проблема = %+v", issue)
	}
}

func TestReconcileRunOnce_SkippedDuringSession(t *testing.T) {
	env := setupReconcileTestEnv(t)
	env.putCommitted(t, model.CategoryImage, "stray.png", pngBytes(t, 2, 2))
	if err := env.m.BeginFromDisk(); err != nil {
		t.Fatalf("BeginFromDisk: %v", err)
	}

	rs := NewReconcileService(env.store, env.m, nil, time.Hour, true, quietLogger())
	_, err := rs.RunOnce()
	if !errors.Is(err, ErrSessionActive) {
		t.Fatalf("Ожидалась ErrSessionActive, получено %v", err)
	}
	if !env.committedExists(model.CategoryImage, "stray.png") {
		t.Error("Файл удалён во время сессии")
	}
}

func TestReconcileRunOnce_EmptyStorage(t *testing.T) {
	env := setupStagingEnv(t)

	rs := NewReconcileService(env.store, env.m, nil, time.Hour, false, quietLogger())
	report, err := rs.RunOnce()
	if err != nil {
		t.Fatalf("RunOnce: %v", err)
	}
	if report.FilesChecked != 0 || len(report.Issues) != 0 {
		t.Errorf("Ожидался пустой отчёт, получено %+v", report)
	}
}

// blockingRunner удерживает RunWhileIdle до закрытия release.
type blockingRunner struct {
	entered chan struct{}
	release chan struct{}
}

func (b blockingRunner) RunWhileIdle(fn func(model.Document) error) error {
	close(b.entered)
	<-b.release
	return fn(model.Document{Logo: model.Logo{Position: model.PositionCenter}})
}

func TestReconcileRunOnce_ConcurrentProtection(t *testing.T) {
	env := setupStagingEnv(t)
	runner := blockingRunner{entered: make(chan struct{}), release: make(chan struct{})}
	rs := NewReconcileService(env.store, runner, nil, time.Hour, false, quietLogger())

	done := make(chan error, 1)
	go func() {
		_, err := rs.RunOnce()
		done <- err
	}()
	<-runner.entered

	if !rs.IsInProgress() {
		t.Error("IsInProgress = false во время сверки")
	}
	if _, err := rs.RunOnce(); !errors.Is(err, ErrReconcileInProgress) {
		t.Errorf("Ожидалась ErrReconcileInProgress, получено %v", err)
	}

	close(runner.release)
	if err := <-done; err != nil {
		t.Errorf("Первый запуск: %v", err)
	}
}
