package wal

import (
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
)

// testLogger возвращает логгер для тестов (вывод подавляется).
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

func newTestWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := New(filepath.Join(t.TempDir(), "wal"), testLogger())
	if err != nil {
		t.Fatalf("ошибка создания WAL: %v", err)
	}
	return w
}

func testPlan() Plan {
	return Plan{
		Promote: []model.AssetKey{{Category: model.CategoryImage, Name: "logo_1.png"}},
		Delete:  []model.AssetKey{{Category: model.CategoryImage, Name: "logo_old.png"}},
	}
}

// TestNew_CreatesDirectory проверяет, что New создаёт директорию WAL.
func TestNew_CreatesDirectory(t *testing.T) {
	walDir := filepath.Join(t.TempDir(), "wal")

	w, err := New(walDir, testLogger())
	if err != nil {
		t.Fatalf("ожидалось успешное создание WAL, получена ошибка: %v", err)
	}
	if w.Dir() != walDir {
		t.Errorf("ожидался путь %s, получен %s", walDir, w.Dir())
	}
	if info, err := os.Stat(walDir); err != nil || !info.IsDir() {
		t.Fatalf("директория WAL не создана: %v", err)
	}
}

// TestNew_ReadOnlyDir проверяет ошибку при недоступной для записи директории.
func TestNew_ReadOnlyDir(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root игнорирует права доступа")
	}
	walDir := filepath.Join(t.TempDir(), "wal")
	if err := os.MkdirAll(walDir, 0o550); err != nil {
		t.Fatalf("не удалось создать директорию: %v", err)
	}

	if _, err := New(walDir, testLogger()); err == nil {
		t.Fatal("ожидалась ошибка при недоступной для записи директории")
	}
}

// TestStartTransaction проверяет создание транзакции и её содержимое на диске.
func TestStartTransaction(t *testing.T) {
	w := newTestWAL(t)

	entry, err := w.StartTransaction(OpCommit, "session-1", testPlan())
	if err != nil {
		t.Fatalf("ошибка начала транзакции: %v", err)
	}
	if entry.Status != StatusPending || entry.Phase != PhaseStarted {
		t.Errorf("ожидалось pending/started, получено %s/%s", entry.Status, entry.Phase)
	}

	data, err := os.ReadFile(filepath.Join(w.Dir(), walFileName(entry.TransactionID)))
	if err != nil {
		t.Fatalf("WAL-файл не создан: %v", err)
	}
	var onDisk Entry
	if err := json.Unmarshal(data, &onDisk); err != nil {
		t.Fatalf("невалидный JSON: %v", err)
	}
	if onDisk.SessionID != "session-1" || len(onDisk.Plan.Promote) != 1 {
		t.Errorf("неверное содержимое записи: %+v", onDisk)
	}
	if onDisk.Plan.Promote[0].Category != model.CategoryImage {
		t.Errorf("категория не сохранена: %+v", onDisk.Plan.Promote[0])
	}
}

// TestLifecycle_Commit проверяет этапы и завершение транзакции.
func TestLifecycle_Commit(t *testing.T) {
	w := newTestWAL(t)
	entry, _ := w.StartTransaction(OpCommit, "s", testPlan())

	for _, phase := range []Phase{PhasePromoted, PhasePersisted} {
		if err := w.SetPhase(entry.TransactionID, phase); err != nil {
			t.Fatalf("ошибка этапа %s: %v", phase, err)
		}
	}
	if err := w.Commit(entry.TransactionID); err != nil {
		t.Fatalf("ошибка commit: %v", err)
	}

	got, err := w.GetTransaction(entry.TransactionID)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if got.Status != StatusCommitted || got.Phase != PhasePersisted || got.CompletedAt == nil {
		t.Errorf("неверное состояние: %+v", got)
	}

	if err := w.SetPhase(entry.TransactionID, PhasePromoted); err == nil {
		t.Error("изменение завершённой транзакции должно быть запрещено")
	}
	if err := w.Commit(entry.TransactionID); err == nil {
		t.Error("повторный commit должен вернуть ошибку")
	}
}

// TestRollback проверяет сохранение причины отката.
func TestRollback(t *testing.T) {
	w := newTestWAL(t)
	entry, _ := w.StartTransaction(OpCommit, "s", testPlan())

	if err := w.Rollback(entry.TransactionID, errors.New("диск заполнен")); err != nil {
		t.Fatalf("ошибка rollback: %v", err)
	}
	got, _ := w.GetTransaction(entry.TransactionID)
	if got.Status != StatusRolledBack || got.Error != "диск заполнен" {
		t.Errorf("неверное состояние: %+v", got)
	}
	if err := w.Rollback(entry.TransactionID, nil); err == nil {
		t.Error("повторный rollback должен вернуть ошибку")
	}
}

// TestGetTransaction_NotFound проверяет ошибку для несуществующей транзакции.
func TestGetTransaction_NotFound(t *testing.T) {
	w := newTestWAL(t)
	if _, err := w.GetTransaction("missing"); err == nil {
		t.Error("ожидалась ошибка для несуществующей транзакции")
	}
}

// TestRecoverPending проверяет поиск незавершённых транзакций
// и пропуск повреждённых файлов.
func TestRecoverPending(t *testing.T) {
	w := newTestWAL(t)

	pending, _ := w.StartTransaction(OpCommit, "s1", testPlan())
	done, _ := w.StartTransaction(OpDiscard, "s2", Plan{Discard: []string{"video_1.mp4"}})
	_ = w.Commit(done.TransactionID)

	if err := os.WriteFile(filepath.Join(w.Dir(), "broken.wal.json"), []byte("{"), 0o640); err != nil {
		t.Fatal(err)
	}

	got, err := w.RecoverPending()
	if err != nil {
		t.Fatalf("ошибка восстановления: %v", err)
	}
	if len(got) != 1 || got[0].TransactionID != pending.TransactionID {
		t.Errorf("ожидалась одна pending-транзакция %s, получено %+v", pending.TransactionID, got)
	}
}

// TestCleanCommitted проверяет удаление только завершённых записей.
func TestCleanCommitted(t *testing.T) {
	w := newTestWAL(t)

	a, _ := w.StartTransaction(OpCommit, "s", testPlan())
	b, _ := w.StartTransaction(OpCommit, "s", testPlan())
	c, _ := w.StartTransaction(OpDiscard, "s", Plan{})
	_ = w.Commit(a.TransactionID)
	_ = w.Rollback(b.TransactionID, nil)

	// Свежие записи не удаляются при ненулевом возрасте
	cleaned, err := w.CleanCommitted(time.Hour)
	if err != nil || cleaned != 0 {
		t.Errorf("ожидалось 0 удалённых, получено %d (err=%v)", cleaned, err)
	}

	cleaned, err = w.CleanCommitted(0)
	if err != nil {
		t.Fatalf("ошибка очистки: %v", err)
	}
	if cleaned != 2 {
		t.Errorf("ожидалось 2 удалённых записи, получено %d", cleaned)
	}
	if _, err := w.GetTransaction(c.TransactionID); err != nil {
		t.Errorf("pending-запись не должна удаляться: %v", err)
	}
}

// TestConcurrentAccess проверяет потокобезопасность журнала.
func TestConcurrentAccess(t *testing.T) {
	w := newTestWAL(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			entry, err := w.StartTransaction(OpCommit, "s", testPlan())
			if err != nil {
				t.Errorf("ошибка начала транзакции: %v", err)
				return
			}
			_ = w.SetPhase(entry.TransactionID, PhasePromoted)
			_ = w.Commit(entry.TransactionID)
		}()
	}
	wg.Wait()

	pending, _ := w.RecoverPending()
	if len(pending) != 0 {
		t.Errorf("ожидалось 0 pending-транзакций, получено %d", len(pending))
	}
}
