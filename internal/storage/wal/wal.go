package wal

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/bigkaa/welcome-kiosk/internal/storage/atomicfile"
)

// WAL — файловый журнал транзакций сессии.
// Сначала создаётся запись со статусом pending, затем выполняются этапы
// операции (SetPhase), затем запись коммитится или откатывается.
type WAL struct {
	dir    string
	mu     sync.Mutex
	logger *slog.Logger
}

// New создаёт журнал. Проверяет и создаёт директорию.
func New(dir string, logger *slog.Logger) (*WAL, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию WAL %s: %w", dir, err)
	}

	// Проверяем доступность на запись через temp файл
	testFile := filepath.Join(dir, ".wal_write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0o640); err != nil {
		return nil, fmt.Errorf("директория WAL %s недоступна для записи: %w", dir, err)
	}
	os.Remove(testFile)

	return &WAL{
		dir:    dir,
		logger: logger.With(slog.String("component", "wal")),
	}, nil
}

// StartTransaction создаёт запись со статусом pending и этапом started.
func (w *WAL) StartTransaction(op OperationType, sessionID string, plan Plan) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry := &Entry{
		TransactionID: uuid.New().String(),
		Operation:     op,
		Status:        StatusPending,
		Phase:         PhaseStarted,
		SessionID:     sessionID,
		Plan:          plan,
		StartedAt:     time.Now().UTC(),
	}

	if err := w.writeEntry(entry); err != nil {
		return nil, fmt.Errorf("не удалось создать WAL-запись: %w", err)
	}

	w.logger.Debug("WAL транзакция начата",
		slog.String("tx_id", entry.TransactionID),
		slog.String("operation", string(op)),
		slog.String("session_id", sessionID),
		slog.Int("promote", len(plan.Promote)),
		slog.Int("delete", len(plan.Delete)),
	)
	return entry, nil
}

// SetPhase фиксирует завершение этапа pending-транзакции.
func (w *WAL) SetPhase(txID string, phase Phase) error {
	return w.update(txID, func(e *Entry) {
		e.Phase = phase
	})
}

// Commit помечает транзакцию как успешно завершённую.
func (w *WAL) Commit(txID string) error {
	return w.update(txID, func(e *Entry) {
		now := time.Now().UTC()
		e.Status = StatusCommitted
		e.CompletedAt = &now
	})
}

// Rollback помечает транзакцию как прерванную с указанием причины.
func (w *WAL) Rollback(txID string, cause error) error {
	return w.update(txID, func(e *Entry) {
		now := time.Now().UTC()
		e.Status = StatusRolledBack
		e.CompletedAt = &now
		if cause != nil {
			e.Error = cause.Error()
		}
	})
}

// update изменяет pending-запись и атомарно перезаписывает её.
func (w *WAL) update(txID string, fn func(e *Entry)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	entry, err := w.readEntry(txID)
	if err != nil {
		return fmt.Errorf("не удалось прочитать WAL-запись %s: %w", txID, err)
	}
	if entry.Status != StatusPending {
		return fmt.Errorf("WAL-запись %s имеет статус %s, ожидается %s", txID, entry.Status, StatusPending)
	}

	fn(entry)
	if err := w.writeEntry(entry); err != nil {
		return fmt.Errorf("не удалось обновить WAL-запись %s: %w", txID, err)
	}

	w.logger.Debug("WAL-запись обновлена",
		slog.String("tx_id", txID),
		slog.String("status", string(entry.Status)),
		slog.String("phase", string(entry.Phase)),
	)
	return nil
}

// RecoverPending возвращает все записи со статусом pending.
// Вызывается при старте для обработки прерванных транзакций.
func (w *WAL) RecoverPending() ([]*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	all, err := w.scan()
	if err != nil {
		return nil, err
	}

	var pending []*Entry
	for _, entry := range all {
		if entry.Status != StatusPending {
			continue
		}
		pending = append(pending, entry)
		w.logger.Warn("Обнаружена незавершённая WAL-транзакция",
			slog.String("tx_id", entry.TransactionID),
			slog.String("operation", string(entry.Operation)),
			slog.String("phase", string(entry.Phase)),
			slog.String("session_id", entry.SessionID),
			slog.Time("started_at", entry.StartedAt),
		)
	}
	return pending, nil
}

// GetTransaction читает запись по идентификатору транзакции.
func (w *WAL) GetTransaction(txID string) (*Entry, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.readEntry(txID)
}

// CleanCommitted удаляет завершённые (committed/rolled_back) записи,
// закрытые раньше чем olderThan назад. olderThan = 0 — все завершённые.
func (w *WAL) CleanCommitted(olderThan time.Duration) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	all, err := w.scan()
	if err != nil {
		return 0, err
	}

	cutoff := time.Now().UTC().Add(-olderThan)
	cleaned := 0
	for _, entry := range all {
		if entry.Status == StatusPending || entry.CompletedAt == nil {
			continue
		}
		if olderThan > 0 && entry.CompletedAt.After(cutoff) {
			continue
		}
		path := filepath.Join(w.dir, walFileName(entry.TransactionID))
		if err := os.Remove(path); err != nil {
			w.logger.Warn("Не удалось удалить завершённую WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		cleaned++
	}

	if cleaned > 0 {
		w.logger.Info("Очистка WAL завершена", slog.Int("cleaned", cleaned))
	}
	return cleaned, nil
}

// scan читает все записи директории. Нечитаемые записи пропускаются.
func (w *WAL) scan() ([]*Entry, error) {
	paths, err := filepath.Glob(filepath.Join(w.dir, "*.wal.json"))
	if err != nil {
		return nil, fmt.Errorf("не удалось сканировать директорию WAL: %w", err)
	}

	entries := make([]*Entry, 0, len(paths))
	for _, path := range paths {
		txID := strings.TrimSuffix(filepath.Base(path), ".wal.json")
		entry, err := w.readEntry(txID)
		if err != nil {
			w.logger.Warn("Не удалось прочитать WAL-запись",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
			continue
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (w *WAL) writeEntry(entry *Entry) error {
	return atomicfile.WriteJSON(filepath.Join(w.dir, walFileName(entry.TransactionID)), entry)
}

func (w *WAL) readEntry(txID string) (*Entry, error) {
	path := filepath.Join(w.dir, walFileName(txID))

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения файла: %w", err)
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, fmt.Errorf("ошибка десериализации: %w", err)
	}
	return &entry, nil
}

// Dir возвращает путь к директории журнала.
func (w *WAL) Dir() string {
	return w.dir
}
