// Пакет wal — файловый журнал операций сессии редактирования.
// Каждая транзакция (commit или discard) — отдельный файл {tx_id}.wal.json.
// Незавершённые записи при старте указывают на прерванное сохранение.
package wal

import (
	"time"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
)

// OperationType — тип операции, записываемой в журнал.
type OperationType string

const (
	// OpCommit — сохранение сессии
	OpCommit OperationType = "commit"
	// OpDiscard — отмена сессии
	OpDiscard OperationType = "discard"
)

// TransactionStatus — статус транзакции.
type TransactionStatus string

const (
	// StatusPending — транзакция начата, операция в процессе
	StatusPending TransactionStatus = "pending"
	// StatusCommitted — транзакция успешно завершена
	StatusCommitted TransactionStatus = "committed"
	// StatusRolledBack — транзакция прервана ошибкой
	StatusRolledBack TransactionStatus = "rolled_back"
)

// Phase — последний завершённый этап сохранения.
type Phase string

const (
	PhaseStarted   Phase = "started"
	PhasePromoted  Phase = "promoted"
	PhasePersisted Phase = "persisted"
)

// Plan — файлы, затрагиваемые транзакцией.
type Plan struct {
	// Promote — staged-файлы, переносимые в committed-хранилище
	Promote []model.AssetKey `json:"promote,omitempty"`
	// Delete — committed-файлы, удаляемые после записи документа
	Delete []model.AssetKey `json:"delete,omitempty"`
	// Discard — staged-файлы, удаляемые без переноса
	Discard []string `json:"discard,omitempty"`
}

// Entry — запись журнала. Хранится как JSON-файл {tx_id}.wal.json.
type Entry struct {
	// TransactionID — уникальный идентификатор транзакции (UUID v4)
	TransactionID string `json:"transaction_id"`

	// Operation — тип операции
	Operation OperationType `json:"operation"`

	// Status — текущий статус транзакции
	Status TransactionStatus `json:"status"`

	// Phase — последний завершённый этап
	Phase Phase `json:"phase"`

	// SessionID — сессия редактирования, к которой относится транзакция
	SessionID string `json:"session_id"`

	// Plan — затрагиваемые файлы
	Plan Plan `json:"plan"`

	// Error — причина отката (для rolled_back)
	Error string `json:"error,omitempty"`

	// StartedAt — время начала транзакции (UTC)
	StartedAt time.Time `json:"started_at"`

	// CompletedAt — время завершения транзакции (UTC).
	// nil для pending транзакций.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

func walFileName(txID string) string {
	return txID + ".wal.json"
}
