// Пакет session — конечный автомат сессии редактирования.
//
// Жизненный цикл:
//   - idle → editing (начало сессии)
//   - editing → committing → idle (сохранение)
//   - committing → editing (ошибка записи документа, повторная попытка возможна)
//   - editing → discarding → idle (отмена)
//
// Потокобезопасен через sync.RWMutex.
package session

import (
	"fmt"
	"sync"
	"time"
)

// State — состояние сессии редактирования.
type State string

const (
	// StateIdle — сессии нет, документ на диске актуален
	StateIdle State = "idle"
	// StateEditing — сессия открыта, допускаются staging и мутации
	StateEditing State = "editing"
	// StateCommitting — идёт сохранение
	StateCommitting State = "committing"
	// StateDiscarding — идёт отмена
	StateDiscarding State = "discarding"
)

// Operation — операция над сессией.
type Operation string

const (
	OpBegin    Operation = "begin"
	OpStage    Operation = "stage"
	OpMutate   Operation = "mutate"
	OpCommit   Operation = "commit"
	OpDiscard  Operation = "discard"
	OpSnapshot Operation = "snapshot"
)

// maxHistory — сколько последних переходов хранится.
const maxHistory = 64

// TransitionRecord — запись о переходе между состояниями.
type TransitionRecord struct {
	From      State     `json:"from"`
	To        State     `json:"to"`
	SessionID string    `json:"session_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// StateMachine — конечный автомат сессии.
type StateMachine struct {
	mu      sync.RWMutex
	current State
	history []TransitionRecord
}

// validTransitions — матрица допустимых переходов.
var validTransitions = map[State]map[State]bool{
	StateIdle:       {StateEditing: true},
	StateEditing:    {StateCommitting: true, StateDiscarding: true},
	StateCommitting: {StateIdle: true, StateEditing: true}, // → editing при ошибке записи
	StateDiscarding: {StateIdle: true},
}

// allowedOperations — матрица допустимых операций для каждого состояния.
var allowedOperations = map[State]map[Operation]bool{
	StateIdle:       {OpBegin: true},
	StateEditing:    {OpStage: true, OpMutate: true, OpCommit: true, OpDiscard: true, OpSnapshot: true},
	StateCommitting: {OpSnapshot: true},
	StateDiscarding: {},
}

// NewStateMachine создаёт автомат в состоянии idle.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		history: make([]TransitionRecord, 0),
	}
}

// Current возвращает текущее состояние.
func (sm *StateMachine) Current() State {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransitionTo проверяет, допустим ли переход.
func (sm *StateMachine) CanTransitionTo(target State) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return validTransitions[sm.current][target]
}

// TransitionTo выполняет переход в указанное состояние.
//
// Ошибки:
//   - INVALID_STATE — переход недопустим
func (sm *StateMachine) TransitionTo(target State, sessionID string) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !validTransitions[sm.current][target] {
		return &TransitionError{
			Code:    CodeInvalidState,
			From:    sm.current,
			To:      target,
			Message: fmt.Sprintf("переход %s → %s недопустим", sm.current, target),
		}
	}

	sm.history = append(sm.history, TransitionRecord{
		From:      sm.current,
		To:        target,
		SessionID: sessionID,
		Timestamp: time.Now().UTC(),
	})
	if len(sm.history) > maxHistory {
		sm.history = sm.history[len(sm.history)-maxHistory:]
	}
	sm.current = target
	return nil
}

// CanPerform проверяет, допустима ли операция в текущем состоянии.
func (sm *StateMachine) CanPerform(op Operation) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return allowedOperations[sm.current][op]
}

// Require возвращает TransitionError, если операция недопустима.
func (sm *StateMachine) Require(op Operation) error {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	if allowedOperations[sm.current][op] {
		return nil
	}
	return &TransitionError{
		Code:    CodeInvalidState,
		From:    sm.current,
		Message: fmt.Sprintf("операция %s недопустима в состоянии %s", op, sm.current),
	}
}

// History возвращает историю переходов (копия).
func (sm *StateMachine) History() []TransitionRecord {
	sm.mu.RLock()
	defer sm.mu.RUnlock()

	result := make([]TransitionRecord, len(sm.history))
	copy(result, sm.history)
	return result
}

// CodeInvalidState — код ошибки недопустимого перехода или операции.
const CodeInvalidState = "INVALID_STATE"

// TransitionError — ошибка перехода или недопустимой операции.
type TransitionError struct {
	Code    string // Машиночитаемый код
	From    State  // Состояние в момент ошибки
	To      State  // Целевое состояние (пусто для операций)
	Message string // Человекочитаемое описание
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}
