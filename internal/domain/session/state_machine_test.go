package session

import (
	"errors"
	"sync"
	"testing"
)

// TestNewStateMachine проверяет начальное состояние.
func TestNewStateMachine(t *testing.T) {
	sm := NewStateMachine()
	if sm.Current() != StateIdle {
		t.Errorf("ожидалось состояние idle, получено %q", sm.Current())
	}
	if !sm.CanPerform(OpBegin) {
		t.Error("в idle должна быть допустима операция begin")
	}
	if sm.CanPerform(OpStage) {
		t.Error("в idle не должна быть допустима операция stage")
	}
}

// TestTransitions проверяет матрицу переходов.
func TestTransitions(t *testing.T) {
	tests := []struct {
		name  string
		path  []State
		valid bool
	}{
		{"сохранение", []State{StateEditing, StateCommitting, StateIdle}, true},
		{"ошибка записи и повтор", []State{StateEditing, StateCommitting, StateEditing, StateCommitting, StateIdle}, true},
		{"отмена", []State{StateEditing, StateDiscarding, StateIdle}, true},
		{"idle → committing", []State{StateCommitting}, false},
		{"idle → discarding", []State{StateDiscarding}, false},
		{"discarding → editing", []State{StateEditing, StateDiscarding, StateEditing}, false},
		{"editing → idle напрямую", []State{StateEditing, StateIdle}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewStateMachine()
			var err error
			for _, s := range tt.path {
				if err = sm.TransitionTo(s, "s1"); err != nil {
					break
				}
			}
			if tt.valid && err != nil {
				t.Fatalf("неожиданная ошибка: %v", err)
			}
			if !tt.valid {
				var te *TransitionError
				if !errors.As(err, &te) {
					t.Fatalf("ожидалась TransitionError, получено %v", err)
				}
				if te.Code != CodeInvalidState {
					t.Errorf("ожидался код %s, получен %q", CodeInvalidState, te.Code)
				}
			}
		})
	}
}

// TestRequire проверяет матрицу операций.
func TestRequire(t *testing.T) {
	sm := NewStateMachine()
	_ = sm.TransitionTo(StateEditing, "s1")

	for _, op := range []Operation{OpStage, OpMutate, OpCommit, OpDiscard, OpSnapshot} {
		if err := sm.Require(op); err != nil {
			t.Errorf("editing: операция %s должна быть допустима: %v", op, err)
		}
	}
	if err := sm.Require(OpBegin); err == nil {
		t.Error("editing: повторный begin должен быть запрещён")
	}

	_ = sm.TransitionTo(StateCommitting, "s1")
	if err := sm.Require(OpMutate); err == nil {
		t.Error("committing: мутации должны быть запрещены")
	}
	if err := sm.Require(OpSnapshot); err != nil {
		t.Errorf("committing: снимок должен быть допустим: %v", err)
	}
}

// TestHistory проверяет запись и ограничение истории.
func TestHistory(t *testing.T) {
	sm := NewStateMachine()
	for i := 0; i < maxHistory; i++ {
		_ = sm.TransitionTo(StateEditing, "s")
		_ = sm.TransitionTo(StateDiscarding, "s")
		_ = sm.TransitionTo(StateIdle, "s")
	}

	h := sm.History()
	if len(h) != maxHistory {
		t.Fatalf("ожидалось %d записей, получено %d", maxHistory, len(h))
	}
	last := h[len(h)-1]
	if last.From != StateDiscarding || last.To != StateIdle {
		t.Errorf("последняя запись: ожидалось discarding → idle, получено %s → %s", last.From, last.To)
	}
}

// TestConcurrentAccess проверяет потокобезопасность.
func TestConcurrentAccess(t *testing.T) {
	sm := NewStateMachine()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_ = sm.TransitionTo(StateEditing, "s")
			_ = sm.TransitionTo(StateDiscarding, "s")
			_ = sm.TransitionTo(StateIdle, "s")
		}()
		go func() {
			defer wg.Done()
			_ = sm.Current()
			_ = sm.CanPerform(OpStage)
			_ = sm.History()
		}()
	}
	wg.Wait()
}
