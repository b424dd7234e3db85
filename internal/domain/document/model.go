// Пакет document — потокобезопасная рабочая копия конфигурации киоска.
//
// Единственная точка мутации — Apply: мутатор выполняется над глубокой
// копией, результат валидируется и только затем подменяет текущее состояние.
// При ошибке валидации предыдущее состояние остаётся нетронутым.
package document

import (
	"sync"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
)

// Model — рабочий документ редактирования.
type Model struct {
	mu  sync.RWMutex
	doc model.Document
}

// New создаёт модель с начальным документом (копируется).
func New(doc model.Document) *Model {
	return &Model{doc: doc.Clone()}
}

// Snapshot возвращает глубокую копию текущего документа.
func (m *Model) Snapshot() model.Document {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.doc.Clone()
}

// Replace заменяет документ целиком без валидации.
// Используется при начале сессии, сохранении и отмене.
func (m *Model) Replace(doc model.Document) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.doc = doc.Clone()
}

// Apply выполняет мутацию документа.
// Ошибка мутатора или валидации оставляет документ в прежнем состоянии.
func (m *Model) Apply(mutate func(doc *model.Document) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.doc.Clone()
	if err := mutate(&next); err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}
	m.doc = next
	return nil
}

// View выполняет fn над текущим документом под блокировкой чтения.
// fn не должна сохранять ссылки на срезы документа.
func (m *Model) View(fn func(doc *model.Document)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn(&m.doc)
}
