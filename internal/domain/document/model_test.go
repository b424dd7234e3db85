package document

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
)

func testDocument() model.Document {
	return model.Document{
		Logo: model.Logo{Image: "logo.png", Position: model.PositionCenter},
		Buttons: []model.Option{
			{ID: "a", Order: 1, Title: "Первая", Icon: "a.png"},
			{ID: "b", Order: 2, Title: "Вторая", Icon: "b.png"},
		},
	}
}

// TestApply_Success проверяет применение валидной мутации.
func TestApply_Success(t *testing.T) {
	m := New(testDocument())

	err := m.Apply(func(d *model.Document) error {
		return d.MoveOption("b", 1)
	})
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	doc := m.Snapshot()
	if doc.Buttons[0].ID != "b" || doc.Buttons[0].Order != 1 {
		t.Errorf("ожидалась опция b на первой позиции, получено %+v", doc.Buttons[0])
	}
}

// TestApply_RevertsOnValidationError проверяет, что отклонённая мутация
// не меняет документ.
func TestApply_RevertsOnValidationError(t *testing.T) {
	m := New(testDocument())
	before := m.Snapshot()

	err := m.Apply(func(d *model.Document) error {
		for i := 3; i <= model.MaxOptions+1; i++ {
			d.Buttons = append(d.Buttons, model.Option{
				ID: fmt.Sprintf("o%d", i), Order: i, Title: "Опция",
			})
		}
		return nil
	})

	var ve *model.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("ожидалась ValidationError, получено %v", err)
	}

	after := m.Snapshot()
	if len(after.Buttons) != len(before.Buttons) {
		t.Errorf("документ изменён: было %d опций, стало %d", len(before.Buttons), len(after.Buttons))
	}
}

// TestApply_RevertsOnMutatorError проверяет откат при ошибке мутатора,
// даже если он успел изменить копию.
func TestApply_RevertsOnMutatorError(t *testing.T) {
	m := New(testDocument())
	sentinel := errors.New("отказ")

	err := m.Apply(func(d *model.Document) error {
		d.Buttons[0].Title = "Изменено"
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("ожидалась ошибка мутатора, получено %v", err)
	}
	if m.Snapshot().Buttons[0].Title != "Первая" {
		t.Error("частичная мутация попала в документ")
	}
}

// TestSnapshot_Isolated проверяет, что снимок не связан с моделью.
func TestSnapshot_Isolated(t *testing.T) {
	m := New(testDocument())
	snap := m.Snapshot()
	snap.Buttons[0].Title = "Чужое"

	if m.Snapshot().Buttons[0].Title != "Первая" {
		t.Error("изменение снимка затронуло модель")
	}
}

// TestApply_Concurrent проверяет отсутствие гонок при параллельных мутациях.
func TestApply_Concurrent(t *testing.T) {
	m := New(testDocument())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := "a"
			if i%2 == 0 {
				id = "b"
			}
			_ = m.Apply(func(d *model.Document) error {
				return d.MoveOption(id, 2)
			})
			_ = m.Snapshot()
		}(i)
	}
	wg.Wait()

	if err := func() error { d := m.Snapshot(); return d.Validate() }(); err != nil {
		t.Errorf("документ невалиден после параллельных мутаций: %v", err)
	}
}
