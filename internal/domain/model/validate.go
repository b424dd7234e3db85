package model

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

// ValidationError — отклонённая мутация документа или недопустимые входные данные.
type ValidationError struct {
	// Field — поле, к которому относится ошибка (для вывода рядом с полем)
	Field string
	// Message — человекочитаемое описание
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// NewValidationError создаёт ValidationError.
func NewValidationError(field, format string, args ...any) *ValidationError {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// ValidateTitle проверяет заголовок опции.
func ValidateTitle(title string) error {
	trimmed := strings.TrimSpace(title)
	if trimmed == "" {
		return NewValidationError("title", "заголовок не может быть пустым")
	}
	if utf8.RuneCountInString(trimmed) > MaxTitleLength {
		return NewValidationError("title", "заголовок длиннее %d символов", MaxTitleLength)
	}
	return nil
}

// Validate проверяет структурные инварианты документа.
func (d *Document) Validate() error {
	if len(d.Buttons) > MaxOptions {
		return NewValidationError("buttons", "не более %d опций, получено %d", MaxOptions, len(d.Buttons))
	}

	switch d.Logo.Position {
	case PositionLeft, PositionCenter, PositionRight:
	default:
		return NewValidationError("logo.position", "недопустимая позиция %q", d.Logo.Position)
	}

	ids := make(map[string]bool, len(d.Buttons))
	orders := make(map[int]bool, len(d.Buttons))
	for i, b := range d.Buttons {
		field := fmt.Sprintf("buttons[%d]", i)
		if b.ID == "" {
			return NewValidationError(field+".id", "пустой идентификатор опции")
		}
		if ids[b.ID] {
			return NewValidationError(field+".id", "повторяющийся идентификатор %s", b.ID)
		}
		ids[b.ID] = true

		if b.Order < 1 || b.Order > len(d.Buttons) {
			return NewValidationError(field+".order", "order %d вне диапазона 1..%d", b.Order, len(d.Buttons))
		}
		if orders[b.Order] {
			return NewValidationError(field+".order", "повторяющийся order %d", b.Order)
		}
		orders[b.Order] = true

		if err := ValidateTitle(b.Title); err != nil {
			var ve *ValidationError
			if errors.As(err, &ve) {
				ve.Field = field + ".title"
			}
			return err
		}
	}

	live := d.LiveCommitted()
	for _, k := range d.PendingDeletions {
		if live[k] > 0 {
			return NewValidationError("pendingAssetDeletions", "файл %s помечен на удаление, но используется документом", k)
		}
	}

	return nil
}
