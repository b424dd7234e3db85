package service

import (
	"errors"
	"fmt"
)

var (
	// ErrSessionActive — сессия редактирования уже открыта.
	ErrSessionActive = errors.New("сессия редактирования уже активна")
	// ErrSessionClosed — сессия завершилась во время операции.
	ErrSessionClosed = errors.New("сессия редактирования завершена")
	// ErrPickerCancelled — пользователь закрыл диалог выбора файла.
	ErrPickerCancelled = errors.New("выбор файла отменён")
	// ErrOptionNotFound — опция с указанным ID отсутствует в документе.
	ErrOptionNotFound = errors.New("опция не найдена")
	// ErrStagedNotFound — staged-файл не принадлежит текущей сессии.
	ErrStagedNotFound = errors.New("staged-файл не найден в сессии")
)

// StorageError — непредвиденная ошибка записи, копирования или удаления файла.
type StorageError struct {
	Op   string
	Name string
	Err  error
}

func (e *StorageError) Error() string {
	if e.Name == "" {
		return fmt.Sprintf("ошибка хранилища (%s): %v", e.Op, e.Err)
	}
	return fmt.Sprintf("ошибка хранилища (%s %s): %v", e.Op, e.Name, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// PersistenceError — ошибка записи документа при сохранении.
// Сессия остаётся в состоянии editing, повторный commit безопасен.
type PersistenceError struct {
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("ошибка сохранения документа: %v", e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

// Retryable сообщает, что сохранение можно повторить.
func (e *PersistenceError) Retryable() bool { return true }
