package filestore

import "errors"

var (
	// ErrNotFound — файл отсутствует.
	ErrNotFound = errors.New("файл не найден")
	// ErrRangeNotSatisfiable — диапазон некорректен или за пределами файла.
	ErrRangeNotSatisfiable = errors.New("диапазон не может быть удовлетворён")
	// ErrInvalidName — имя файла пустое, содержит разделители пути или выходит за корень.
	ErrInvalidName = errors.New("недопустимое имя файла")
	// ErrInvalidCategory — неизвестная категория.
	ErrInvalidCategory = errors.New("недопустимая категория")
	// ErrTooLarge — превышен допустимый размер файла.
	ErrTooLarge = errors.New("превышен допустимый размер файла")
	// ErrExists — файл с таким именем уже существует.
	ErrExists = errors.New("файл уже существует")
)
