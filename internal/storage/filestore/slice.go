package filestore

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Slice — открытый для чтения отрезок файла [Start, End].
type Slice struct {
	f *os.File
	r io.Reader

	// Start, End — границы отрезка включительно (End = -1 для пустого файла)
	Start int64
	End   int64
	// Size — полный размер файла
	Size int64
	// ModTime — время модификации файла
	ModTime time.Time
	// Partial — true, если был запрошен диапазон
	Partial bool
}

// Length возвращает количество байт отрезка.
func (s *Slice) Length() int64 {
	return s.End - s.Start + 1
}

func (s *Slice) Read(p []byte) (int, error) {
	return s.r.Read(p)
}

// Close закрывает файл.
func (s *Slice) Close() error {
	return s.f.Close()
}

func openSlice(path string, rng *ByteRange) (*Slice, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("ошибка открытия файла %s: %w", path, err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", path, err)
	}
	if info.IsDir() {
		f.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	s := &Slice{f: f, Size: info.Size(), ModTime: info.ModTime(), Start: 0, End: info.Size() - 1}
	if rng != nil {
		start, end, err := rng.Resolve(info.Size())
		if err != nil {
			f.Close()
			return nil, err
		}
		s.Start, s.End, s.Partial = start, end, true
	}

	if s.Start > 0 {
		if _, err := f.Seek(s.Start, io.SeekStart); err != nil {
			f.Close()
			return nil, fmt.Errorf("ошибка позиционирования в файле %s: %w", path, err)
		}
	}
	s.r = io.LimitReader(f, s.Length())
	return s, nil
}
