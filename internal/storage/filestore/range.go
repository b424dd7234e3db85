package filestore

import (
	"fmt"
	"strconv"
	"strings"
)

// ByteRange — запрошенный диапазон байт (границы включительно).
//
// Формы заголовка Range:
//   - bytes=a-b — Start=a, End=b
//   - bytes=a-  — Start=a, End=-1 (до конца файла)
//   - bytes=-n  — Suffix=n (последние n байт)
type ByteRange struct {
	Start  int64
	End    int64
	Suffix int64
}

// Closed создаёт диапазон [start, end].
func Closed(start, end int64) *ByteRange {
	return &ByteRange{Start: start, End: end}
}

// From создаёт диапазон [start, конец файла].
func From(start int64) *ByteRange {
	return &ByteRange{Start: start, End: -1}
}

// Resolve вычисляет фактические границы [start, end] для файла размером size.
// Открытый или выходящий за файл конец прижимается к size-1.
// Начало за пределами файла даёт ErrRangeNotSatisfiable.
func (r ByteRange) Resolve(size int64) (int64, int64, error) {
	if r.Suffix > 0 {
		if size == 0 {
			return 0, 0, ErrRangeNotSatisfiable
		}
		n := r.Suffix
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	if r.End >= 0 && r.End < r.Start {
		return 0, 0, fmt.Errorf("%w: конец %d меньше начала %d", ErrRangeNotSatisfiable, r.End, r.Start)
	}
	if r.Start < 0 || r.Start >= size {
		return 0, 0, fmt.Errorf("%w: начало %d при размере %d", ErrRangeNotSatisfiable, r.Start, size)
	}
	end := r.End
	if end < 0 || end >= size {
		end = size - 1
	}
	return r.Start, end, nil
}

// ParseRange разбирает значение заголовка Range.
// Пустой заголовок — запрос всего файла (nil, nil).
// Несколько диапазонов и неизвестные единицы считаются некорректными.
func ParseRange(header string) (*ByteRange, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return nil, nil
	}

	spec, ok := strings.CutPrefix(header, "bytes=")
	if !ok {
		return nil, fmt.Errorf("%w: неизвестная единица в %q", ErrRangeNotSatisfiable, header)
	}
	if strings.Contains(spec, ",") {
		return nil, fmt.Errorf("%w: несколько диапазонов не поддерживаются", ErrRangeNotSatisfiable)
	}

	startStr, endStr, ok := strings.Cut(strings.TrimSpace(spec), "-")
	if !ok {
		return nil, fmt.Errorf("%w: некорректный диапазон %q", ErrRangeNotSatisfiable, header)
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return nil, fmt.Errorf("%w: некорректный суффикс %q", ErrRangeNotSatisfiable, header)
		}
		return &ByteRange{Suffix: n}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return nil, fmt.Errorf("%w: некорректное начало %q", ErrRangeNotSatisfiable, header)
	}
	if endStr == "" {
		return From(start), nil
	}
	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return nil, fmt.Errorf("%w: некорректный конец %q", ErrRangeNotSatisfiable, header)
	}
	return Closed(start, end), nil
}
