package filestore

import (
	"errors"
	"testing"
)

// TestParseRange проверяет разбор заголовка Range.
func TestParseRange(t *testing.T) {
	tests := []struct {
		header  string
		want    *ByteRange
		wantErr bool
	}{
		{"", nil, false},
		{"bytes=0-99", Closed(0, 99), false},
		{"bytes=100-", From(100), false},
		{"bytes=-500", &ByteRange{Suffix: 500}, false},
		{"bytes=5-1", nil, true},
		{"bytes=0-1,5-6", nil, true},
		{"items=0-1", nil, true},
		{"bytes=abc-", nil, true},
		{"bytes=-0", nil, true},
		{"bytes=", nil, true},
	}

	for _, tt := range tests {
		got, err := ParseRange(tt.header)
		if tt.wantErr {
			if !errors.Is(err, ErrRangeNotSatisfiable) {
				t.Errorf("ParseRange(%q): ожидалась ErrRangeNotSatisfiable, получено %v", tt.header, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseRange(%q): неожиданная ошибка: %v", tt.header, err)
			continue
		}
		if (got == nil) != (tt.want == nil) || (got != nil && *got != *tt.want) {
			t.Errorf("ParseRange(%q): ожидалось %+v, получено %+v", tt.header, tt.want, got)
		}
	}
}

// TestByteRange_Resolve проверяет вычисление фактических границ.
func TestByteRange_Resolve(t *testing.T) {
	tests := []struct {
		rng        ByteRange
		size       int64
		start, end int64
		wantErr    bool
	}{
		{*Closed(0, 9), 10, 0, 9, false},
		{*Closed(0, 100), 10, 0, 9, false},
		{*From(5), 10, 5, 9, false},
		{*Closed(10, 10), 10, 0, 0, true},
		{*From(0), 0, 0, 0, true},
		{ByteRange{Suffix: 3}, 10, 7, 9, false},
		{ByteRange{Suffix: 3}, 0, 0, 0, true},
		{*Closed(5, 4), 10, 0, 0, true},
	}

	for _, tt := range tests {
		start, end, err := tt.rng.Resolve(tt.size)
		if tt.wantErr {
			if !errors.Is(err, ErrRangeNotSatisfiable) {
				t.Errorf("%+v/%d: ожидалась ErrRangeNotSatisfiable, получено %v", tt.rng, tt.size, err)
			}
			continue
		}
		if err != nil || start != tt.start || end != tt.end {
			t.Errorf("%+v/%d: ожидалось [%d,%d], получено [%d,%d] err=%v",
				tt.rng, tt.size, tt.start, tt.end, start, end, err)
		}
	}
}
