package instance

import (
	"errors"
	"log/slog"
	"os"
	"testing"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// TestAcquire_SingleInstance — первый экземпляр получает блокировку.
func TestAcquire_SingleInstance(t *testing.T) {
	dir := t.TempDir()

	g, err := Acquire(dir, ":8080", newTestLogger())
	if err != nil {
		t.Fatalf("Ошибка Acquire: %v", err)
	}
	defer g.Release()

	info := readInfo(dir)
	if info == nil {
		t.Fatal("Файл .instance.info не записан")
	}
	if info.PID != os.Getpid() || info.AdminAddr != ":8080" {
		t.Errorf("Неожиданные данные владельца: %+v", info)
	}
}

// TestAcquire_SecondInstance — второй захват отклоняется с данными владельца.
func TestAcquire_SecondInstance(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, ":8080", newTestLogger())
	if err != nil {
		t.Fatalf("Ошибка Acquire: %v", err)
	}
	defer first.Release()

	_, err = Acquire(dir, ":8081", newTestLogger())
	if !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("Ожидалась ErrAlreadyRunning, получено %v", err)
	}
	var running *RunningError
	if !errors.As(err, &running) || running.Holder == nil || running.Holder.AdminAddr != ":8080" {
		t.Errorf("Ожидались данные первого экземпляра, получено %v", err)
	}
}

// TestRelease_AllowsReacquire — после Release блокировку можно получить снова.
func TestRelease_AllowsReacquire(t *testing.T) {
	dir := t.TempDir()

	first, err := Acquire(dir, ":8080", newTestLogger())
	if err != nil {
		t.Fatalf("Ошибка Acquire: %v", err)
	}
	first.Release()
	first.Release()

	second, err := Acquire(dir, ":8081", newTestLogger())
	if err != nil {
		t.Fatalf("Повторный Acquire после Release: %v", err)
	}
	second.Release()
}
