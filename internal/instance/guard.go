// Пакет instance — защита от запуска второго экземпляра ядра киоска.
//
// Алгоритм:
//  1. Попытка захватить эксклюзивную блокировку flock() на {root}/.instance.lock
//  2. Если блокировка получена — pid и адрес admin API записываются в .instance.info
//  3. Если нет — возвращается ErrAlreadyRunning с данными владельца из .instance.info
//
// Блокировка снимается ядром ОС при завершении процесса, в том числе аварийном.
package instance

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/bigkaa/welcome-kiosk/internal/storage/atomicfile"
)

const (
	// lockFileName — имя файла блокировки.
	lockFileName = ".instance.lock"
	// infoFileName — имя файла с данными владельца блокировки.
	infoFileName = ".instance.info"
)

// ErrAlreadyRunning — блокировка удерживается другим процессом.
var ErrAlreadyRunning = errors.New("ядро киоска уже запущено")

// Info — данные процесса, владеющего блокировкой.
type Info struct {
	PID       int       `json:"pid"`
	AdminAddr string    `json:"admin_addr"`
	StartedAt time.Time `json:"started_at"`
}

// RunningError — ошибка захвата с данными работающего экземпляра.
type RunningError struct {
	Holder *Info
}

func (e *RunningError) Error() string {
	if e.Holder == nil {
		return ErrAlreadyRunning.Error()
	}
	return fmt.Sprintf("%s (pid %d, admin %s)", ErrAlreadyRunning, e.Holder.PID, e.Holder.AdminAddr)
}

func (e *RunningError) Unwrap() error { return ErrAlreadyRunning }

// Guard — удерживаемая блокировка экземпляра.
type Guard struct {
	dir    string
	logger *slog.Logger

	mu       sync.Mutex
	lockFile *os.File
}

// Acquire захватывает блокировку экземпляра в dir.
// Если блокировку держит другой процесс — *RunningError (errors.Is ErrAlreadyRunning).
func Acquire(dir, adminAddr string, logger *slog.Logger) (*Guard, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
	}

	lockPath := filepath.Join(dir, lockFileName)
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o640)
	if err != nil {
		return nil, fmt.Errorf("не удалось открыть lock-файл %s: %w", lockPath, err)
	}

	// Неблокирующая попытка захватить эксклюзивную блокировку
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, &RunningError{Holder: readInfo(dir)}
		}
		return nil, fmt.Errorf("ошибка flock %s: %w", lockPath, err)
	}

	g := &Guard{
		dir:      dir,
		logger:   logger.With(slog.String("component", "instance_guard")),
		lockFile: f,
	}

	info := Info{PID: os.Getpid(), AdminAddr: adminAddr, StartedAt: time.Now().UTC()}
	if err := atomicfile.WriteJSON(filepath.Join(dir, infoFileName), info); err != nil {
		g.logger.Warn("Ошибка записи .instance.info", slog.String("error", err.Error()))
	}

	g.logger.Info("Блокировка экземпляра получена",
		slog.String("lock", lockPath),
		slog.Int("pid", info.PID),
	)
	return g, nil
}

// Release снимает блокировку. Повторный вызов безопасен.
func (g *Guard) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.lockFile == nil {
		return
	}
	_ = os.Remove(filepath.Join(g.dir, infoFileName))
	_ = syscall.Flock(int(g.lockFile.Fd()), syscall.LOCK_UN)
	_ = g.lockFile.Close()
	g.lockFile = nil
	g.logger.Info("Блокировка экземпляра освобождена")
}

// readInfo читает данные владельца блокировки. nil — файл отсутствует или повреждён.
func readInfo(dir string) *Info {
	data, err := os.ReadFile(filepath.Join(dir, infoFileName))
	if err != nil {
		return nil
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil
	}
	return &info
}
