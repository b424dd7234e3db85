// Пакет filestore — файловое хранилище киоска.
//
// Раскладка корня:
//
//	<root>/assets/images  — committed-изображения
//	<root>/assets/videos  — committed-видео
//	<root>/temp           — staged-файлы текущей сессии
//	<root>/data           — документ конфигурации
//
// Запись: временный .partial файл → fsync → atomic rename.
// Чтение поддерживает диапазоны байт (ByteRange).
package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
)

// partialSuffix — суффикс незавершённых файлов.
const partialSuffix = ".partial"

// FileStore — управление файлами на диске.
type FileStore struct {
	root    string
	tempDir string
	locks   *keyedMutex
}

// FileInfo — информация о файле хранилища.
type FileInfo struct {
	Name    string    `json:"name"`
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// New создаёт FileStore и директории раскладки.
// tempDir — директория staged-файлов; пустое значение означает <root>/temp.
func New(root, tempDir string) (*FileStore, error) {
	if tempDir == "" {
		tempDir = filepath.Join(root, "temp")
	}
	fs := &FileStore{root: root, tempDir: tempDir, locks: newKeyedMutex()}

	dirs := []string{
		fs.categoryDir(model.CategoryImage),
		fs.categoryDir(model.CategoryVideo),
		fs.tempDir,
		fs.DataDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("не удалось создать директорию %s: %w", dir, err)
		}
	}
	return fs, nil
}

// Root возвращает корень хранилища.
func (fs *FileStore) Root() string { return fs.root }

// DataDir возвращает директорию документа конфигурации.
func (fs *FileStore) DataDir() string { return filepath.Join(fs.root, "data") }

// TempDir возвращает директорию staged-файлов.
func (fs *FileStore) TempDir() string { return fs.tempDir }

func (fs *FileStore) assetsDir() string { return filepath.Join(fs.root, "assets") }

func (fs *FileStore) categoryDir(c model.Category) string {
	return filepath.Join(fs.assetsDir(), c.Dir())
}

// ValidateName проверяет, что имя — одиночный компонент пути без обхода корня.
func ValidateName(name string) error {
	if name == "" || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.ContainsAny(name, "/\\\x00") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: скрытые файлы недоступны: %q", ErrInvalidName, name)
	}
	return nil
}

// resolve строит путь к файлу в dir и проверяет, что он не выходит за dir.
func resolve(dir, name string) (string, error) {
	if err := ValidateName(name); err != nil {
		return "", err
	}
	full := filepath.Join(dir, name)
	rel, err := filepath.Rel(dir, full)
	if err != nil || rel != name {
		return "", fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return full, nil
}

// CommittedPath возвращает путь committed-файла.
func (fs *FileStore) CommittedPath(c model.Category, name string) (string, error) {
	if c.Dir() == "" {
		return "", fmt.Errorf("%w: %q", ErrInvalidCategory, c)
	}
	return resolve(fs.categoryDir(c), name)
}

// TempPath возвращает путь staged-файла.
func (fs *FileStore) TempPath(name string) (string, error) {
	return resolve(fs.tempDir, name)
}

// Open открывает committed-файл. rng == nil — весь файл.
// Вызывающий код обязан закрыть Slice.
func (fs *FileStore) Open(c model.Category, name string, rng *ByteRange) (*Slice, error) {
	path, err := fs.CommittedPath(c, name)
	if err != nil {
		return nil, err
	}
	return openSlice(path, rng)
}

// OpenTemp открывает staged-файл с той же семантикой, что и Open.
func (fs *FileStore) OpenTemp(name string, rng *ByteRange) (*Slice, error) {
	path, err := fs.TempPath(name)
	if err != nil {
		return nil, err
	}
	return openSlice(path, rng)
}

// Stat возвращает информацию о committed-файле.
func (fs *FileStore) Stat(c model.Category, name string) (*FileInfo, error) {
	path, err := fs.CommittedPath(c, name)
	if err != nil {
		return nil, err
	}
	return statFile(path, name)
}

// StatTemp возвращает информацию о staged-файле.
func (fs *FileStore) StatTemp(name string) (*FileInfo, error) {
	path, err := fs.TempPath(name)
	if err != nil {
		return nil, err
	}
	return statFile(path, name)
}

func statFile(path, name string) (*FileInfo, error) {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("ошибка получения информации о файле %s: %w", name, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	return &FileInfo{Name: name, Size: info.Size(), ModTime: info.ModTime()}, nil
}

// List возвращает committed-файлы категории, отсортированные по имени.
func (fs *FileStore) List(c model.Category) ([]FileInfo, error) {
	if c.Dir() == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, c)
	}
	return listDir(fs.categoryDir(c), false)
}

// ListTemp возвращает staged-файлы. Незавершённые .partial файлы не включаются.
func (fs *FileStore) ListTemp() ([]FileInfo, error) {
	return listDir(fs.tempDir, false)
}

// ListPartial возвращает незавершённые .partial файлы в temp.
func (fs *FileStore) ListPartial() ([]FileInfo, error) {
	return listDir(fs.tempDir, true)
}

func listDir(dir string, partial bool) ([]FileInfo, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("ошибка чтения директории %s: %w", dir, err)
	}

	result := make([]FileInfo, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		isPartial := strings.HasPrefix(e.Name(), ".") && strings.HasSuffix(e.Name(), partialSuffix)
		if isPartial != partial || (!partial && strings.HasPrefix(e.Name(), ".")) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			// Файл удалён между ReadDir и Info
			continue
		}
		result = append(result, FileInfo{Name: e.Name(), Size: info.Size(), ModTime: info.ModTime()})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// WriteTemp записывает поток в staged-файл name.
// Не более limit байт (limit <= 0 — без ограничения), иначе ErrTooLarge.
// При любой ошибке или отмене ctx незавершённый файл удаляется.
// Существующий файл с тем же именем не перезаписывается (ErrExists).
func (fs *FileStore) WriteTemp(ctx context.Context, name string, r io.Reader, limit int64) (int64, error) {
	path, err := fs.TempPath(name)
	if err != nil {
		return 0, err
	}

	unlock := fs.locks.Lock("temp/" + name)
	defer unlock()

	if _, err := os.Stat(path); err == nil {
		return 0, fmt.Errorf("%w: %s", ErrExists, name)
	}
	return writeAtomic(ctx, path, r, limit)
}

// CopyToTemp копирует файл srcPath в staged-файл name потоково.
func (fs *FileStore) CopyToTemp(ctx context.Context, name, srcPath string, limit int64) (int64, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, srcPath)
		}
		return 0, fmt.Errorf("ошибка открытия исходного файла %s: %w", srcPath, err)
	}
	defer src.Close()

	if limit > 0 {
		if info, err := src.Stat(); err == nil && info.Size() > limit {
			return 0, fmt.Errorf("%w: %d байт при лимите %d", ErrTooLarge, info.Size(), limit)
		}
	}
	return fs.WriteTemp(ctx, name, src, limit)
}

// DeleteTemp удаляет staged-файл. Возвращает false, если файла не было.
func (fs *FileStore) DeleteTemp(name string) (bool, error) {
	path, err := fs.TempPath(name)
	if err != nil {
		return false, err
	}

	unlock := fs.locks.Lock("temp/" + name)
	defer unlock()
	return removeFile(path, name)
}

// RemovePartial удаляет незавершённый .partial файл (используется GC).
func (fs *FileStore) RemovePartial(name string) (bool, error) {
	if !strings.HasPrefix(name, ".") || !strings.HasSuffix(name, partialSuffix) ||
		strings.ContainsAny(name, "/\\") {
		return false, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return removeFile(filepath.Join(fs.tempDir, name), name)
}

// DeleteCommitted удаляет committed-файл. Возвращает false, если файла не было.
func (fs *FileStore) DeleteCommitted(c model.Category, name string) (bool, error) {
	path, err := fs.CommittedPath(c, name)
	if err != nil {
		return false, err
	}

	unlock := fs.locks.Lock(c.Dir() + "/" + name)
	defer unlock()
	return removeFile(path, name)
}

func removeFile(path, name string) (bool, error) {
	err := os.Remove(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("ошибка удаления файла %s: %w", name, err)
}

// Promote переносит staged-файл name в committed-хранилище категории c
// под тем же именем и возвращает committed-имя.
//
// Идемпотентен: если staged-файла уже нет, а committed существует,
// возвращает имя без ошибки (повтор после частично выполненного commit).
// Для разных файловых систем копирует в скрытый .partial и переименовывает,
// поэтому недописанный committed-файл не виден читателям.
func (fs *FileStore) Promote(c model.Category, name string) (string, error) {
	src, err := fs.TempPath(name)
	if err != nil {
		return "", err
	}
	dst, err := fs.CommittedPath(c, name)
	if err != nil {
		return "", err
	}

	unlockTemp := fs.locks.Lock("temp/" + name)
	defer unlockTemp()
	unlockDst := fs.locks.Lock(c.Dir() + "/" + name)
	defer unlockDst()

	if _, err := os.Stat(src); err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("ошибка проверки staged-файла %s: %w", name, err)
		}
		if _, err := os.Stat(dst); err == nil {
			return name, nil
		}
		return "", fmt.Errorf("%w: staged-файл %s", ErrNotFound, name)
	}

	err = os.Rename(src, dst)
	if err == nil {
		return name, nil
	}
	if !errors.Is(err, syscall.EXDEV) {
		return "", fmt.Errorf("ошибка переноса %s: %w", name, err)
	}

	// Разные файловые системы: копирование через .partial
	in, err := os.Open(src)
	if err != nil {
		return "", fmt.Errorf("ошибка открытия staged-файла %s: %w", name, err)
	}
	_, err = writeAtomic(context.Background(), dst, in, 0)
	in.Close()
	if err != nil {
		return "", err
	}
	if err := os.Remove(src); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("ошибка удаления staged-файла %s после копирования: %w", name, err)
	}
	return name, nil
}

// writeAtomic пишет r в path через скрытый .partial файл.
func writeAtomic(ctx context.Context, path string, r io.Reader, limit int64) (int64, error) {
	dir, base := filepath.Split(path)
	tmpPath := filepath.Join(dir, "."+base+partialSuffix)

	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("ошибка создания временного файла: %w", err)
	}

	src := io.Reader(&ctxReader{ctx: ctx, r: r})
	if limit > 0 {
		src = io.LimitReader(src, limit+1)
	}

	size, err := io.Copy(f, src)
	if err == nil && limit > 0 && size > limit {
		err = fmt.Errorf("%w: более %d байт", ErrTooLarge, limit)
	}
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка записи данных: %w", err)
	}

	// fsync для гарантии записи на диск
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка fsync: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка закрытия файла: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return 0, fmt.Errorf("ошибка атомарного переименования: %w", err)
	}
	return size, nil
}

// ctxReader прерывает чтение при отмене контекста.
type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
