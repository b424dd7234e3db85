package filestore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
)

// SeedReport — результат начального заполнения хранилища.
type SeedReport struct {
	// Copied — количество скопированных файлов
	Copied int
	// Skipped — директории, пропущенные как уже заполненные или отсутствующие в комплекте
	Skipped []string
}

// Seed копирует комплектные assets/ и data/ из bundleDir в хранилище.
// Каждая целевая директория заполняется, только если она пуста.
// Отсутствующий источник логируется и пропускается. Повторный вызов безопасен.
func (fs *FileStore) Seed(bundleDir string, logger *slog.Logger) (*SeedReport, error) {
	logger = logger.With(slog.String("component", "seed"))
	report := &SeedReport{}

	pairs := []struct{ src, dst string }{
		{filepath.Join(bundleDir, "assets", "images"), filepath.Join(fs.assetsDir(), "images")},
		{filepath.Join(bundleDir, "assets", "videos"), filepath.Join(fs.assetsDir(), "videos")},
		{filepath.Join(bundleDir, "data"), fs.DataDir()},
	}

	for _, p := range pairs {
		if _, err := os.Stat(p.src); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				logger.Warn("Комплектная директория не найдена, пропуск",
					slog.String("source", p.src))
				report.Skipped = append(report.Skipped, p.src)
				continue
			}
			return report, fmt.Errorf("ошибка проверки %s: %w", p.src, err)
		}

		empty, err := isEmptyDir(p.dst)
		if err != nil {
			return report, err
		}
		if !empty {
			logger.Debug("Директория уже заполнена, пропуск", slog.String("target", p.dst))
			report.Skipped = append(report.Skipped, p.dst)
			continue
		}

		n, err := copyTree(p.src, p.dst)
		report.Copied += n
		if err != nil {
			return report, fmt.Errorf("ошибка копирования %s → %s: %w", p.src, p.dst, err)
		}
		logger.Info("Хранилище заполнено из комплекта",
			slog.String("source", p.src),
			slog.String("target", p.dst),
			slog.Int("files", n),
		)
	}
	return report, nil
}

func isEmptyDir(dir string) (bool, error) {
	f, err := os.Open(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("ошибка открытия %s: %w", dir, err)
	}
	defer f.Close()

	_, err = f.Readdirnames(1)
	if errors.Is(err, io.EOF) {
		return true, nil
	}
	return false, err
}

// copyTree рекурсивно копирует содержимое src в dst. Возвращает число файлов.
func copyTree(src, dst string) (int, error) {
	copied := 0
	err := filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, 0o750)
		}
		if !d.Type().IsRegular() {
			return nil
		}

		in, err := os.Open(path)
		if err != nil {
			return err
		}
		defer in.Close()
		if _, err := writeAtomic(context.Background(), target, in, 0); err != nil {
			return err
		}
		copied++
		return nil
	})
	return copied, err
}
