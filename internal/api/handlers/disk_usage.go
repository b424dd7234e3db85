// disk_usage.go — получение информации об ёмкости диска.
// Платформозависимый код для Unix-подобных систем.
package handlers

import (
	"fmt"
	"syscall"
)

// minFreeBytes — порог свободного места, ниже которого готовность деградирует:
// загрузка видео в temp/ и перенос в assets/ могут не поместиться.
const minFreeBytes = 256 << 20

// getDiskUsage возвращает информацию о дисковом пространстве в директории.
// Возвращает total, used, available в байтах.
func getDiskUsage(path string) (total, used, available int64, err error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, 0, fmt.Errorf("ошибка statfs %s: %w", path, err)
	}

	total = int64(stat.Blocks) * int64(stat.Bsize)
	available = int64(stat.Bavail) * int64(stat.Bsize)
	used = total - available

	return total, used, available, nil
}

// checkDisk проверяет свободное место в директории данных.
func checkDisk(dir string) map[string]any {
	if dir == "" {
		return map[string]any{
			"status":  "ok",
			"message": "Проверка не настроена",
		}
	}

	total, used, available, err := getDiskUsage(dir)
	if err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": err.Error(),
		}
	}
	storageFreeBytes.Set(float64(available))

	status := "ok"
	if available < minFreeBytes {
		status = statusFail
	}
	return map[string]any{
		"status":          status,
		"total_bytes":     total,
		"used_bytes":      used,
		"available_bytes": available,
	}
}
