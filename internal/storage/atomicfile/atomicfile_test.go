package atomicfile

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestWrite проверяет запись, перезапись и отсутствие временных файлов.
func TestWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")

	if err := Write(path, []byte("v1")); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	if err := Write(path, []byte("v2")); err != nil {
		t.Fatalf("ошибка перезаписи: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}
	if string(data) != "v2" {
		t.Errorf("ожидалось v2, получено %q", data)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("остался временный файл %s", e.Name())
		}
	}
}

// TestWriteJSON проверяет сериализацию.
func TestWriteJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "v.json")
	if err := WriteJSON(path, map[string]int{"a": 1}); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	data, _ := os.ReadFile(path)
	if !strings.Contains(string(data), `"a": 1`) {
		t.Errorf("неожиданное содержимое: %s", data)
	}

	if err := WriteJSON(path, make(chan int)); err == nil {
		t.Error("ожидалась ошибка сериализации")
	}
}
