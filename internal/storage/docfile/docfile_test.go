package docfile

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
)

// legacyDocument — документ в формате комплектного файла (без id, испанские позиции).
const legacyDocument = `{
  "welcomeVideos": ["welcome.mp4"],
  "logo": {"image": "logo.png", "position": "derecha"},
  "buttons": [
    {"order": 2, "icon": "b.png", "title": "Вторая", "videos": ["b.mp4"]},
    {"order": 1, "icon": "a.png", "title": "Первая", "videos": []}
  ]
}`

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), FileName)
	if err := os.WriteFile(path, []byte(content), 0o640); err != nil {
		t.Fatal(err)
	}
	return path
}

// TestRead_Legacy проверяет чтение комплектного формата.
func TestRead_Legacy(t *testing.T) {
	doc, err := New(writeFile(t, legacyDocument)).Read()
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}

	if doc.Logo.Position != model.PositionRight {
		t.Errorf("позиция: ожидалось right, получено %q", doc.Logo.Position)
	}
	if len(doc.Buttons) != 2 {
		t.Fatalf("ожидалось 2 опции, получено %d", len(doc.Buttons))
	}
	if doc.Buttons[0].Title != "Первая" || doc.Buttons[0].Order != 1 {
		t.Errorf("опции не отсортированы по order: %+v", doc.Buttons[0])
	}
	for i, b := range doc.Buttons {
		if b.ID == "" {
			t.Errorf("buttons[%d]: id не назначен", i)
		}
	}
	if len(doc.WelcomeVideos) != 1 || doc.WelcomeVideos[0] != model.Committed("welcome.mp4") {
		t.Errorf("приветственные видео: %+v", doc.WelcomeVideos)
	}
}

// TestWriteRead_RoundTrip проверяет сохранение и повторное чтение.
func TestWriteRead_RoundTrip(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "data", FileName))
	doc := model.Document{
		WelcomeVideos: []model.AssetRef{model.Committed("w.mp4")},
		Logo:          model.Logo{Image: "logo.png", Position: model.PositionLeft},
		Buttons: []model.Option{
			{ID: "id-1", Order: 1, Title: "Опция", Icon: "i.png", Videos: []model.AssetRef{model.Committed("v.mp4")}},
		},
		PendingDeletions: []model.AssetKey{{Category: model.CategoryImage, Name: "old.png"}},
	}

	if err := store.Write(doc); err != nil {
		t.Fatalf("ошибка записи: %v", err)
	}
	got, err := store.Read()
	if err != nil {
		t.Fatalf("ошибка чтения: %v", err)
	}

	if got.Buttons[0].ID != "id-1" || got.Buttons[0].Videos[0].Name != "v.mp4" {
		t.Errorf("опция не сохранена: %+v", got.Buttons[0])
	}
	if len(got.PendingDeletions) != 0 {
		t.Error("список на удаление не должен сохраняться")
	}

	raw, _ := os.ReadFile(store.Path())
	if strings.Contains(string(raw), "pendingAssetDeletions") {
		t.Error("файл содержит рабочее состояние сессии")
	}
}

// TestWrite_RejectsStaged проверяет отказ сохранять staged-ссылки.
func TestWrite_RejectsStaged(t *testing.T) {
	path := writeFile(t, legacyDocument)
	store := New(path)
	doc, _ := store.Read()
	doc.Logo.StagedImage = "logo_1.png"

	if err := store.Write(doc); !errors.Is(err, ErrStagedReference) {
		t.Fatalf("ожидалась ErrStagedReference, получено %v", err)
	}

	raw, _ := os.ReadFile(path)
	if string(raw) != legacyDocument {
		t.Error("файл на диске изменён отклонённой записью")
	}
}

// TestRead_Errors проверяет типизированные ошибки чтения.
func TestRead_Errors(t *testing.T) {
	if _, err := New(filepath.Join(t.TempDir(), FileName)).Read(); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалась ErrNotFound, получено %v", err)
	}
	if _, err := New(writeFile(t, "{")).Read(); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("ожидалась ErrInvalidDocument для битого JSON, получено %v", err)
	}
	if _, err := New(writeFile(t, `{"logo":{"position":"arriba"}}`)).Read(); !errors.Is(err, ErrInvalidDocument) {
		t.Errorf("ожидалась ErrInvalidDocument для неизвестной позиции, получено %v", err)
	}
}
