// Пакет docfile — чтение и запись документа конфигурации (content_ui.json).
//
// Формат на диске совместим с комплектным файлом: ссылки на файлы —
// простые committed-имена, список на удаление не сохраняется.
// Запись атомарна: temp → fsync → rename, поэтому файл на диске
// всегда остаётся последней удачно сохранённой версией.
package docfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
	"github.com/bigkaa/welcome-kiosk/internal/storage/atomicfile"
)

// FileName — имя файла документа в директории data.
const FileName = "content_ui.json"

var (
	// ErrNotFound — файл документа отсутствует.
	ErrNotFound = errors.New("документ конфигурации не найден")
	// ErrStagedReference — документ ещё ссылается на staged-файлы.
	ErrStagedReference = errors.New("документ содержит staged-ссылки")
	// ErrInvalidDocument — файл документа повреждён или нарушает инварианты.
	ErrInvalidDocument = errors.New("недопустимый документ конфигурации")
)

// fileLogo — логотип в формате файла.
type fileLogo struct {
	Image    string `json:"image"`
	Position string `json:"position"`
}

// fileButton — опция в формате файла.
type fileButton struct {
	ID     string   `json:"id,omitempty"`
	Order  int      `json:"order"`
	Icon   string   `json:"icon"`
	Title  string   `json:"title"`
	Videos []string `json:"videos"`
}

// fileDocument — документ в формате файла.
type fileDocument struct {
	WelcomeVideos []string     `json:"welcomeVideos"`
	Logo          fileLogo     `json:"logo"`
	Buttons       []fileButton `json:"buttons"`
}

// Store — файл документа конфигурации.
type Store struct {
	path string
	mu   sync.Mutex
}

// New создаёт Store для файла path.
func New(path string) *Store {
	return &Store{path: path}
}

// Path возвращает путь к файлу документа.
func (s *Store) Path() string {
	return s.path
}

// Read читает документ. Опциям без id назначается новый UUID,
// опции сортируются по order и перенумеровываются.
func (s *Store) Read() (model.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Document{}, fmt.Errorf("%w: %s", ErrNotFound, s.path)
		}
		return model.Document{}, fmt.Errorf("ошибка чтения %s: %w", s.path, err)
	}

	var fd fileDocument
	if err := json.Unmarshal(data, &fd); err != nil {
		return model.Document{}, fmt.Errorf("%w: ошибка десериализации %s: %v", ErrInvalidDocument, s.path, err)
	}

	doc, err := fromFile(fd)
	if err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	if err := doc.Validate(); err != nil {
		return model.Document{}, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return doc, nil
}

// Write атомарно сохраняет документ.
// Документ со staged-ссылками не сохраняется (ErrStagedReference).
func (s *Store) Write(doc model.Document) error {
	if refs := doc.StagedRefs(); len(refs) > 0 {
		return fmt.Errorf("%w: %v", ErrStagedReference, refs)
	}
	if err := doc.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := atomicfile.WriteJSON(s.path, toFile(doc)); err != nil {
		return fmt.Errorf("ошибка записи документа %s: %w", s.path, err)
	}
	return nil
}

func fromFile(fd fileDocument) (model.Document, error) {
	pos, err := model.ParsePosition(fd.Logo.Position)
	if err != nil {
		return model.Document{}, err
	}

	doc := model.Document{
		Logo: model.Logo{Image: fd.Logo.Image, Position: pos},
	}
	for _, v := range fd.WelcomeVideos {
		if v != "" {
			doc.WelcomeVideos = append(doc.WelcomeVideos, model.Committed(v))
		}
	}

	buttons := make([]fileButton, len(fd.Buttons))
	copy(buttons, fd.Buttons)
	sort.SliceStable(buttons, func(i, j int) bool { return buttons[i].Order < buttons[j].Order })

	for _, b := range buttons {
		opt := model.Option{
			ID:    b.ID,
			Title: b.Title,
			Icon:  b.Icon,
		}
		if opt.ID == "" {
			opt.ID = uuid.New().String()
		}
		for _, v := range b.Videos {
			if v != "" {
				opt.Videos = append(opt.Videos, model.Committed(v))
			}
		}
		doc.Buttons = append(doc.Buttons, opt)
	}
	doc.Renumber()
	return doc, nil
}

func toFile(doc model.Document) fileDocument {
	fd := fileDocument{
		WelcomeVideos: make([]string, 0, len(doc.WelcomeVideos)),
		Logo:          fileLogo{Image: doc.Logo.Image, Position: string(doc.Logo.Position)},
		Buttons:       make([]fileButton, 0, len(doc.Buttons)),
	}
	for _, v := range doc.WelcomeVideos {
		fd.WelcomeVideos = append(fd.WelcomeVideos, v.Name)
	}
	for _, b := range doc.Buttons {
		fb := fileButton{
			ID:     b.ID,
			Order:  b.Order,
			Icon:   b.Icon,
			Title:  b.Title,
			Videos: make([]string, 0, len(b.Videos)),
		}
		for _, v := range b.Videos {
			fb.Videos = append(fb.Videos, v.Name)
		}
		fd.Buttons = append(fd.Buttons, fb)
	}
	return fd
}
