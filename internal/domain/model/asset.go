// Пакет model — доменные модели конфигурации киоска.
// Document — единая структура конфигурации экрана приветствия:
// логотип, приветственные видео и до шести опций с иконками и видео.
// Ссылки на файлы — размеченное объединение AssetRef (committed или staged),
// без различения по строковому префиксу.
package model

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
)

// Category — категория файла в committed-хранилище.
type Category string

const (
	// CategoryImage — изображения (логотип, иконки опций)
	CategoryImage Category = "image"
	// CategoryVideo — видео (приветственные и видео опций)
	CategoryVideo Category = "video"
)

// ParseCategory преобразует строку в Category.
// Принимает как единственное, так и множественное число ("images", "videos").
func ParseCategory(s string) (Category, error) {
	switch strings.ToLower(s) {
	case "image", "images":
		return CategoryImage, nil
	case "video", "videos":
		return CategoryVideo, nil
	default:
		return "", fmt.Errorf("недопустимая категория: %q, допустимые: image, video", s)
	}
}

// Dir возвращает имя поддиректории категории в assets/.
func (c Category) Dir() string {
	switch c {
	case CategoryImage:
		return "images"
	case CategoryVideo:
		return "videos"
	default:
		return ""
	}
}

// Допустимые расширения загружаемых файлов (без точки, в нижнем регистре).
var (
	imageExtensions = map[string]bool{"png": true, "jpg": true, "jpeg": true, "webp": true}
	videoExtensions = map[string]bool{"mp4": true, "mov": true, "avi": true, "mkv": true, "webm": true}
)

// NormalizeExt приводит расширение к виду без точки в нижнем регистре.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
}

// IsAllowedExt проверяет расширение по allow-list категории.
func IsAllowedExt(c Category, ext string) bool {
	ext = NormalizeExt(ext)
	switch c {
	case CategoryImage:
		return imageExtensions[ext]
	case CategoryVideo:
		return videoExtensions[ext]
	default:
		return false
	}
}

// CategoryOf определяет категорию файла по расширению имени.
// Возвращает false для неизвестных расширений.
func CategoryOf(name string) (Category, bool) {
	ext := NormalizeExt(filepath.Ext(name))
	switch {
	case imageExtensions[ext]:
		return CategoryImage, true
	case videoExtensions[ext]:
		return CategoryVideo, true
	default:
		return "", false
	}
}

// RefKind — пространство имён ссылки на файл.
type RefKind string

const (
	// KindCommitted — файл в постоянном хранилище assets/
	KindCommitted RefKind = "committed"
	// KindStaged — файл во временной директории temp/ текущей сессии
	KindStaged RefKind = "staged"
)

// AssetRef — ссылка на файл: размеченное объединение {kind, name}.
type AssetRef struct {
	Kind RefKind `json:"kind"`
	Name string  `json:"name"`
}

// Committed создаёт ссылку на committed-файл.
func Committed(name string) AssetRef {
	return AssetRef{Kind: KindCommitted, Name: name}
}

// Staged создаёт ссылку на staged-файл.
func Staged(name string) AssetRef {
	return AssetRef{Kind: KindStaged, Name: name}
}

// IsStaged возвращает true для ссылки на staged-файл.
func (r AssetRef) IsStaged() bool {
	return r.Kind == KindStaged
}

// IsZero возвращает true для пустой ссылки.
func (r AssetRef) IsZero() bool {
	return r.Name == ""
}

func (r AssetRef) String() string {
	return string(r.Kind) + ":" + r.Name
}

// UnmarshalJSON проверяет kind при десериализации.
func (r *AssetRef) UnmarshalJSON(data []byte) error {
	type plain AssetRef
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	if p.Kind != KindCommitted && p.Kind != KindStaged {
		return fmt.Errorf("недопустимый kind ссылки: %q", p.Kind)
	}
	*r = AssetRef(p)
	return nil
}

// AssetKey — адрес committed-файла: категория + имя.
type AssetKey struct {
	Category Category `json:"category"`
	Name     string   `json:"name"`
}

func (k AssetKey) String() string {
	return string(k.Category) + "/" + k.Name
}
