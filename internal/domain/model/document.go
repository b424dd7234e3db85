package model

import (
	"fmt"
	"strings"
)

// MaxOptions — максимальное количество опций на экране приветствия.
const MaxOptions = 6

// MaxTitleLength — максимальная длина заголовка опции в символах.
const MaxTitleLength = 60

// Position — положение логотипа на экране.
type Position string

const (
	PositionLeft   Position = "left"
	PositionCenter Position = "center"
	PositionRight  Position = "right"
)

// ParsePosition преобразует строку в Position.
// Принимает устаревшие значения файла content_ui.json (izquierda, centro, derecha).
func ParsePosition(s string) (Position, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "left", "izquierda":
		return PositionLeft, nil
	case "center", "centro", "":
		return PositionCenter, nil
	case "right", "derecha":
		return PositionRight, nil
	default:
		return "", fmt.Errorf("недопустимая позиция логотипа: %q, допустимые: left, center, right", s)
	}
}

// Logo — логотип: committed-изображение и необязательная staged-замена.
type Logo struct {
	// Image — имя committed-изображения (может быть пустым)
	Image string `json:"image"`
	// StagedImage — staged-изображение, перекрывающее Image до сохранения
	StagedImage string `json:"stagedImage,omitempty"`
	// Position — положение на экране
	Position Position `json:"position"`
}

// Effective возвращает ссылку, которую нужно отображать.
func (l Logo) Effective() AssetRef {
	if l.StagedImage != "" {
		return Staged(l.StagedImage)
	}
	return Committed(l.Image)
}

// Option — одна плитка выбора на экране приветствия.
type Option struct {
	// ID — стабильный идентификатор, назначается при создании
	ID string `json:"id"`
	// Order — позиция отображения, 1..len(Buttons)
	Order int `json:"order"`
	// Title — заголовок
	Title string `json:"title"`
	// Icon — имя committed-иконки (пусто до первого сохранения)
	Icon string `json:"icon"`
	// StagedIcon — staged-иконка, перекрывающая Icon до сохранения
	StagedIcon string `json:"stagedIcon,omitempty"`
	// Videos — информационные видео опции
	Videos []AssetRef `json:"videos"`
}

// EffectiveIcon возвращает ссылку на иконку, которую нужно отображать.
func (o Option) EffectiveIcon() AssetRef {
	if o.StagedIcon != "" {
		return Staged(o.StagedIcon)
	}
	return Committed(o.Icon)
}

// Document — конфигурация экрана приветствия.
type Document struct {
	WelcomeVideos []AssetRef `json:"welcomeVideos"`
	Logo          Logo       `json:"logo"`
	Buttons       []Option   `json:"buttons"`
	// PendingDeletions — committed-файлы, удаляемые при следующем успешном commit.
	// Рабочее состояние сессии, в content_ui.json не сохраняется.
	PendingDeletions []AssetKey `json:"pendingAssetDeletions"`
}

// Clone возвращает глубокую копию документа.
func (d Document) Clone() Document {
	out := d
	out.WelcomeVideos = cloneRefs(d.WelcomeVideos)
	out.PendingDeletions = append([]AssetKey(nil), d.PendingDeletions...)
	if d.Buttons != nil {
		out.Buttons = make([]Option, len(d.Buttons))
		for i, b := range d.Buttons {
			b.Videos = cloneRefs(b.Videos)
			out.Buttons[i] = b
		}
	}
	return out
}

func cloneRefs(refs []AssetRef) []AssetRef {
	if refs == nil {
		return nil
	}
	out := make([]AssetRef, len(refs))
	copy(out, refs)
	return out
}

// OptionIndex возвращает индекс опции по ID или -1.
func (d *Document) OptionIndex(id string) int {
	for i := range d.Buttons {
		if d.Buttons[i].ID == id {
			return i
		}
	}
	return -1
}

// Option возвращает указатель на опцию по ID или nil.
func (d *Document) Option(id string) *Option {
	if i := d.OptionIndex(id); i >= 0 {
		return &d.Buttons[i]
	}
	return nil
}

// Renumber присваивает order = index+1 всей последовательности.
func (d *Document) Renumber() {
	for i := range d.Buttons {
		d.Buttons[i].Order = i + 1
	}
}

// MoveOption перемещает опцию на позицию pos (1-based): удаление со старого
// индекса, вставка на новый и полная перенумерация. Позиция за пределами
// последовательности прижимается к её границам.
func (d *Document) MoveOption(id string, pos int) error {
	from := d.OptionIndex(id)
	if from < 0 {
		return fmt.Errorf("опция %s не найдена", id)
	}

	to := pos - 1
	if to < 0 {
		to = 0
	}
	if to > len(d.Buttons)-1 {
		to = len(d.Buttons) - 1
	}

	moved := d.Buttons[from]
	rest := make([]Option, 0, len(d.Buttons))
	rest = append(rest, d.Buttons[:from]...)
	rest = append(rest, d.Buttons[from+1:]...)

	result := make([]Option, 0, len(d.Buttons))
	result = append(result, rest[:to]...)
	result = append(result, moved)
	result = append(result, rest[to:]...)

	d.Buttons = result
	d.Renumber()
	return nil
}

// RemoveOption удаляет опцию и перенумеровывает оставшиеся.
// Возвращает удалённую опцию.
func (d *Document) RemoveOption(id string) (Option, error) {
	i := d.OptionIndex(id)
	if i < 0 {
		return Option{}, fmt.Errorf("опция %s не найдена", id)
	}
	removed := d.Buttons[i]
	d.Buttons = append(d.Buttons[:i:i], d.Buttons[i+1:]...)
	d.Renumber()
	return removed, nil
}

// StagedRefs возвращает все staged-имена, на которые ссылается документ.
func (d *Document) StagedRefs() []string {
	var out []string
	if d.Logo.StagedImage != "" {
		out = append(out, d.Logo.StagedImage)
	}
	for _, v := range d.WelcomeVideos {
		if v.IsStaged() {
			out = append(out, v.Name)
		}
	}
	for _, b := range d.Buttons {
		if b.StagedIcon != "" {
			out = append(out, b.StagedIcon)
		}
		for _, v := range b.Videos {
			if v.IsStaged() {
				out = append(out, v.Name)
			}
		}
	}
	return out
}

// LiveCommitted возвращает committed-файлы, которые документ отображает
// в данный момент (staged-замены перекрывают committed-значения).
func (d *Document) LiveCommitted() map[AssetKey]int {
	refs := make(map[AssetKey]int)
	add := func(c Category, ref AssetRef) {
		if ref.IsZero() || ref.IsStaged() {
			return
		}
		refs[AssetKey{Category: c, Name: ref.Name}]++
	}
	add(CategoryImage, d.Logo.Effective())
	for _, v := range d.WelcomeVideos {
		add(CategoryVideo, v)
	}
	for _, b := range d.Buttons {
		add(CategoryImage, b.EffectiveIcon())
		for _, v := range b.Videos {
			add(CategoryVideo, v)
		}
	}
	return refs
}

// IsPendingDeletion проверяет, помечен ли файл на удаление.
func (d *Document) IsPendingDeletion(key AssetKey) bool {
	for _, k := range d.PendingDeletions {
		if k == key {
			return true
		}
	}
	return false
}

// MarkForDeletion добавляет committed-файл в список на удаление, если
// документ больше нигде его не отображает. Возвращает true, если файл добавлен.
func (d *Document) MarkForDeletion(key AssetKey) bool {
	if key.Name == "" || d.IsPendingDeletion(key) {
		return false
	}
	if d.LiveCommitted()[key] > 0 {
		return false
	}
	d.PendingDeletions = append(d.PendingDeletions, key)
	return true
}

// UnmarkDeletion убирает файл из списка на удаление (файл снова используется).
func (d *Document) UnmarkDeletion(key AssetKey) {
	out := d.PendingDeletions[:0]
	for _, k := range d.PendingDeletions {
		if k != key {
			out = append(out, k)
		}
	}
	d.PendingDeletions = out
}

// PrunePendingDeletions убирает из списка на удаление файлы,
// которые документ снова отображает.
func (d *Document) PrunePendingDeletions() {
	if len(d.PendingDeletions) == 0 {
		return
	}
	live := d.LiveCommitted()
	out := d.PendingDeletions[:0]
	for _, k := range d.PendingDeletions {
		if live[k] == 0 {
			out = append(out, k)
		}
	}
	d.PendingDeletions = out
}

// References возвращает количество ссылок документа на staged-файл name.
func (d *Document) References(name string) int {
	n := 0
	for _, ref := range d.StagedRefs() {
		if ref == name {
			n++
		}
	}
	return n
}
