// resolver.go — разрешение ссылок на файлы в дескрипторы и байты.
//
// Схемы адресации:
//   - asset://images/<name>, asset://videos/<name> — committed-хранилище
//   - temp://<name> — staged-файлы текущей сессии
//   - data:..., http(s)://... — передаются без изменений
//
// Дескрипторы кэшируются в LRU с TTL (hashicorp/golang-lru/v2/expirable)
// и инвалидируются менеджером сессии при переносе и удалении файлов.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
	"github.com/bigkaa/welcome-kiosk/internal/storage/filestore"
)

// Prometheus-метрики кэша дескрипторов.
var (
	resolverCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kc_resolver_cache_hits_total",
		Help: "Общее количество попаданий в кэш дескрипторов файлов",
	})
	resolverCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "kc_resolver_cache_misses_total",
		Help: "Общее количество промахов кэша дескрипторов файлов",
	})
)

// Scheme — схема адресации ссылки.
type Scheme string

const (
	SchemeAsset Scheme = "asset"
	SchemeTemp  Scheme = "temp"
	SchemeData  Scheme = "data"
	SchemeHTTP  Scheme = "http"
)

// ErrUnsupportedScheme — ссылка не относится ни к одной схеме.
var ErrUnsupportedScheme = errors.New("неподдерживаемая схема ссылки")

// ProtocolPrefix — префикс путей in-process протокола на admin-сервере.
const ProtocolPrefix = "/protocol"

// mimeTypes — статическая таблица MIME по расширению.
var mimeTypes = map[string]string{
	"png":  "image/png",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"gif":  "image/gif",
	"svg":  "image/svg+xml",
	"webp": "image/webp",
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"ogg":  "video/ogg",
	"ogv":  "video/ogg",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
}

// MIMEType возвращает MIME-тип по расширению имени файла.
// Неизвестные расширения — application/octet-stream.
func MIMEType(name string) string {
	if t, ok := mimeTypes[model.NormalizeExt(filepath.Ext(name))]; ok {
		return t
	}
	return "application/octet-stream"
}

// Ref — разобранная ссылка на файл.
type Ref struct {
	Scheme   Scheme
	Category model.Category
	Name     string
	raw      string
}

// ParseRef разбирает строковую ссылку.
func ParseRef(raw string) (Ref, error) {
	switch {
	case strings.HasPrefix(raw, "data:"):
		return Ref{Scheme: SchemeData, raw: raw}, nil
	case strings.HasPrefix(raw, "http://"), strings.HasPrefix(raw, "https://"):
		return Ref{Scheme: SchemeHTTP, raw: raw}, nil
	}

	if rest, ok := strings.CutPrefix(raw, "asset://"); ok {
		folder, name, ok := strings.Cut(rest, "/")
		if !ok {
			return Ref{}, fmt.Errorf("%w: ссылка без имени файла %q", filestore.ErrInvalidName, raw)
		}
		c, err := model.ParseCategory(folder)
		if err != nil {
			return Ref{}, fmt.Errorf("%w: %v", filestore.ErrInvalidCategory, err)
		}
		return newStoreRef(SchemeAsset, c, name)
	}

	if name, ok := strings.CutPrefix(raw, "temp://"); ok {
		c, _ := model.CategoryOf(name)
		return newStoreRef(SchemeTemp, c, name)
	}

	return Ref{}, fmt.Errorf("%w: %q", ErrUnsupportedScheme, raw)
}

func newStoreRef(s Scheme, c model.Category, name string) (Ref, error) {
	if decoded, err := url.PathUnescape(name); err == nil {
		name = decoded
	}
	if err := filestore.ValidateName(name); err != nil {
		return Ref{}, err
	}
	return Ref{Scheme: s, Category: c, Name: name}, nil
}

// RefFor возвращает ссылку для значения документа.
func RefFor(ref model.AssetRef, c model.Category) Ref {
	if ref.IsStaged() {
		return Ref{Scheme: SchemeTemp, Category: c, Name: ref.Name}
	}
	return Ref{Scheme: SchemeAsset, Category: c, Name: ref.Name}
}

// PassThrough возвращает true для data: и http(s) ссылок.
func (r Ref) PassThrough() bool {
	return r.Scheme == SchemeData || r.Scheme == SchemeHTTP
}

func (r Ref) String() string {
	switch r.Scheme {
	case SchemeAsset:
		return "asset://" + r.Category.Dir() + "/" + r.Name
	case SchemeTemp:
		return "temp://" + r.Name
	default:
		return r.raw
	}
}

// ProtocolPath возвращает путь in-process протокола для ссылки.
func (r Ref) ProtocolPath() string {
	switch r.Scheme {
	case SchemeAsset:
		return ProtocolPrefix + "/asset/" + r.Category.Dir() + "/" + url.PathEscape(r.Name)
	case SchemeTemp:
		return ProtocolPrefix + "/temp/" + url.PathEscape(r.Name)
	default:
		return r.raw
	}
}

// Descriptor — описание файла для отображения.
type Descriptor struct {
	Ref         string         `json:"ref"`
	Scheme      Scheme         `json:"scheme"`
	Category    model.Category `json:"category,omitempty"`
	Name        string         `json:"name,omitempty"`
	MIME        string         `json:"mime,omitempty"`
	Size        int64          `json:"size,omitempty"`
	ModTime     *time.Time     `json:"mod_time,omitempty"`
	URL         string         `json:"url"`
	StreamURL   string         `json:"stream_url,omitempty"`
	PassThrough bool           `json:"pass_through,omitempty"`
}

// Resolver — разрешение ссылок в дескрипторы и потоки байт.
type Resolver struct {
	store      *filestore.FileStore
	cache      *expirable.LRU[string, *Descriptor]
	streamBase string
	logger     *slog.Logger
}

// NewResolver создаёт Resolver.
// streamBase — базовый URL loopback-сервера (http://127.0.0.1:3001).
func NewResolver(store *filestore.FileStore, streamBase string, cacheSize int, ttl time.Duration, logger *slog.Logger) *Resolver {
	return &Resolver{
		store:      store,
		cache:      expirable.NewLRU[string, *Descriptor](cacheSize, nil, ttl),
		streamBase: strings.TrimRight(streamBase, "/"),
		logger:     logger.With(slog.String("component", "resolver")),
	}
}

// Resolve разбирает строковую ссылку и возвращает дескриптор.
func (r *Resolver) Resolve(raw string) (*Descriptor, error) {
	ref, err := ParseRef(raw)
	if err != nil {
		return nil, err
	}
	return r.Describe(ref)
}

// ResolveAsset возвращает дескриптор значения документа.
func (r *Resolver) ResolveAsset(ref model.AssetRef, c model.Category) (*Descriptor, error) {
	if ref.IsZero() {
		return nil, fmt.Errorf("%w: пустая ссылка", filestore.ErrNotFound)
	}
	return r.Describe(RefFor(ref, c))
}

// Describe возвращает дескриптор разобранной ссылки.
func (r *Resolver) Describe(ref Ref) (*Descriptor, error) {
	if ref.PassThrough() {
		return &Descriptor{Ref: ref.raw, Scheme: ref.Scheme, URL: ref.raw, PassThrough: true}, nil
	}

	key := ref.String()
	if d, ok := r.cache.Get(key); ok {
		resolverCacheHitsTotal.Inc()
		cp := *d
		return &cp, nil
	}
	resolverCacheMissesTotal.Inc()

	info, err := r.stat(ref)
	if err != nil {
		return nil, err
	}

	mod := info.ModTime.UTC()
	d := &Descriptor{
		Ref:      key,
		Scheme:   ref.Scheme,
		Category: ref.Category,
		Name:     ref.Name,
		MIME:     MIMEType(ref.Name),
		Size:     info.Size,
		ModTime:  &mod,
		URL:      ref.ProtocolPath(),
	}
	if ref.Category == model.CategoryVideo && r.streamBase != "" {
		d.StreamURL = r.StreamURL(ref)
	}

	r.cache.Add(key, d)
	cp := *d
	return &cp, nil
}

// StreamURL возвращает URL файла на loopback-сервере.
func (r *Resolver) StreamURL(ref Ref) string {
	switch ref.Scheme {
	case SchemeAsset:
		return r.streamBase + "/" + ref.Category.Dir() + "/" + url.PathEscape(ref.Name)
	case SchemeTemp:
		return r.streamBase + "/temp/" + url.PathEscape(ref.Name)
	default:
		return ref.raw
	}
}

// Open открывает байты ссылки. rng == nil — весь файл.
// Вызывающий код обязан закрыть Slice.
func (r *Resolver) Open(ref Ref, rng *filestore.ByteRange) (*filestore.Slice, error) {
	switch ref.Scheme {
	case SchemeAsset:
		return r.store.Open(ref.Category, ref.Name, rng)
	case SchemeTemp:
		return r.store.OpenTemp(ref.Name, rng)
	default:
		return nil, fmt.Errorf("%w: %s не обслуживается хранилищем", ErrUnsupportedScheme, ref.Scheme)
	}
}

func (r *Resolver) stat(ref Ref) (*filestore.FileInfo, error) {
	switch ref.Scheme {
	case SchemeAsset:
		return r.store.Stat(ref.Category, ref.Name)
	case SchemeTemp:
		return r.store.StatTemp(ref.Name)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedScheme, ref.Scheme)
	}
}

// InvalidateCommitted удаляет из кэша дескриптор committed-файла.
func (r *Resolver) InvalidateCommitted(c model.Category, name string) {
	r.cache.Remove(Ref{Scheme: SchemeAsset, Category: c, Name: name}.String())
}

// InvalidateStaged удаляет из кэша дескриптор staged-файла.
func (r *Resolver) InvalidateStaged(name string) {
	r.cache.Remove(Ref{Scheme: SchemeTemp, Name: name}.String())
}
