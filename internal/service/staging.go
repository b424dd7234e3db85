// staging.go — менеджер сессии редактирования.
//
// Manager — единственный владелец сессии: рабочая копия документа,
// staged-файлы в temp/ и журнал операций сохранения.
//
// Порядок commit:
//  1. Перенос staged-файлов в committed-хранилище (errgroup, ограниченный параллелизм)
//  2. Замена staged-ссылок на committed и запись документа
//  3. Удаление вытесненных committed-файлов (ошибки не фатальны)
//  4. Удаление staged-файлов, на которые документ не ссылается
//
// Ошибка записи документа возвращает сессию в editing: перенесённые файлы
// остаются на месте, повторный commit идемпотентен.
package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/sync/errgroup"

	"github.com/bigkaa/welcome-kiosk/internal/domain/document"
	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
	"github.com/bigkaa/welcome-kiosk/internal/domain/session"
	"github.com/bigkaa/welcome-kiosk/internal/imaging"
	"github.com/bigkaa/welcome-kiosk/internal/storage/docfile"
	"github.com/bigkaa/welcome-kiosk/internal/storage/filestore"
	"github.com/bigkaa/welcome-kiosk/internal/storage/wal"
)

// Prometheus-метрики сессии редактирования.
var (
	stagingOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kc_staging_operations_total",
		Help: "Общее количество операций сессии редактирования",
	}, []string{"operation", "result"})

	stagedFilesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "kc_staged_files",
		Help: "Количество staged-файлов в текущей сессии",
	})

	commitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "kc_commits_total",
		Help: "Общее количество попыток сохранения сессии",
	}, []string{"result"})

	commitDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "kc_commit_duration_seconds",
		Help:    "Длительность сохранения сессии в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30},
	})
)

// purposePattern — допустимая метка назначения staged-файла (logo, icon, welcome, option).
var purposePattern = regexp.MustCompile(`^[a-z][a-z0-9-]{0,31}$`)

// FilePicker — системный диалог выбора видеофайла.
type FilePicker interface {
	// PickVideo возвращает путь к выбранному файлу; ok=false — выбор отменён.
	PickVideo(ctx context.Context) (path string, ok bool, err error)
}

// Invalidator — кэш дескрипторов, сбрасываемый при переносе и удалении файлов.
type Invalidator interface {
	InvalidateCommitted(c model.Category, name string)
	InvalidateStaged(name string)
}

type noopInvalidator struct{}

func (noopInvalidator) InvalidateCommitted(model.Category, string) {}
func (noopInvalidator) InvalidateStaged(string)                    {}

// StagingConfig — ограничения сессии редактирования.
type StagingConfig struct {
	MaxImageSize       int64
	MaxVideoSize       int64
	CropSize           int
	PromoteConcurrency int
}

// StagedAsset — staged-файл, принадлежащий сессии.
type StagedAsset struct {
	Name      string         `json:"name"`
	Category  model.Category `json:"category"`
	Purpose   string         `json:"purpose"`
	Size      int64          `json:"size"`
	CreatedAt time.Time      `json:"created_at"`
}

// Ref возвращает staged-ссылку на файл.
func (a StagedAsset) Ref() model.AssetRef {
	return model.Staged(a.Name)
}

// CommitResult — результат успешного сохранения.
type CommitResult struct {
	SessionID       string           `json:"session_id"`
	TransactionID   string           `json:"transaction_id"`
	Promoted        []model.AssetKey `json:"promoted"`
	Deleted         []model.AssetKey `json:"deleted"`
	FailedDeletions []model.AssetKey `json:"failed_deletions,omitempty"`
	DiscardedStaged []string         `json:"discarded_staged"`
	Document        model.Document   `json:"document"`
	Duration        time.Duration    `json:"-"`
}

// DiscardResult — результат отмены сессии.
type DiscardResult struct {
	SessionID string   `json:"session_id"`
	Deleted   []string `json:"deleted"`
	Failed    []string `json:"failed,omitempty"`
}

// RecoveryResult — результат восстановления журнала при старте.
type RecoveryResult struct {
	Recovered int
	Deleted   []model.AssetKey
}

// Manager — менеджер сессии редактирования.
type Manager struct {
	store   *filestore.FileStore
	docs    *docfile.Store
	journal *wal.WAL
	cache   Invalidator
	cfg     StagingConfig
	logger  *slog.Logger
	now     func() time.Time

	mu        sync.Mutex
	sm        *session.StateMachine
	doc       *document.Model
	original  model.Document
	sessionID string
	staged    map[string]StagedAsset
	reserved  map[string]struct{}
	// promoted — файлы, перенесённые неудавшимся commit; удаляются при discard
	promoted   map[string]model.Category
	generation uint64
	sessionCtx context.Context
	cancel     context.CancelFunc
}

// NewManager создаёт менеджер сессии. cache может быть nil.
func NewManager(
	store *filestore.FileStore,
	docs *docfile.Store,
	journal *wal.WAL,
	cache Invalidator,
	cfg StagingConfig,
	logger *slog.Logger,
) *Manager {
	if cache == nil {
		cache = noopInvalidator{}
	}
	if cfg.PromoteConcurrency <= 0 {
		cfg.PromoteConcurrency = 1
	}
	if cfg.CropSize <= 0 {
		cfg.CropSize = imaging.DefaultMaxSize
	}
	return &Manager{
		store:    store,
		docs:     docs,
		journal:  journal,
		cache:    cache,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "staging")),
		now:      time.Now,
		sm:       session.NewStateMachine(),
		doc:      document.New(model.Document{}),
		staged:   make(map[string]StagedAsset),
		reserved: make(map[string]struct{}),
		promoted: make(map[string]model.Category),
	}
}

// --- Жизненный цикл сессии ---

// BeginEdit открывает сессию над копией doc.
func (m *Manager) BeginEdit(doc model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.beginLocked(doc)
}

// BeginFromDisk открывает сессию над сохранённым документом.
// Отсутствующий файл документа даёт пустую конфигурацию.
func (m *Manager) BeginFromDisk() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, err := m.loadSaved()
	if err != nil {
		return err
	}
	return m.beginLocked(doc)
}

func (m *Manager) beginLocked(doc model.Document) error {
	if state := m.sm.Current(); state != session.StateIdle {
		return fmt.Errorf("%w (состояние %s)", ErrSessionActive, state)
	}

	doc = doc.Clone()
	doc.PendingDeletions = nil
	if doc.Logo.Position == "" {
		doc.Logo.Position = model.PositionCenter
	}
	if refs := doc.StagedRefs(); len(refs) > 0 {
		return model.NewValidationError("document", "документ содержит staged-ссылки вне сессии: %s", strings.Join(refs, ", "))
	}
	if err := doc.Validate(); err != nil {
		return err
	}

	id := uuid.New().String()
	if err := m.sm.TransitionTo(session.StateEditing, id); err != nil {
		return err
	}

	m.sessionID = id
	m.original = doc.Clone()
	m.doc.Replace(doc)
	m.staged = make(map[string]StagedAsset)
	m.reserved = make(map[string]struct{})
	m.promoted = make(map[string]model.Category)
	m.sessionCtx, m.cancel = context.WithCancel(context.Background())
	stagedFilesGauge.Set(0)
	stagingOperationsTotal.WithLabelValues("begin", "success").Inc()

	m.logger.Info("Сессия редактирования начата",
		slog.String("session_id", id),
		slog.Int("options", len(doc.Buttons)),
	)
	return nil
}

func (m *Manager) loadSaved() (model.Document, error) {
	doc, err := m.docs.Read()
	if errors.Is(err, docfile.ErrNotFound) {
		return model.Document{Logo: model.Logo{Position: model.PositionCenter}}, nil
	}
	return doc, err
}

// Saved возвращает сохранённый на диске документ.
func (m *Manager) Saved() (model.Document, error) {
	return m.loadSaved()
}

// State возвращает состояние сессии.
func (m *Manager) State() session.State {
	return m.sm.Current()
}

// SessionID возвращает ID текущей сессии (пустая строка вне сессии).
func (m *Manager) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sm.Current() == session.StateIdle {
		return ""
	}
	return m.sessionID
}

// History возвращает последние переходы состояний сессии.
func (m *Manager) History() []session.TransitionRecord {
	return m.sm.History()
}

// Snapshot возвращает копию рабочего документа.
func (m *Manager) Snapshot() (model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.sm.Require(session.OpSnapshot); err != nil {
		return model.Document{}, err
	}
	return m.doc.Snapshot(), nil
}

// Staged возвращает staged-файлы сессии, отсортированные по имени.
func (m *Manager) Staged() []StagedAsset {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]StagedAsset, 0, len(m.staged))
	for _, a := range m.staged {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// IsTracked проверяет, принадлежит ли файл temp/ текущей сессии
// (включая файлы, запись которых ещё идёт).
func (m *Manager) IsTracked(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.staged[name]; ok {
		return true
	}
	_, ok := m.reserved[name]
	return ok
}

// RunWhileIdle выполняет fn над сохранённым документом, если сессии нет.
// Сессия не может начаться, пока fn выполняется.
func (m *Manager) RunWhileIdle(fn func(saved model.Document) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if state := m.sm.Current(); state != session.StateIdle {
		return fmt.Errorf("%w (состояние %s)", ErrSessionActive, state)
	}
	doc, err := m.loadSaved()
	if err != nil {
		return err
	}
	return fn(doc)
}

// --- Staging ---

// StageImage валидирует изображение и пишет его в temp/.
// Проверки (расширение, содержимое, размер) выполняются до записи.
func (m *Manager) StageImage(ctx context.Context, r io.Reader, ext, purpose string) (model.AssetRef, error) {
	ext, data, err := m.readImage(r, ext, purpose)
	if err != nil {
		m.countOp("stage_image", err)
		return model.AssetRef{}, err
	}
	ref, err := m.stage(ctx, model.CategoryImage, purpose, ext, int64(len(data)), func(ctx context.Context, key string) (int64, error) {
		return m.store.WriteTemp(ctx, key, bytes.NewReader(data), m.cfg.MaxImageSize)
	})
	m.countOp("stage_image", err)
	return ref, err
}

// StageCroppedImage обрезает изображение до квадрата (offset nil — по центру),
// масштабирует до CropSize и сохраняет как PNG.
func (m *Manager) StageCroppedImage(ctx context.Context, r io.Reader, ext, purpose string, offset *imaging.Offset) (model.AssetRef, error) {
	_, data, err := m.readImage(r, ext, purpose)
	if err != nil {
		m.countOp("stage_cropped_image", err)
		return model.AssetRef{}, err
	}
	png, err := imaging.CropToPNG(bytes.NewReader(data), m.cfg.CropSize, offset)
	if err != nil {
		err = model.NewValidationError("file", "не удалось обработать изображение: %v", err)
		m.countOp("stage_cropped_image", err)
		return model.AssetRef{}, err
	}
	ref, err := m.stage(ctx, model.CategoryImage, purpose, "png", int64(len(png)), func(ctx context.Context, key string) (int64, error) {
		return m.store.WriteTemp(ctx, key, bytes.NewReader(png), 0)
	})
	m.countOp("stage_cropped_image", err)
	return ref, err
}

// readImage проверяет расширение, размер и содержимое изображения.
func (m *Manager) readImage(r io.Reader, ext, purpose string) (string, []byte, error) {
	ext = model.NormalizeExt(ext)
	if !model.IsAllowedExt(model.CategoryImage, ext) {
		return "", nil, model.NewValidationError("file", "недопустимое расширение изображения %q, допустимые: png, jpg, jpeg, webp", ext)
	}
	if err := validatePurpose(purpose); err != nil {
		return "", nil, err
	}
	if err := m.sm.Require(session.OpStage); err != nil {
		return "", nil, err
	}

	data, err := io.ReadAll(io.LimitReader(r, m.cfg.MaxImageSize+1))
	if err != nil {
		return "", nil, &StorageError{Op: "read", Err: err}
	}
	if int64(len(data)) > m.cfg.MaxImageSize {
		return "", nil, fmt.Errorf("%w: изображение больше %d байт", filestore.ErrTooLarge, m.cfg.MaxImageSize)
	}
	if len(data) == 0 {
		return "", nil, model.NewValidationError("file", "пустой файл")
	}
	if err := sniffImage(data, ext); err != nil {
		return "", nil, err
	}
	return ext, data, nil
}

// sniffImage сверяет содержимое с расширением.
func sniffImage(data []byte, ext string) error {
	mt := mimetype.Detect(data)
	want := map[string]string{
		"png":  "image/png",
		"jpg":  "image/jpeg",
		"jpeg": "image/jpeg",
		"webp": "image/webp",
	}[ext]
	if !mt.Is(want) {
		return model.NewValidationError("file", "содержимое файла (%s) не соответствует расширению %s", mt.String(), ext)
	}
	return nil
}

// StageVideo копирует видеофайл sourcePath в temp/.
// Пустое ext — расширение берётся из sourcePath.
func (m *Manager) StageVideo(ctx context.Context, sourcePath, ext, purpose string) (model.AssetRef, error) {
	ref, err := m.stageVideo(ctx, sourcePath, ext, purpose)
	m.countOp("stage_video", err)
	return ref, err
}

func (m *Manager) stageVideo(ctx context.Context, sourcePath, ext, purpose string) (model.AssetRef, error) {
	if ext == "" {
		ext = filepath.Ext(sourcePath)
	}
	ext = model.NormalizeExt(ext)
	if !model.IsAllowedExt(model.CategoryVideo, ext) {
		return model.AssetRef{}, model.NewValidationError("file", "недопустимое расширение видео %q, допустимые: mp4, mov, avi, mkv, webm", ext)
	}
	if err := validatePurpose(purpose); err != nil {
		return model.AssetRef{}, err
	}
	if err := m.sm.Require(session.OpStage); err != nil {
		return model.AssetRef{}, err
	}

	info, err := os.Stat(sourcePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.AssetRef{}, fmt.Errorf("%w: %s", filestore.ErrNotFound, sourcePath)
		}
		return model.AssetRef{}, &StorageError{Op: "stat", Name: sourcePath, Err: err}
	}
	if info.IsDir() {
		return model.AssetRef{}, model.NewValidationError("path", "%s — директория", sourcePath)
	}
	if info.Size() > m.cfg.MaxVideoSize {
		return model.AssetRef{}, fmt.Errorf("%w: видео больше %d байт", filestore.ErrTooLarge, m.cfg.MaxVideoSize)
	}
	if err := sniffVideo(sourcePath); err != nil {
		return model.AssetRef{}, err
	}

	return m.stage(ctx, model.CategoryVideo, purpose, ext, info.Size(), func(ctx context.Context, key string) (int64, error) {
		return m.store.CopyToTemp(ctx, key, sourcePath, m.cfg.MaxVideoSize)
	})
}

// sniffVideo отклоняет файлы, содержимое которых явно не видео.
// Контейнеры без сигнатуры в таблице mimetype (application/octet-stream) допускаются.
func sniffVideo(path string) error {
	mt, err := mimetype.DetectFile(path)
	if err != nil {
		return &StorageError{Op: "sniff", Name: path, Err: err}
	}
	for m := mt; m != nil; m = m.Parent() {
		if strings.HasPrefix(m.String(), "video/") {
			return nil
		}
	}
	if mt.Is("application/octet-stream") {
		return nil
	}
	return model.NewValidationError("file", "содержимое файла (%s) не является видео", mt.String())
}

// StageVideoFromPicker открывает диалог выбора и копирует выбранное видео.
func (m *Manager) StageVideoFromPicker(ctx context.Context, picker FilePicker, purpose string) (model.AssetRef, error) {
	if err := m.sm.Require(session.OpStage); err != nil {
		return model.AssetRef{}, err
	}
	path, ok, err := picker.PickVideo(ctx)
	if err != nil {
		return model.AssetRef{}, fmt.Errorf("ошибка диалога выбора файла: %w", err)
	}
	if !ok {
		return model.AssetRef{}, ErrPickerCancelled
	}
	return m.StageVideo(ctx, path, "", purpose)
}

func validatePurpose(purpose string) error {
	if !purposePattern.MatchString(purpose) {
		return model.NewValidationError("purpose", "недопустимая метка назначения %q", purpose)
	}
	return nil
}

// stage резервирует уникальный ключ, пишет файл без блокировки менеджера
// и регистрирует его в сессии. Если за время записи сессия завершилась,
// записанный файл удаляется.
func (m *Manager) stage(
	ctx context.Context,
	c model.Category,
	purpose, ext string,
	size int64,
	write func(ctx context.Context, key string) (int64, error),
) (model.AssetRef, error) {
	m.mu.Lock()
	if err := m.sm.Require(session.OpStage); err != nil {
		m.mu.Unlock()
		return model.AssetRef{}, err
	}
	key := m.mintKeyLocked(purpose, ext)
	m.reserved[key] = struct{}{}
	gen := m.generation
	sctx := m.sessionCtx
	m.mu.Unlock()

	wctx, cancel := context.WithCancel(ctx)
	stop := context.AfterFunc(sctx, cancel)
	written, err := write(wctx, key)
	stop()
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reserved, key)

	if gen != m.generation {
		if err == nil {
			if _, derr := m.store.DeleteTemp(key); derr != nil {
				m.logger.Warn("Не удалось удалить файл завершённой сессии",
					slog.String("name", key),
					slog.String("error", derr.Error()),
				)
			}
		}
		return model.AssetRef{}, ErrSessionClosed
	}
	if err != nil {
		switch {
		case errors.Is(err, filestore.ErrTooLarge):
			return model.AssetRef{}, err
		case sctx.Err() != nil:
			return model.AssetRef{}, ErrSessionClosed
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			return model.AssetRef{}, err
		default:
			return model.AssetRef{}, &StorageError{Op: "stage", Name: key, Err: err}
		}
	}
	if written > 0 {
		size = written
	}

	m.staged[key] = StagedAsset{
		Name:      key,
		Category:  c,
		Purpose:   purpose,
		Size:      size,
		CreatedAt: m.now().UTC(),
	}
	stagedFilesGauge.Set(float64(len(m.staged)))

	m.logger.Info("Файл подготовлен",
		slog.String("session_id", m.sessionID),
		slog.String("name", key),
		slog.String("category", string(c)),
		slog.Int64("size", size),
	)
	return model.Staged(key), nil
}

// mintKeyLocked возвращает свободный ключ <purpose>_<unix-millis>.<ext>.
// При совпадении миллисекунды увеличиваются до свободного значения.
func (m *Manager) mintKeyLocked(purpose, ext string) string {
	ms := m.now().UnixMilli()
	for {
		key := purpose + "_" + strconv.FormatInt(ms, 10) + "." + ext
		if !m.keyTakenLocked(key) {
			return key
		}
		ms++
	}
}

func (m *Manager) keyTakenLocked(key string) bool {
	if _, ok := m.staged[key]; ok {
		return true
	}
	if _, ok := m.reserved[key]; ok {
		return true
	}
	if _, ok := m.promoted[key]; ok {
		return true
	}
	if _, err := m.store.StatTemp(key); err == nil {
		return true
	}
	for _, c := range []model.Category{model.CategoryImage, model.CategoryVideo} {
		if _, err := m.store.Stat(c, key); err == nil {
			return true
		}
	}
	return false
}

// --- Мутации документа ---

// Apply применяет произвольную мутацию к рабочему документу.
func (m *Manager) Apply(mutate func(doc *model.Document) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked("apply", mutate)
}

func (m *Manager) mutateLocked(op string, mutate func(doc *model.Document) error) error {
	if err := m.sm.Require(session.OpMutate); err != nil {
		m.countOp(op, err)
		return err
	}
	err := m.doc.Apply(func(d *model.Document) error {
		if err := mutate(d); err != nil {
			return err
		}
		d.PrunePendingDeletions()
		for _, name := range d.StagedRefs() {
			if _, ok := m.staged[name]; !ok {
				return model.NewValidationError("ref", "staged-файл %s не принадлежит сессии", name)
			}
		}
		return nil
	})
	m.countOp(op, err)
	return err
}

// checkRefLocked проверяет, что ссылка указывает на существующий файл категории c.
func (m *Manager) checkRefLocked(ref model.AssetRef, c model.Category) error {
	if ref.IsZero() {
		return model.NewValidationError("ref", "пустая ссылка на файл")
	}
	if ref.IsStaged() {
		a, ok := m.staged[ref.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrStagedNotFound, ref.Name)
		}
		if a.Category != c {
			return model.NewValidationError("ref", "файл %s имеет категорию %s, ожидается %s", ref.Name, a.Category, c)
		}
		return nil
	}
	if _, err := m.store.Stat(c, ref.Name); err != nil {
		if errors.Is(err, filestore.ErrInvalidName) {
			return model.NewValidationError("ref", "недопустимое имя файла %q", ref.Name)
		}
		return err
	}
	return nil
}

// ReplaceLogoImage заменяет изображение логотипа. Прежний committed-файл
// помечается на удаление.
func (m *Manager) ReplaceLogoImage(ref model.AssetRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked("replace_logo", func(d *model.Document) error {
		if err := m.checkRefLocked(ref, model.CategoryImage); err != nil {
			return err
		}
		old := d.Logo.Image
		if ref.IsStaged() {
			d.Logo.StagedImage = ref.Name
		} else {
			d.Logo.Image = ref.Name
			d.Logo.StagedImage = ""
		}
		if old != "" {
			d.MarkForDeletion(model.AssetKey{Category: model.CategoryImage, Name: old})
		}
		return nil
	})
}

// ReplaceOptionIcon заменяет иконку опции id.
func (m *Manager) ReplaceOptionIcon(id string, ref model.AssetRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked("replace_icon", func(d *model.Document) error {
		opt := d.Option(id)
		if opt == nil {
			return fmt.Errorf("%w: %s", ErrOptionNotFound, id)
		}
		if err := m.checkRefLocked(ref, model.CategoryImage); err != nil {
			return err
		}
		old := opt.Icon
		if ref.IsStaged() {
			opt.StagedIcon = ref.Name
		} else {
			opt.Icon = ref.Name
			opt.StagedIcon = ""
		}
		if old != "" {
			d.MarkForDeletion(model.AssetKey{Category: model.CategoryImage, Name: old})
		}
		return nil
	})
}

// RemoveStagedAsset убирает staged-файл из документа и удаляет его из temp/.
// Замещённые им committed-файлы снова отображаются и снимаются с удаления.
func (m *Manager) RemoveStagedAsset(ref model.AssetRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !ref.IsStaged() {
		return model.NewValidationError("ref", "ожидается staged-ссылка, получено %s", ref)
	}
	if _, ok := m.staged[ref.Name]; !ok {
		return fmt.Errorf("%w: %s", ErrStagedNotFound, ref.Name)
	}
	err := m.mutateLocked("remove_staged", func(d *model.Document) error {
		clearStagedRef(d, ref.Name)
		return nil
	})
	if err != nil {
		return err
	}
	return m.deleteStagedLocked(ref.Name)
}

// clearStagedRef убирает все ссылки документа на staged-файл name.
func clearStagedRef(d *model.Document, name string) {
	if d.Logo.StagedImage == name {
		d.Logo.StagedImage = ""
	}
	d.WelcomeVideos = dropRef(d.WelcomeVideos, name)
	for i := range d.Buttons {
		if d.Buttons[i].StagedIcon == name {
			d.Buttons[i].StagedIcon = ""
		}
		d.Buttons[i].Videos = dropRef(d.Buttons[i].Videos, name)
	}
}

func dropRef(refs []model.AssetRef, name string) []model.AssetRef {
	out := refs[:0]
	for _, r := range refs {
		if !(r.IsStaged() && r.Name == name) {
			out = append(out, r)
		}
	}
	return out
}

func (m *Manager) deleteStagedLocked(name string) error {
	if _, err := m.store.DeleteTemp(name); err != nil {
		return &StorageError{Op: "delete", Name: name, Err: err}
	}
	delete(m.staged, name)
	m.cache.InvalidateStaged(name)
	stagedFilesGauge.Set(float64(len(m.staged)))
	return nil
}

// AddOption добавляет опцию в конец списка.
func (m *Manager) AddOption(title string) (model.Option, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var created model.Option
	err := m.mutateLocked("add_option", func(d *model.Document) error {
		if len(d.Buttons) >= model.MaxOptions {
			return model.NewValidationError("buttons", "допускается не более %d опций", model.MaxOptions)
		}
		if err := model.ValidateTitle(title); err != nil {
			return err
		}
		created = model.Option{
			ID:     uuid.New().String(),
			Order:  len(d.Buttons) + 1,
			Title:  strings.TrimSpace(title),
			Videos: []model.AssetRef{},
		}
		d.Buttons = append(d.Buttons, created)
		return nil
	})
	if err != nil {
		return model.Option{}, err
	}
	return created, nil
}

// RenameOption меняет заголовок опции.
func (m *Manager) RenameOption(id, title string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked("rename_option", func(d *model.Document) error {
		opt := d.Option(id)
		if opt == nil {
			return fmt.Errorf("%w: %s", ErrOptionNotFound, id)
		}
		if err := model.ValidateTitle(title); err != nil {
			return err
		}
		opt.Title = strings.TrimSpace(title)
		return nil
	})
}

// DeleteOption удаляет опцию и перенумеровывает оставшиеся.
// Committed-иконка и видео опции помечаются на удаление, staged-файлы
// без других ссылок удаляются сразу.
func (m *Manager) DeleteOption(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orphans []string
	err := m.mutateLocked("delete_option", func(d *model.Document) error {
		if d.Option(id) == nil {
			return fmt.Errorf("%w: %s", ErrOptionNotFound, id)
		}
		removed, err := d.RemoveOption(id)
		if err != nil {
			return err
		}
		if removed.Icon != "" {
			d.MarkForDeletion(model.AssetKey{Category: model.CategoryImage, Name: removed.Icon})
		}
		if removed.StagedIcon != "" && d.References(removed.StagedIcon) == 0 {
			orphans = append(orphans, removed.StagedIcon)
		}
		for _, v := range removed.Videos {
			if v.IsStaged() {
				if d.References(v.Name) == 0 {
					orphans = append(orphans, v.Name)
				}
				continue
			}
			d.MarkForDeletion(model.AssetKey{Category: model.CategoryVideo, Name: v.Name})
		}
		return nil
	})
	if err != nil {
		return err
	}
	return m.deleteOrphansLocked(orphans)
}

// MoveOption перемещает опцию на позицию pos (1-based).
func (m *Manager) MoveOption(id string, pos int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked("move_option", func(d *model.Document) error {
		if d.Option(id) == nil {
			return fmt.Errorf("%w: %s", ErrOptionNotFound, id)
		}
		return d.MoveOption(id, pos)
	})
}

// SetLogoPosition меняет выравнивание логотипа.
func (m *Manager) SetLogoPosition(position string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked("logo_position", func(d *model.Document) error {
		p, err := model.ParsePosition(position)
		if err != nil {
			return model.NewValidationError("logo.position", "%v", err)
		}
		d.Logo.Position = p
		return nil
	})
}

// AddWelcomeVideo добавляет приветственное видео.
func (m *Manager) AddWelcomeVideo(ref model.AssetRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked("add_welcome_video", func(d *model.Document) error {
		if err := m.checkRefLocked(ref, model.CategoryVideo); err != nil {
			return err
		}
		d.WelcomeVideos = append(d.WelcomeVideos, ref)
		return nil
	})
}

// RemoveWelcomeVideo удаляет приветственное видео по индексу (0-based).
func (m *Manager) RemoveWelcomeVideo(index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orphans []string
	err := m.mutateLocked("remove_welcome_video", func(d *model.Document) error {
		if index < 0 || index >= len(d.WelcomeVideos) {
			return model.NewValidationError("welcomeVideos", "индекс %d вне диапазона [0, %d)", index, len(d.WelcomeVideos))
		}
		removed := d.WelcomeVideos[index]
		d.WelcomeVideos = append(d.WelcomeVideos[:index:index], d.WelcomeVideos[index+1:]...)
		orphans = releaseVideo(d, removed)
		return nil
	})
	if err != nil {
		return err
	}
	return m.deleteOrphansLocked(orphans)
}

// AddOptionVideo добавляет видео опции id.
func (m *Manager) AddOptionVideo(id string, ref model.AssetRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.mutateLocked("add_option_video", func(d *model.Document) error {
		opt := d.Option(id)
		if opt == nil {
			return fmt.Errorf("%w: %s", ErrOptionNotFound, id)
		}
		if err := m.checkRefLocked(ref, model.CategoryVideo); err != nil {
			return err
		}
		opt.Videos = append(opt.Videos, ref)
		return nil
	})
}

// RemoveOptionVideo удаляет видео опции id по индексу (0-based).
func (m *Manager) RemoveOptionVideo(id string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var orphans []string
	err := m.mutateLocked("remove_option_video", func(d *model.Document) error {
		opt := d.Option(id)
		if opt == nil {
			return fmt.Errorf("%w: %s", ErrOptionNotFound, id)
		}
		if index < 0 || index >= len(opt.Videos) {
			return model.NewValidationError("videos", "индекс %d вне диапазона [0, %d)", index, len(opt.Videos))
		}
		removed := opt.Videos[index]
		opt.Videos = append(opt.Videos[:index:index], opt.Videos[index+1:]...)
		orphans = releaseVideo(d, removed)
		return nil
	})
	if err != nil {
		return err
	}
	return m.deleteOrphansLocked(orphans)
}

// releaseVideo помечает committed-видео на удаление и возвращает
// staged-видео, на которое больше нет ссылок.
func releaseVideo(d *model.Document, removed model.AssetRef) []string {
	if removed.IsStaged() {
		if d.References(removed.Name) == 0 {
			return []string{removed.Name}
		}
		return nil
	}
	d.MarkForDeletion(model.AssetKey{Category: model.CategoryVideo, Name: removed.Name})
	return nil
}

func (m *Manager) deleteOrphansLocked(names []string) error {
	var errs []error
	for _, name := range names {
		if err := m.deleteStagedLocked(name); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// --- Commit / Discard ---

// Commit сохраняет рабочий документ.
func (m *Manager) Commit(ctx context.Context) (*CommitResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sm.Require(session.OpCommit); err != nil {
		return nil, err
	}
	start := m.now()
	sessionID := m.sessionID
	if err := m.sm.TransitionTo(session.StateCommitting, sessionID); err != nil {
		return nil, err
	}

	working := m.doc.Snapshot()
	final := committedDocument(working)
	promote := m.promotePlan(working)
	live := final.LiveCommitted()
	var deletions []model.AssetKey
	planned := make(map[model.AssetKey]bool)
	for _, k := range working.PendingDeletions {
		if live[k] == 0 && !planned[k] {
			planned[k] = true
			deletions = append(deletions, k)
		}
	}
	// Файлы прошлых неудавшихся попыток, на которые документ больше не ссылается
	for _, k := range m.promotedKeysLocked() {
		if live[k] == 0 && !planned[k] {
			planned[k] = true
			deletions = append(deletions, k)
		}
	}
	promoteSet := make(map[string]bool, len(promote))
	for _, k := range promote {
		promoteSet[k.Name] = true
	}
	var discard []string
	for name := range m.staged {
		if !promoteSet[name] {
			discard = append(discard, name)
		}
	}
	sort.Strings(discard)

	entry, err := m.journal.StartTransaction(wal.OpCommit, sessionID, wal.Plan{
		Promote: promote,
		Delete:  deletions,
		Discard: discard,
	})
	if err != nil {
		return nil, m.failCommit(nil, &StorageError{Op: "journal", Err: err})
	}
	txID := entry.TransactionID

	// 1. Перенос staged-файлов
	if err := m.promoteAll(ctx, promote); err != nil {
		return nil, m.failCommit(&txID, err)
	}
	if err := m.journal.SetPhase(txID, wal.PhasePromoted); err != nil {
		m.logger.Warn("Не удалось обновить журнал", slog.String("tx_id", txID), slog.String("error", err.Error()))
	}

	// 2. Запись документа
	if err := m.docs.Write(final); err != nil {
		return nil, m.failCommit(&txID, &PersistenceError{Err: err})
	}
	if err := m.journal.SetPhase(txID, wal.PhasePersisted); err != nil {
		m.logger.Warn("Не удалось обновить журнал", slog.String("tx_id", txID), slog.String("error", err.Error()))
	}

	result := &CommitResult{
		SessionID:     sessionID,
		TransactionID: txID,
		Promoted:      promote,
		Document:      final,
	}

	// 3. Удаление вытесненных committed-файлов
	for _, k := range deletions {
		if _, err := m.store.DeleteCommitted(k.Category, k.Name); err != nil {
			result.FailedDeletions = append(result.FailedDeletions, k)
			m.logger.Warn("Не удалось удалить вытесненный файл",
				slog.String("category", string(k.Category)),
				slog.String("name", k.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.cache.InvalidateCommitted(k.Category, k.Name)
		result.Deleted = append(result.Deleted, k)
	}

	// 4. Удаление staged-файлов без ссылок
	for _, name := range discard {
		if _, err := m.store.DeleteTemp(name); err != nil {
			m.logger.Warn("Не удалось удалить staged-файл",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.cache.InvalidateStaged(name)
		result.DiscardedStaged = append(result.DiscardedStaged, name)
	}

	if err := m.journal.Commit(txID); err != nil {
		m.logger.Warn("Не удалось завершить запись журнала", slog.String("tx_id", txID), slog.String("error", err.Error()))
	}

	m.closeSessionLocked(final)
	if err := m.sm.TransitionTo(session.StateIdle, sessionID); err != nil {
		return nil, err
	}

	result.Duration = m.now().Sub(start)
	commitsTotal.WithLabelValues("success").Inc()
	commitDurationSeconds.Observe(result.Duration.Seconds())

	m.logger.Info("Сессия сохранена",
		slog.String("session_id", sessionID),
		slog.String("tx_id", txID),
		slog.Int("promoted", len(result.Promoted)),
		slog.Int("deleted", len(result.Deleted)),
		slog.Int("failed_deletions", len(result.FailedDeletions)),
		slog.Int("discarded_staged", len(result.DiscardedStaged)),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// failCommit откатывает журнал и возвращает сессию в editing.
func (m *Manager) failCommit(txID *string, cause error) error {
	if txID != nil {
		if err := m.journal.Rollback(*txID, cause); err != nil {
			m.logger.Warn("Не удалось откатить запись журнала", slog.String("tx_id", *txID), slog.String("error", err.Error()))
		}
	}
	if err := m.sm.TransitionTo(session.StateEditing, m.sessionID); err != nil {
		return errors.Join(cause, err)
	}
	m.adoptPromotedLocked()

	result := "storage_error"
	var pe *PersistenceError
	if errors.As(cause, &pe) {
		result = "persistence_error"
	}
	commitsTotal.WithLabelValues(result).Inc()

	m.logger.Error("Ошибка сохранения сессии",
		slog.String("session_id", m.sessionID),
		slog.String("error", cause.Error()),
	)
	return cause
}

// adoptPromotedLocked переводит ссылки рабочего документа на уже перенесённые
// файлы в committed: в temp/ их больше нет. Файлы остаются в m.promoted
// и удаляются при discard.
func (m *Manager) adoptPromotedLocked() {
	if len(m.promoted) == 0 {
		return
	}
	isPromoted := func(name string) bool {
		_, ok := m.promoted[name]
		return ok
	}
	doc := m.doc.Snapshot()
	commitRefs(&doc, isPromoted)
	doc.PrunePendingDeletions()
	m.doc.Replace(doc)
	for name := range m.promoted {
		if _, ok := m.staged[name]; ok {
			delete(m.staged, name)
			m.cache.InvalidateStaged(name)
		}
	}
	stagedFilesGauge.Set(float64(len(m.staged)))
}

// promotedKeysLocked возвращает перенесённые в этой сессии файлы, по имени.
func (m *Manager) promotedKeysLocked() []model.AssetKey {
	keys := make([]model.AssetKey, 0, len(m.promoted))
	for name, c := range m.promoted {
		keys = append(keys, model.AssetKey{Category: c, Name: name})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Name < keys[j].Name })
	return keys
}

// promotePlan — staged-файлы, на которые ссылается документ, с категориями.
func (m *Manager) promotePlan(d model.Document) []model.AssetKey {
	seen := make(map[string]bool)
	var out []model.AssetKey
	for _, name := range d.StagedRefs() {
		if seen[name] {
			continue
		}
		seen[name] = true
		c := m.staged[name].Category
		if c == "" {
			c, _ = model.CategoryOf(name)
		}
		out = append(out, model.AssetKey{Category: c, Name: name})
	}
	return out
}

// promoteAll переносит файлы параллельно (не более PromoteConcurrency).
func (m *Manager) promoteAll(ctx context.Context, keys []model.AssetKey) error {
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.PromoteConcurrency)

	for _, k := range keys {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			if _, err := m.store.Promote(k.Category, k.Name); err != nil {
				return &StorageError{Op: "promote", Name: k.Name, Err: err}
			}
			mu.Lock()
			m.promoted[k.Name] = k.Category
			mu.Unlock()
			m.cache.InvalidateStaged(k.Name)
			m.cache.InvalidateCommitted(k.Category, k.Name)
			return nil
		})
	}
	return g.Wait()
}

// committedDocument заменяет staged-ссылки на committed под теми же именами.
func committedDocument(d model.Document) model.Document {
	out := d.Clone()
	commitRefs(&out, func(string) bool { return true })
	out.PendingDeletions = nil
	return out
}

// commitRefs заменяет staged-ссылки, для имён которых match == true,
// на committed под теми же именами.
func commitRefs(d *model.Document, match func(name string) bool) {
	if d.Logo.StagedImage != "" && match(d.Logo.StagedImage) {
		d.Logo.Image = d.Logo.StagedImage
		d.Logo.StagedImage = ""
	}
	for i, v := range d.WelcomeVideos {
		if v.IsStaged() && match(v.Name) {
			d.WelcomeVideos[i].Kind = model.KindCommitted
		}
	}
	for i := range d.Buttons {
		b := &d.Buttons[i]
		if b.StagedIcon != "" && match(b.StagedIcon) {
			b.Icon = b.StagedIcon
			b.StagedIcon = ""
		}
		for j, v := range b.Videos {
			if v.IsStaged() && match(v.Name) {
				b.Videos[j].Kind = model.KindCommitted
			}
		}
	}
}

// Discard отменяет сессию: прерывает незавершённые копирования, удаляет
// все staged-файлы и восстанавливает исходный документ.
func (m *Manager) Discard() (*DiscardResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.sm.Require(session.OpDiscard); err != nil {
		return nil, err
	}
	sessionID := m.sessionID
	if err := m.sm.TransitionTo(session.StateDiscarding, sessionID); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(m.staged))
	for name := range m.staged {
		names = append(names, name)
	}
	sort.Strings(names)

	promotedKeys := m.promotedKeysLocked()

	entry, err := m.journal.StartTransaction(wal.OpDiscard, sessionID, wal.Plan{
		Delete:  promotedKeys,
		Discard: names,
	})
	if err != nil {
		m.logger.Warn("Не удалось записать журнал отмены", slog.String("error", err.Error()))
	}

	result := &DiscardResult{SessionID: sessionID, Deleted: []string{}}
	for _, name := range names {
		deleted, err := m.store.DeleteTemp(name)
		if err != nil {
			result.Failed = append(result.Failed, name)
			m.logger.Warn("Не удалось удалить staged-файл",
				slog.String("name", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.cache.InvalidateStaged(name)
		if deleted {
			result.Deleted = append(result.Deleted, name)
		}
	}
	for _, k := range promotedKeys {
		if _, err := m.store.DeleteCommitted(k.Category, k.Name); err != nil {
			result.Failed = append(result.Failed, k.Name)
			m.logger.Warn("Не удалось удалить перенесённый файл",
				slog.String("name", k.Name),
				slog.String("error", err.Error()),
			)
			continue
		}
		m.cache.InvalidateCommitted(k.Category, k.Name)
		result.Deleted = append(result.Deleted, k.Name)
	}

	if entry != nil {
		if err := m.journal.Commit(entry.TransactionID); err != nil {
			m.logger.Warn("Не удалось завершить запись журнала", slog.String("error", err.Error()))
		}
	}

	m.closeSessionLocked(m.original)
	if err := m.sm.TransitionTo(session.StateIdle, sessionID); err != nil {
		return nil, err
	}
	stagingOperationsTotal.WithLabelValues("discard", "success").Inc()

	m.logger.Info("Сессия отменена",
		slog.String("session_id", sessionID),
		slog.Int("deleted", len(result.Deleted)),
		slog.Int("failed", len(result.Failed)),
	)
	return result, nil
}

// closeSessionLocked сбрасывает состояние сессии и прерывает незавершённые записи.
func (m *Manager) closeSessionLocked(doc model.Document) {
	m.generation++
	if m.cancel != nil {
		m.cancel()
	}
	m.doc.Replace(doc)
	m.original = doc.Clone()
	m.staged = make(map[string]StagedAsset)
	m.promoted = make(map[string]model.Category)
	stagedFilesGauge.Set(0)
}

// RecoverJournal обрабатывает транзакции, прерванные остановкой процесса.
// Документ на диске — последний согласованный: файлы из плана, на которые
// он не ссылается, удаляются. Вызывается при старте до открытия сессий.
func (m *Manager) RecoverJournal() (*RecoveryResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pending, err := m.journal.RecoverPending()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения журнала: %w", err)
	}
	result := &RecoveryResult{}
	if len(pending) == 0 {
		return result, nil
	}

	saved, err := m.loadSaved()
	if err != nil {
		return nil, err
	}
	live := saved.LiveCommitted()

	for _, e := range pending {
		var keys []model.AssetKey
		keys = append(keys, e.Plan.Promote...)
		keys = append(keys, e.Plan.Delete...)
		for _, k := range keys {
			if live[k] > 0 {
				continue
			}
			deleted, err := m.store.DeleteCommitted(k.Category, k.Name)
			if err != nil {
				m.logger.Warn("Не удалось удалить файл при восстановлении",
					slog.String("tx_id", e.TransactionID),
					slog.String("name", k.Name),
					slog.String("error", err.Error()),
				)
				continue
			}
			if deleted {
				result.Deleted = append(result.Deleted, k)
			}
		}
		for _, name := range e.Plan.Discard {
			_, _ = m.store.DeleteTemp(name)
		}
		for _, k := range e.Plan.Promote {
			_, _ = m.store.DeleteTemp(k.Name)
		}

		if e.Operation == wal.OpCommit && e.Phase == wal.PhasePersisted {
			err = m.journal.Commit(e.TransactionID)
		} else {
			err = m.journal.Rollback(e.TransactionID, errors.New("прервано остановкой процесса"))
		}
		if err != nil {
			m.logger.Warn("Не удалось закрыть запись журнала",
				slog.String("tx_id", e.TransactionID),
				slog.String("error", err.Error()),
			)
			continue
		}
		result.Recovered++
	}

	m.logger.Info("Журнал восстановлен",
		slog.Int("recovered", result.Recovered),
		slog.Int("deleted", len(result.Deleted)),
	)
	return result, nil
}

// countOp учитывает результат операции в метриках.
func (m *Manager) countOp(op string, err error) {
	result := "success"
	if err != nil {
		var ve *model.ValidationError
		var te *session.TransitionError
		switch {
		case errors.As(err, &ve):
			result = "validation_error"
		case errors.As(err, &te):
			result = "invalid_state"
		case errors.Is(err, filestore.ErrTooLarge):
			result = "too_large"
		default:
			result = "error"
		}
	}
	stagingOperationsTotal.WithLabelValues(op, result).Inc()
}
