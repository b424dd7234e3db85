// session.go — обработчики /api/v1/session/*: сессия редактирования,
// загрузка файлов и мутации документа. Требуют токен администратора.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/welcome-kiosk/internal/api/errors"
	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
	"github.com/bigkaa/welcome-kiosk/internal/domain/session"
	"github.com/bigkaa/welcome-kiosk/internal/imaging"
	"github.com/bigkaa/welcome-kiosk/internal/service"
)

// multipartOverhead — запас на заголовки и поля multipart сверх размера файла.
const multipartOverhead = 1 << 20

// multipartMemory — часть формы, удерживаемая в памяти при разборе.
const multipartMemory = 8 << 20

// SessionHandler — обработчик endpoints сессии редактирования.
type SessionHandler struct {
	manager      *service.Manager
	resolver     *service.Resolver
	maxImageSize int64
	logger       *slog.Logger
}

// NewSessionHandler создаёт обработчик сессии.
// maxImageSize ограничивает тело multipart-запроса загрузки изображения.
func NewSessionHandler(manager *service.Manager, resolver *service.Resolver, maxImageSize int64, logger *slog.Logger) *SessionHandler {
	return &SessionHandler{
		manager:      manager,
		resolver:     resolver,
		maxImageSize: maxImageSize,
		logger:       logger.With(slog.String("component", "session_handler")),
	}
}

// Routes регистрирует маршруты сессии.
func (h *SessionHandler) Routes(r chi.Router) {
	r.Get("/", h.GetSession)
	r.Post("/begin", h.Begin)
	r.Post("/commit", h.Commit)
	r.Post("/discard", h.Discard)

	r.Post("/images", h.StageImage)
	r.Post("/videos", h.StageVideo)
	r.Delete("/staged", h.RemoveStaged)

	r.Put("/logo", h.ReplaceLogo)
	r.Put("/logo/position", h.SetLogoPosition)

	r.Post("/welcome-videos", h.AddWelcomeVideo)
	r.Delete("/welcome-videos/{index}", h.RemoveWelcomeVideo)

	r.Post("/options", h.AddOption)
	r.Route("/options/{id}", func(r chi.Router) {
		r.Patch("/", h.RenameOption)
		r.Delete("/", h.DeleteOption)
		r.Put("/icon", h.ReplaceOptionIcon)
		r.Put("/position", h.MoveOption)
		r.Post("/videos", h.AddOptionVideo)
		r.Delete("/videos/{index}", h.RemoveOptionVideo)
	})
}

// sessionResponse — состояние сессии и рабочий документ.
type sessionResponse struct {
	State     session.State         `json:"state"`
	SessionID string                `json:"session_id,omitempty"`
	Document  *model.Document       `json:"document,omitempty"`
	Staged    []service.StagedAsset `json:"staged,omitempty"`
}

// stagedResponse — результат загрузки файла в temp/.
type stagedResponse struct {
	Ref        model.AssetRef      `json:"ref"`
	Descriptor *service.Descriptor `json:"descriptor,omitempty"`
}

// refRequest — тело запросов, устанавливающих ссылку на файл.
type refRequest struct {
	Ref model.AssetRef `json:"ref"`
}

// GetSession обрабатывает GET /api/v1/session.
func (h *SessionHandler) GetSession(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.snapshot())
}

func (h *SessionHandler) snapshot() sessionResponse {
	resp := sessionResponse{State: h.manager.State(), SessionID: h.manager.SessionID()}
	if doc, err := h.manager.Snapshot(); err == nil {
		resp.Document = &doc
		resp.Staged = h.manager.Staged()
	}
	return resp
}

// Begin обрабатывает POST /api/v1/session/begin.
// Открывает сессию над сохранённым документом.
func (h *SessionHandler) Begin(w http.ResponseWriter, _ *http.Request) {
	if err := h.manager.BeginFromDisk(); err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

// Commit обрабатывает POST /api/v1/session/commit.
// При PERSISTENCE_ERROR сессия остаётся открытой, запрос можно повторить.
func (h *SessionHandler) Commit(w http.ResponseWriter, r *http.Request) {
	result, err := h.manager.Commit(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Discard обрабатывает POST /api/v1/session/discard.
func (h *SessionHandler) Discard(w http.ResponseWriter, _ *http.Request) {
	result, err := h.manager.Discard()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// StageImage обрабатывает POST /api/v1/session/images (multipart/form-data).
// Поля: file (обязательно), purpose, crop (true — квадратная обрезка),
// offset_x, offset_y (смещение окна обрезки, оба или ни одного).
func (h *SessionHandler) StageImage(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxImageSize+multipartOverhead)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			apierrors.FileTooLarge(w, "Размер запроса превышает лимит загрузки изображения")
			return
		}
		apierrors.ValidationError(w, "Некорректный multipart-запрос: "+err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		apierrors.FieldValidationError(w, "file", "Отсутствует файл")
		return
	}
	defer file.Close()

	ext := filepath.Ext(header.Filename)
	purpose := r.FormValue("purpose")

	crop, err := parseOptionalBool(r.FormValue("crop"))
	if err != nil {
		apierrors.FieldValidationError(w, "crop", err.Error())
		return
	}

	var ref model.AssetRef
	if crop {
		offset, err := parseOffset(r.FormValue("offset_x"), r.FormValue("offset_y"))
		if err != nil {
			apierrors.FieldValidationError(w, "offset", err.Error())
			return
		}
		ref, err = h.manager.StageCroppedImage(r.Context(), file, ext, purpose, offset)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
	} else {
		ref, err = h.manager.StageImage(r.Context(), file, ext, purpose)
		if err != nil {
			writeServiceError(w, h.logger, err)
			return
		}
	}

	h.writeStaged(w, ref, model.CategoryImage)
}

// stageVideoRequest — тело POST /api/v1/session/videos.
type stageVideoRequest struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose"`
}

// StageVideo обрабатывает POST /api/v1/session/videos.
// Видео копируется с локального пути, выбранного в диалоге оболочки.
func (h *SessionHandler) StageVideo(w http.ResponseWriter, r *http.Request) {
	var req stageVideoRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Path) == "" {
		apierrors.FieldValidationError(w, "path", "Путь к файлу обязателен")
		return
	}

	ref, err := h.manager.StageVideo(r.Context(), req.Path, "", req.Purpose)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	h.writeStaged(w, ref, model.CategoryVideo)
}

func (h *SessionHandler) writeStaged(w http.ResponseWriter, ref model.AssetRef, c model.Category) {
	resp := stagedResponse{Ref: ref}
	if desc, err := h.resolver.ResolveAsset(ref, c); err == nil {
		resp.Descriptor = desc
	}
	writeJSON(w, http.StatusCreated, resp)
}

// RemoveStaged обрабатывает DELETE /api/v1/session/staged?name=<name>.
func (h *SessionHandler) RemoveStaged(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("name")
	if name == "" {
		apierrors.FieldValidationError(w, "name", "Имя staged-файла обязательно")
		return
	}
	h.mutate(w, h.manager.RemoveStagedAsset(model.Staged(name)))
}

// ReplaceLogo обрабатывает PUT /api/v1/session/logo.
func (h *SessionHandler) ReplaceLogo(w http.ResponseWriter, r *http.Request) {
	var req refRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, h.manager.ReplaceLogoImage(req.Ref))
}

// SetLogoPosition обрабатывает PUT /api/v1/session/logo/position.
func (h *SessionHandler) SetLogoPosition(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position string `json:"position"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, h.manager.SetLogoPosition(req.Position))
}

// AddWelcomeVideo обрабатывает POST /api/v1/session/welcome-videos.
func (h *SessionHandler) AddWelcomeVideo(w http.ResponseWriter, r *http.Request) {
	var req refRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, h.manager.AddWelcomeVideo(req.Ref))
}

// RemoveWelcomeVideo обрабатывает DELETE /api/v1/session/welcome-videos/{index}.
func (h *SessionHandler) RemoveWelcomeVideo(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	h.mutate(w, h.manager.RemoveWelcomeVideo(index))
}

// AddOption обрабатывает POST /api/v1/session/options.
func (h *SessionHandler) AddOption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	opt, err := h.manager.AddOption(req.Title)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, opt)
}

// RenameOption обрабатывает PATCH /api/v1/session/options/{id}.
func (h *SessionHandler) RenameOption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title string `json:"title"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, h.manager.RenameOption(chi.URLParam(r, "id"), req.Title))
}

// DeleteOption обрабатывает DELETE /api/v1/session/options/{id}.
func (h *SessionHandler) DeleteOption(w http.ResponseWriter, r *http.Request) {
	h.mutate(w, h.manager.DeleteOption(chi.URLParam(r, "id")))
}

// ReplaceOptionIcon обрабатывает PUT /api/v1/session/options/{id}/icon.
func (h *SessionHandler) ReplaceOptionIcon(w http.ResponseWriter, r *http.Request) {
	var req refRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, h.manager.ReplaceOptionIcon(chi.URLParam(r, "id"), req.Ref))
}

// MoveOption обрабатывает PUT /api/v1/session/options/{id}/position.
// position — новый порядковый номер (1-based).
func (h *SessionHandler) MoveOption(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Position int `json:"position"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, h.manager.MoveOption(chi.URLParam(r, "id"), req.Position))
}

// AddOptionVideo обрабатывает POST /api/v1/session/options/{id}/videos.
func (h *SessionHandler) AddOptionVideo(w http.ResponseWriter, r *http.Request) {
	var req refRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	h.mutate(w, h.manager.AddOptionVideo(chi.URLParam(r, "id"), req.Ref))
}

// RemoveOptionVideo обрабатывает DELETE /api/v1/session/options/{id}/videos/{index}.
func (h *SessionHandler) RemoveOptionVideo(w http.ResponseWriter, r *http.Request) {
	index, ok := indexParam(w, r)
	if !ok {
		return
	}
	h.mutate(w, h.manager.RemoveOptionVideo(chi.URLParam(r, "id"), index))
}

// mutate отвечает рабочим документом после успешной мутации.
func (h *SessionHandler) mutate(w http.ResponseWriter, err error) {
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, h.snapshot())
}

func indexParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		apierrors.FieldValidationError(w, "index", "Индекс должен быть целым числом")
		return 0, false
	}
	return index, true
}

func parseOptionalBool(s string) (bool, error) {
	if s == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, errors.New("ожидается true или false")
	}
	return b, nil
}

// parseOffset разбирает смещение окна обрезки. Без обоих полей — nil (по центру).
func parseOffset(xs, ys string) (*imaging.Offset, error) {
	if xs == "" && ys == "" {
		return nil, nil
	}
	if xs == "" || ys == "" {
		return nil, errors.New("offset_x и offset_y задаются вместе")
	}
	x, err := strconv.Atoi(xs)
	if err != nil {
		return nil, errors.New("offset_x должен быть целым числом")
	}
	y, err := strconv.Atoi(ys)
	if err != nil {
		return nil, errors.New("offset_y должен быть целым числом")
	}
	return &imaging.Offset{X: x, Y: y}, nil
}
