// assets.go — отдача файлов по HTTP с поддержкой Range.
// Один и тот же обработчик обслуживает in-process протокол admin-сервера
// (/protocol/asset/{category}/{name}, /protocol/temp/{name}) и
// loopback-сервер видео (/{folder}/{name}).
package handlers

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/welcome-kiosk/internal/api/errors"
	"github.com/bigkaa/welcome-kiosk/internal/api/middleware"
	"github.com/bigkaa/welcome-kiosk/internal/service"
	"github.com/bigkaa/welcome-kiosk/internal/storage/filestore"
)

// Источники запросов для метрик.
const (
	sourceProtocol = "protocol"
	sourceStream   = "stream"
)

// AssetHandler — отдача committed- и staged-файлов.
type AssetHandler struct {
	resolver *service.Resolver
	logger   *slog.Logger
}

// NewAssetHandler создаёт обработчик отдачи файлов.
func NewAssetHandler(resolver *service.Resolver, logger *slog.Logger) *AssetHandler {
	return &AssetHandler{
		resolver: resolver,
		logger:   logger.With(slog.String("component", "asset_handler")),
	}
}

// ProtocolRoutes регистрирует маршруты in-process протокола.
// Монтируется на admin-сервере под service.ProtocolPrefix.
func (h *AssetHandler) ProtocolRoutes(r chi.Router) {
	r.Get("/asset/{category}/{name}", h.ServeAsset)
	r.Head("/asset/{category}/{name}", h.ServeAsset)
	r.Get("/temp/{name}", h.ServeTemp)
	r.Head("/temp/{name}", h.ServeTemp)
}

// StreamRoutes регистрирует маршруты loopback-сервера.
func (h *AssetHandler) StreamRoutes(r chi.Router) {
	r.Get("/{folder}/{name}", h.ServeStream)
	r.Head("/{folder}/{name}", h.ServeStream)
}

// ServeAsset обрабатывает GET /protocol/asset/{category}/{name}.
func (h *AssetHandler) ServeAsset(w http.ResponseWriter, r *http.Request) {
	ref, err := service.ParseRef("asset://" + chi.URLParam(r, "category") + "/" + chi.URLParam(r, "name"))
	if err != nil {
		h.writeRefError(w, err)
		return
	}
	h.serve(w, r, ref, sourceProtocol)
}

// ServeTemp обрабатывает GET /protocol/temp/{name}.
func (h *AssetHandler) ServeTemp(w http.ResponseWriter, r *http.Request) {
	ref, err := service.ParseRef("temp://" + chi.URLParam(r, "name"))
	if err != nil {
		h.writeRefError(w, err)
		return
	}
	h.serve(w, r, ref, sourceProtocol)
}

// ServeStream обрабатывает GET /{folder}/{name} на loopback-сервере.
// folder: videos, images или temp.
func (h *AssetHandler) ServeStream(w http.ResponseWriter, r *http.Request) {
	folder := chi.URLParam(r, "folder")
	name := chi.URLParam(r, "name")

	var raw string
	if folder == "temp" {
		raw = "temp://" + name
	} else {
		raw = "asset://" + folder + "/" + name
	}

	ref, err := service.ParseRef(raw)
	if err != nil {
		h.writeRefError(w, err)
		return
	}
	h.serve(w, r, ref, sourceStream)
}

func (h *AssetHandler) writeRefError(w http.ResponseWriter, err error) {
	if errors.Is(err, filestore.ErrInvalidCategory) {
		apierrors.ValidationError(w, "Неизвестная категория")
		return
	}
	apierrors.ValidationError(w, err.Error())
}

// serve отдаёт файл: 200 с полным телом или 206 с запрошенным диапазоном.
// Некорректный или неудовлетворимый Range — 416 с Content-Range: bytes */size.
func (h *AssetHandler) serve(w http.ResponseWriter, r *http.Request, ref service.Ref, source string) {
	rng, err := filestore.ParseRange(r.Header.Get("Range"))
	if err != nil {
		h.writeRangeError(w, ref, err)
		return
	}

	slice, err := h.resolver.Open(ref, rng)
	if err != nil {
		switch {
		case errors.Is(err, filestore.ErrNotFound):
			apierrors.NotFound(w, "Файл не найден")
		case errors.Is(err, filestore.ErrRangeNotSatisfiable):
			h.writeRangeError(w, ref, err)
		default:
			h.logger.Error("Ошибка открытия файла",
				slog.String("ref", ref.String()),
				slog.String("error", err.Error()),
			)
			apierrors.StorageError(w, "Ошибка чтения файла")
		}
		return
	}
	defer slice.Close()

	header := w.Header()
	header.Set("Content-Type", service.MIMEType(ref.Name))
	header.Set("Accept-Ranges", "bytes")
	header.Set("Last-Modified", slice.ModTime.UTC().Format(http.TimeFormat))
	header.Set("Cache-Control", "no-cache")
	header.Set("Content-Length", strconv.FormatInt(slice.Length(), 10))

	status := http.StatusOK
	partial := "false"
	if slice.Partial {
		status = http.StatusPartialContent
		partial = "true"
		header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", slice.Start, slice.End, slice.Size))
	}
	w.WriteHeader(status)

	if r.Method == http.MethodHead {
		return
	}

	n, err := io.Copy(w, slice)
	middleware.StreamBytesTotal.WithLabelValues(source, partial).Add(float64(n))
	if err != nil {
		// Клиент (плеер) часто обрывает соединение при перемотке
		h.logger.Debug("Отдача файла прервана",
			slog.String("ref", ref.String()),
			slog.Int64("written", n),
			slog.String("error", err.Error()),
		)
	}
}

// writeRangeError отвечает 416 с указанием фактического размера файла.
func (h *AssetHandler) writeRangeError(w http.ResponseWriter, ref service.Ref, cause error) {
	desc, err := h.resolver.Describe(ref)
	if err != nil {
		if errors.Is(err, filestore.ErrNotFound) {
			apierrors.NotFound(w, "Файл не найден")
			return
		}
		apierrors.StorageError(w, "Ошибка чтения файла")
		return
	}
	w.Header().Set("Content-Range", fmt.Sprintf("bytes */%d", desc.Size))
	apierrors.InvalidRange(w, cause.Error())
}
