// content.go — публичные endpoints чтения конфигурации:
// GET /api/v1/content и GET /api/v1/resolve.
package handlers

import (
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/welcome-kiosk/internal/api/errors"
	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
	"github.com/bigkaa/welcome-kiosk/internal/service"
)

// SavedDocumentReader — источник сохранённого документа.
type SavedDocumentReader interface {
	Saved() (model.Document, error)
}

// ContentHandler — чтение сохранённого документа и разрешение ссылок.
type ContentHandler struct {
	docs     SavedDocumentReader
	resolver *service.Resolver
	logger   *slog.Logger
}

// NewContentHandler создаёт обработчик чтения конфигурации.
func NewContentHandler(docs SavedDocumentReader, resolver *service.Resolver, logger *slog.Logger) *ContentHandler {
	return &ContentHandler{
		docs:     docs,
		resolver: resolver,
		logger:   logger.With(slog.String("component", "content_handler")),
	}
}

// contentResponse — сохранённый документ и дескрипторы его файлов.
// Assets индексируется строкой ссылки (asset://images/<name>).
type contentResponse struct {
	Document model.Document                 `json:"document"`
	Assets   map[string]*service.Descriptor `json:"assets"`
	Missing  []string                       `json:"missing,omitempty"`
}

// GetContent обрабатывает GET /api/v1/content.
// Файлы, отсутствующие на диске, перечисляются в missing.
func (h *ContentHandler) GetContent(w http.ResponseWriter, _ *http.Request) {
	doc, err := h.docs.Saved()
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}

	resp := contentResponse{Document: doc, Assets: make(map[string]*service.Descriptor)}
	add := func(ref model.AssetRef, c model.Category) {
		if ref.IsZero() {
			return
		}
		key := service.RefFor(ref, c).String()
		if _, ok := resp.Assets[key]; ok {
			return
		}
		desc, err := h.resolver.ResolveAsset(ref, c)
		if err != nil {
			h.logger.Debug("Файл документа не разрешён",
				slog.String("ref", key),
				slog.String("error", err.Error()),
			)
			resp.Missing = append(resp.Missing, key)
			return
		}
		resp.Assets[key] = desc
	}

	add(doc.Logo.Effective(), model.CategoryImage)
	for _, v := range doc.WelcomeVideos {
		add(v, model.CategoryVideo)
	}
	for _, b := range doc.Buttons {
		add(b.EffectiveIcon(), model.CategoryImage)
		for _, v := range b.Videos {
			add(v, model.CategoryVideo)
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// Resolve обрабатывает GET /api/v1/resolve?ref=<ref>.
// ref: asset://images/<n>, asset://videos/<n>, temp://<n>, data:..., http(s)://...
func (h *ContentHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("ref")
	if raw == "" {
		apierrors.FieldValidationError(w, "ref", "Параметр ref обязателен")
		return
	}

	desc, err := h.resolver.Resolve(raw)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, desc)
}
