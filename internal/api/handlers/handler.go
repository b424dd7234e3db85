// handler.go — APIHandler собирает доменные handlers и регистрирует
// маршруты admin-сервера.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/welcome-kiosk/internal/api/errors"
	"github.com/bigkaa/welcome-kiosk/internal/service"
)

// maxJSONBody — предельный размер JSON-тела запроса.
const maxJSONBody = 1 << 20

// APIHandler — единая точка регистрации маршрутов admin API.
type APIHandler struct {
	assets      *AssetHandler
	content     *ContentHandler
	session     *SessionHandler
	admin       *AdminHandler
	maintenance *MaintenanceHandler
	health      *HealthHandler
}

// NewAPIHandler создаёт единый handler для всех endpoints.
func NewAPIHandler(
	assets *AssetHandler,
	content *ContentHandler,
	session *SessionHandler,
	admin *AdminHandler,
	maintenance *MaintenanceHandler,
	health *HealthHandler,
) *APIHandler {
	return &APIHandler{
		assets:      assets,
		content:     content,
		session:     session,
		admin:       admin,
		maintenance: maintenance,
		health:      health,
	}
}

// Register регистрирует маршруты admin API.
// authenticate — цепочка проверки токена администратора
// для /api/v1/session/* и /api/v1/maintenance/*.
func (h *APIHandler) Register(r chi.Router, authenticate ...func(http.Handler) http.Handler) {
	// --- Публичные ---
	r.Get("/health/live", h.health.HealthLive)
	r.Get("/health/ready", h.health.HealthReady)

	r.Route(service.ProtocolPrefix, h.assets.ProtocolRoutes)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/license", h.admin.GetLicense)
		r.Post("/admin/request", h.admin.RequestAdmin)
		r.Post("/admin/unlock", h.admin.Unlock)
		r.Get("/content", h.content.GetContent)
		r.Get("/resolve", h.content.Resolve)

		// --- Требуют токен администратора ---
		r.Group(func(r chi.Router) {
			r.Use(authenticate...)
			r.Route("/session", h.session.Routes)
			r.Post("/maintenance/reconcile", h.maintenance.Reconcile)
		})
	})
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, statusCode int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(data)
}

// decodeJSON разбирает JSON-тело запроса. При ошибке записывает
// 400 VALIDATION_ERROR и возвращает false.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		apierrors.ValidationError(w, "Некорректное JSON-тело запроса: "+err.Error())
		return false
	}
	return true
}
