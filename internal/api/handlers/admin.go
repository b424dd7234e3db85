// admin.go — разблокировка панели администратора и сведения о лицензии.
package handlers

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/bigkaa/welcome-kiosk/internal/auth"
)

// AdminGate — окно ввода PIN (реализуется auth.Gate).
type AdminGate interface {
	RequestAdmin() time.Time
	Unlock(pin string) (*auth.Grant, error)
}

// AdminHandler — обработчик endpoints доступа администратора.
type AdminHandler struct {
	gate    AdminGate
	license auth.LicenseChecker
	logger  *slog.Logger
}

// NewAdminHandler создаёт обработчик доступа администратора.
func NewAdminHandler(gate AdminGate, license auth.LicenseChecker, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		gate:    gate,
		license: license,
		logger:  logger.With(slog.String("component", "admin_handler")),
	}
}

// RequestAdmin обрабатывает POST /api/v1/admin/request.
// Вызывается оболочкой после жеста на экране, открывает окно ввода PIN.
func (h *AdminHandler) RequestAdmin(w http.ResponseWriter, _ *http.Request) {
	deadline := h.gate.RequestAdmin()
	writeJSON(w, http.StatusOK, map[string]any{
		"pin_deadline": deadline.UTC(),
	})
}

// Unlock обрабатывает POST /api/v1/admin/unlock.
// Тело: {"pin": "..."}. Успех — токен администратора.
func (h *AdminHandler) Unlock(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PIN string `json:"pin"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}

	grant, err := h.gate.Unlock(req.PIN)
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, grant)
}

// GetLicense обрабатывает GET /api/v1/license.
func (h *AdminHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	lic, err := h.license.Check(r.Context())
	if err != nil {
		writeServiceError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}
