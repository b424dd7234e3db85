// errors.go — преобразование ошибок сервисного слоя в HTTP-ответы.
package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	apierrors "github.com/bigkaa/welcome-kiosk/internal/api/errors"
	"github.com/bigkaa/welcome-kiosk/internal/auth"
	"github.com/bigkaa/welcome-kiosk/internal/domain/model"
	"github.com/bigkaa/welcome-kiosk/internal/domain/session"
	"github.com/bigkaa/welcome-kiosk/internal/service"
	"github.com/bigkaa/welcome-kiosk/internal/storage/filestore"
)

// writeServiceError записывает ответ для ошибки сервисного слоя.
// Непредвиденные ошибки логируются, клиенту отдаётся обобщённое сообщение.
func writeServiceError(w http.ResponseWriter, logger *slog.Logger, err error) {
	var (
		validationErr  *model.ValidationError
		transitionErr  *session.TransitionError
		persistenceErr *service.PersistenceError
		storageErr     *service.StorageError
	)

	switch {
	case errors.As(err, &validationErr):
		apierrors.FieldValidationError(w, validationErr.Field, validationErr.Message)
	case errors.As(err, &transitionErr):
		apierrors.InvalidState(w, transitionErr.Message)
	case errors.Is(err, service.ErrSessionActive), errors.Is(err, service.ErrSessionClosed):
		apierrors.InvalidState(w, err.Error())
	case errors.Is(err, service.ErrReconcileInProgress):
		apierrors.ReconcileInProgress(w, err.Error())
	case errors.Is(err, service.ErrOptionNotFound),
		errors.Is(err, service.ErrStagedNotFound),
		errors.Is(err, filestore.ErrNotFound):
		apierrors.NotFound(w, err.Error())
	case errors.Is(err, filestore.ErrTooLarge):
		apierrors.FileTooLarge(w, err.Error())
	case errors.Is(err, filestore.ErrRangeNotSatisfiable):
		apierrors.InvalidRange(w, err.Error())
	case errors.Is(err, filestore.ErrInvalidName),
		errors.Is(err, filestore.ErrInvalidCategory),
		errors.Is(err, service.ErrUnsupportedScheme),
		errors.Is(err, service.ErrPickerCancelled):
		apierrors.ValidationError(w, err.Error())
	case errors.Is(err, auth.ErrWindowClosed), errors.Is(err, auth.ErrInvalidPIN):
		apierrors.Unauthorized(w, err.Error())
	case errors.As(err, &persistenceErr):
		logger.Error("Ошибка сохранения документа", slog.String("error", err.Error()))
		apierrors.PersistenceError(w, "Не удалось сохранить документ, повторите сохранение")
	case errors.As(err, &storageErr):
		logger.Error("Ошибка хранилища", slog.String("error", err.Error()))
		apierrors.StorageError(w, "Ошибка файловой операции")
	default:
		logger.Error("Внутренняя ошибка", slog.String("error", err.Error()))
		apierrors.InternalError(w, "Внутренняя ошибка")
	}
}
