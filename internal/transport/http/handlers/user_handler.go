package handlers

import (
	"errors"
	"net/http"

	userssvc "github.com/hsdarestani/HamAan/internal/services/users"
	"github.com/hsdarestani/HamAan/internal/transport/http/dto"
	httperrors "github.com/hsdarestani/HamAan/internal/transport/http/errors"
)

type UserHandler struct {
	users *userssvc.Service
}

func NewUserHandler(users *userssvc.Service) *UserHandler {
	return &UserHandler{users: users}
}

func (h *UserHandler) Register(w http.ResponseWriter, r *http.Request) {
	if h.users == nil {
		writeInternal(w, "USER_SERVICE_UNAVAILABLE", "user service is unavailable")
		return
	}

	var req dto.UserRegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	result, err := h.users.Register(r.Context(), userssvc.RegisterInput{
		TelegramID:   req.TelegramID,
		Username:     req.Username,
		FirstName:    req.FirstName,
		LastName:     req.LastName,
		LanguageCode: req.LanguageCode,
	})
	if err != nil {
		switch {
		case errors.Is(err, userssvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "telegram_id is required")
		case errors.Is(err, userssvc.ErrUserBlocked):
			httperrors.Write(w, http.StatusForbidden, httperrors.APIError{
				Code:    "USER_BLOCKED",
				Message: "account is blocked",
			})
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to register user")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.UserRegisterResponse{
		UserID:     result.User.ID,
		TelegramID: result.User.TelegramID,
		Username:   result.User.Username,
		Created:    result.Created,
	})
}

// resolveTelegramUser maps the telegram_id request parameter onto an
// internal user for handlers that act on behalf of one account.
func resolveTelegramUser(w http.ResponseWriter, r *http.Request, users *userssvc.Service, telegramID int64) (int64, bool) {
	if users == nil {
		writeInternal(w, "USER_SERVICE_UNAVAILABLE", "user service is unavailable")
		return 0, false
	}
	if telegramID <= 0 {
		writeBadRequest(w, "VALIDATION_ERROR", "telegram_id is required")
		return 0, false
	}

	rec, err := users.Resolve(r.Context(), telegramID)
	if err != nil {
		switch {
		case errors.Is(err, userssvc.ErrUserNotFound):
			writeNotFound(w, "USER_NOT_FOUND", "user is not registered")
		case errors.Is(err, userssvc.ErrUserBlocked):
			httperrors.Write(w, http.StatusForbidden, httperrors.APIError{
				Code:    "USER_BLOCKED",
				Message: "account is blocked",
			})
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to resolve user")
		}
		return 0, false
	}
	return rec.ID, true
}
