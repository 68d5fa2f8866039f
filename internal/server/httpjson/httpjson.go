// Package httpjson - общие хелперы JSON ответов для handlers и middleware.
package httpjson

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/iudanet/gophchat/internal/apperr"
	"github.com/iudanet/gophchat/pkg/api"
)

// MaxBodyBytes ограничивает размер JSON тела запроса.
// Изображение в base64 до 10MB плюс запас на остальные поля.
const MaxBodyBytes = 16 << 20

// ErrInvalidBody возвращается при невалидном JSON
var ErrInvalidBody = apperr.New(apperr.InvalidArgument, "invalid request body")

// WriteJSON отправляет JSON ответ
func WriteJSON(w http.ResponseWriter, logger *slog.Logger, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil && logger != nil {
		logger.Error("failed to encode JSON response", slog.Any("error", err))
	}
}

// WriteError отправляет ошибку в формате api.ErrorResponse.
// Статус и код берутся из apperr.Kind, причина внутренних ошибок не раскрывается.
func WriteError(w http.ResponseWriter, logger *slog.Logger, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	WriteJSON(w, logger, api.ErrorResponse{
		Error:   http.StatusText(status),
		Message: apperr.MessageOf(err),
		Code:    apperr.Code(kind),
	}, status)
}

// Decode читает JSON тело запроса в dst
func Decode(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, MaxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Wrap(apperr.PayloadTooLarge, "request body too large", err)
		}
		if errors.Is(err, io.EOF) {
			return ErrInvalidBody
		}
		return apperr.Wrap(apperr.InvalidArgument, ErrInvalidBody.Message(), err)
	}
	return nil
}
