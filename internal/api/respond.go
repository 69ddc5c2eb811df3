package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"sensorlink/internal/domain/ports"
)

const (
	MaxBodySize     = 64 << 10
	RequestIDHeader = "X-Request-ID"
)

// ErrorResponse - тело ответа с ошибкой
type ErrorResponse struct {
	StatusCode int    `json:"-"`
	Message    string `json:"message"`
	RequestID  string `json:"requestId,omitempty"`
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("%d: %s", e.StatusCode, e.Message)
}

// NewError создает ошибку, которая возвращается клиенту как есть
func NewError(statusCode int, message string) *ErrorResponse {
	return &ErrorResponse{StatusCode: statusCode, Message: message}
}

// HandlerFunc - обработчик, который может вернуть ошибку
type HandlerFunc func(w http.ResponseWriter, r *http.Request) error

type ctxKey int

const requestIDKey ctxKey = iota

// RequestID берет ID запроса из заголовка или генерирует новый
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

// GetRequestID возвращает ID запроса из контекста
func GetRequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// errorHandler превращает ошибку обработчика в JSON-ответ
func errorHandler(log ports.Logger, fn HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		requestID := GetRequestID(r.Context())

		var httpErr *ErrorResponse
		if errors.As(err, &httpErr) {
			httpErr.RequestID = requestID
			log.Warn("[HTTP] %s %s: %d %s", r.Method, r.URL.Path, httpErr.StatusCode, httpErr.Message)
			_ = respondJSON(w, httpErr.StatusCode, httpErr)
			return
		}

		log.Error("[HTTP] %s %s: %v (request %s)", r.Method, r.URL.Path, err, requestID)
		_ = respondJSON(w, http.StatusInternalServerError, &ErrorResponse{
			Message:   "Internal Server Error",
			RequestID: requestID,
		})
	}
}

// respondJSON пишет JSON-ответ; nil означает ответ без тела.
// Данные кодируются до записи заголовков: ошибка кодирования уходит в errorHandler как 500.
func respondJSON(w http.ResponseWriter, statusCode int, data any) error {
	if data == nil {
		w.WriteHeader(statusCode)
		return nil
	}
	body, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("кодирование ответа: %w", err)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_, _ = w.Write(append(body, '\n'))
	return nil
}

// decodeJSON читает тело запроса; пустое тело допустимо
func decodeJSON(r *http.Request, dst any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, MaxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return NewError(http.StatusBadRequest, "invalid JSON body: "+err.Error())
	}
	return nil
}
