package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"sensorlink/internal/domain/models"
	"sensorlink/internal/domain/ports"
	"sensorlink/internal/service/connection"
	"sensorlink/internal/service/ingest"
	"sensorlink/internal/service/session"
)

// dateLayout - формат параметра from (фильтр "с даты")
const dateLayout = "2006-01-02"

// Controller - операции конвейера приема, доступные через API
type Controller interface {
	ListPorts() ([]string, error)
	Connect(port string) error
	Disconnect() error
	StartRecording(ctx context.Context, name string) (string, error)
	StopRecording()
	Status() models.StatusInfo
	Live() ingest.LiveState
	Stats() ingest.Stats
}

// History - чтение записанных показаний
type History interface {
	SessionSummaries(ctx context.Context) ([]models.SessionSummary, error)
	QueryReadings(ctx context.Context, filter models.ReadingFilter) ([]models.StoredReading, error)
}

// Handler обслуживает HTTP API управления и просмотра данных
type Handler struct {
	ctrl    Controller
	history History
	log     ports.Logger
}

// NewHandler создает обработчик API
func NewHandler(ctrl Controller, history History, log ports.Logger) *Handler {
	return &Handler{ctrl: ctrl, history: history, log: log}
}

// Router возвращает маршрутизатор со всеми маршрутами API
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/ports", h.wrap(h.GetPorts))
		r.Get("/status", h.wrap(h.GetStatus))
		r.Get("/live", h.wrap(h.GetLive))
		r.Get("/stats", h.wrap(h.GetStats))
		r.Get("/sessions", h.wrap(h.GetSessions))
		r.Get("/sessions/{sessionID}/readings", h.wrap(h.GetSessionReadings))
		r.Get("/readings", h.wrap(h.GetReadings))

		r.Post("/connect", h.wrap(h.PostConnect))
		r.Post("/disconnect", h.wrap(h.PostDisconnect))
		r.Post("/recording", h.wrap(h.PostRecording))
		r.Delete("/recording", h.wrap(h.DeleteRecording))
	})
	return r
}

func (h *Handler) wrap(fn HandlerFunc) http.HandlerFunc {
	return errorHandler(h.log, fn)
}

// PortsResponse - список доступных портов
type PortsResponse struct {
	Ports   []string `json:"ports"`
	Message string   `json:"message,omitempty"`
}

func (h *Handler) GetPorts(w http.ResponseWriter, r *http.Request) error {
	list, err := h.ctrl.ListPorts()
	if err != nil {
		return err
	}
	resp := PortsResponse{Ports: list}
	if len(list) == 0 {
		resp.Ports = []string{}
		resp.Message = "No serial ports found."
	}
	return respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) error {
	return respondJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handler) GetLive(w http.ResponseWriter, r *http.Request) error {
	return respondJSON(w, http.StatusOK, h.ctrl.Live())
}

func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) error {
	return respondJSON(w, http.StatusOK, h.ctrl.Stats())
}

func (h *Handler) GetSessions(w http.ResponseWriter, r *http.Request) error {
	list, err := h.history.SessionSummaries(r.Context())
	if err != nil {
		return err
	}
	if list == nil {
		list = []models.SessionSummary{}
	}
	return respondJSON(w, http.StatusOK, list)
}

func (h *Handler) GetSessionReadings(w http.ResponseWriter, r *http.Request) error {
	filter, err := parseFilter(r)
	if err != nil {
		return err
	}
	filter.SessionID = chi.URLParam(r, "sessionID")
	return h.respondReadings(w, r, filter)
}

func (h *Handler) GetReadings(w http.ResponseWriter, r *http.Request) error {
	filter, err := parseFilter(r)
	if err != nil {
		return err
	}
	filter.SessionID = r.URL.Query().Get("session")
	return h.respondReadings(w, r, filter)
}

func (h *Handler) respondReadings(w http.ResponseWriter, r *http.Request, filter models.ReadingFilter) error {
	list, err := h.history.QueryReadings(r.Context(), filter)
	if err != nil {
		return err
	}
	if list == nil {
		list = []models.StoredReading{}
	}
	return respondJSON(w, http.StatusOK, list)
}

// parseFilter разбирает параметры from (YYYY-MM-DD) и limit
func parseFilter(r *http.Request) (models.ReadingFilter, error) {
	var filter models.ReadingFilter
	q := r.URL.Query()

	if from := q.Get("from"); from != "" {
		t, err := time.ParseInLocation(dateLayout, from, time.Local)
		if err != nil {
			return filter, NewError(http.StatusBadRequest, "from must be YYYY-MM-DD")
		}
		filter.From = t
	}
	if limit := q.Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			return filter, NewError(http.StatusBadRequest, "limit must be a non-negative integer")
		}
		filter.Limit = n
	}
	return filter, nil
}

// ConnectRequest - тело POST /api/connect
type ConnectRequest struct {
	Port string `json:"port"`
}

func (h *Handler) PostConnect(w http.ResponseWriter, r *http.Request) error {
	var req ConnectRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	if err := h.ctrl.Connect(req.Port); err != nil {
		switch {
		case errors.Is(err, connection.ErrNoPortSelected):
			return NewError(http.StatusBadRequest, "No port selected.")
		case errors.Is(err, connection.ErrPortOpen), errors.Is(err, connection.ErrUnsupportedEncoding):
			return NewError(http.StatusBadGateway, err.Error())
		default:
			return err
		}
	}
	return respondJSON(w, http.StatusOK, h.ctrl.Status())
}

func (h *Handler) PostDisconnect(w http.ResponseWriter, r *http.Request) error {
	if err := h.ctrl.Disconnect(); err != nil {
		// Порт уже освобожден, ошибку закрытия только логируем
		h.log.Warn("[HTTP] Ошибка закрытия порта: %v", err)
	}
	return respondJSON(w, http.StatusOK, h.ctrl.Status())
}

// RecordingRequest - тело POST /api/recording
type RecordingRequest struct {
	Name string `json:"name"`
}

// RecordingResponse - результат запуска записи
type RecordingResponse struct {
	SessionID string `json:"sessionId"`
}

func (h *Handler) PostRecording(w http.ResponseWriter, r *http.Request) error {
	var req RecordingRequest
	if err := decodeJSON(r, &req); err != nil {
		return err
	}

	id, err := h.ctrl.StartRecording(r.Context(), req.Name)
	switch {
	case errors.Is(err, session.ErrDuplicateSessionName):
		name, ok := session.DuplicateName(err)
		if !ok {
			name = req.Name
		}
		return NewError(http.StatusConflict, "Session name '"+name+"' already exists.")
	case errors.Is(err, session.ErrAlreadyRecording):
		return NewError(http.StatusConflict, "Recording is already in progress.")
	case err != nil:
		return err
	}
	return respondJSON(w, http.StatusCreated, RecordingResponse{SessionID: id})
}

func (h *Handler) DeleteRecording(w http.ResponseWriter, r *http.Request) error {
	h.ctrl.StopRecording()
	return respondJSON(w, http.StatusOK, h.ctrl.Status())
}
