package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"sensorlink/internal/domain/ports"
)

const (
	ReadHeaderTimeout = 5 * time.Second
	ReadTimeout       = 30 * time.Second
	WriteTimeout      = 30 * time.Second
	IdleTimeout       = 120 * time.Second
	ShutdownTimeout   = 10 * time.Second
)

// HTTPServer - HTTP-сервер API с корректной остановкой
type HTTPServer struct {
	log    ports.Logger
	server *http.Server
}

// NewHTTPServer создает сервер на указанном адресе
func NewHTTPServer(log ports.Logger, addr string, handler http.Handler) *HTTPServer {
	return &HTTPServer{
		log: log,
		server: &http.Server{
			Addr:              addr,
			Handler:           handler,
			ReadHeaderTimeout: ReadHeaderTimeout,
			ReadTimeout:       ReadTimeout,
			WriteTimeout:      WriteTimeout,
			IdleTimeout:       IdleTimeout,
		},
	}
}

// Start открывает сокет и обслуживает запросы в фоне.
// Ошибка обслуживания после старта приводит к вызову onFail.
func (s *HTTPServer) Start(onFail func(error)) error {
	ln, err := net.Listen("tcp", s.server.Addr)
	if err != nil {
		return err
	}
	s.log.Info("[HTTP] API доступно на http://%s", ln.Addr())

	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("[HTTP] Сервер остановлен с ошибкой: %v", err)
			if onFail != nil {
				onFail(err)
			}
		}
	}()
	return nil
}

// Shutdown останавливает сервер, дожидаясь завершения активных запросов
func (s *HTTPServer) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	return s.server.Shutdown(ctx)
}
