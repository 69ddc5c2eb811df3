package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"sensorlink/internal/api"
	"sensorlink/internal/config"
	"sensorlink/internal/domain/ports"
	"sensorlink/internal/infrastructure/logger"
	"sensorlink/internal/infrastructure/mqtt"
	"sensorlink/internal/infrastructure/storage"
	"sensorlink/internal/service/decoder"
	"sensorlink/internal/service/dispatch"
	"sensorlink/internal/service/ingest"
	"sensorlink/internal/service/monitor"
)

// App связывает конвейер приема с хранилищем, API, публикацией MQTT и мониторингом портов.
type App struct {
	cfg *config.Config
	log ports.Logger

	Repo      *storage.SQLiteRepository
	Ingest    *ingest.Coordinator
	Monitor   *monitor.Service
	Publisher *mqtt.Publisher

	dispatcher *dispatch.Dispatcher
	httpServer *api.HTTPServer
	logFile    io.Closer

	closeOnce sync.Once
	wg        sync.WaitGroup
}

// New создает приложение. Вывод журнала идет в logOutput, если в конфигурации не задан файл.
func New(cfg *config.Config, transport ports.SerialTransport, logOutput io.Writer) (*App, error) {
	a := &App{cfg: cfg}

	if cfg.Log.File != "" {
		f, err := os.OpenFile(cfg.Log.File, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("ошибка открытия файла журнала: %w", err)
		}
		a.logFile = f
		logOutput = f
	}
	a.log = logger.NewLogrusLogger(cfg.Log.Level, logOutput, "sensorlink")

	repo, err := storage.NewSQLiteRepository(cfg.Database.Path, a.log.WithComponent("storage"))
	if err != nil {
		a.closeLog()
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	a.Repo = repo

	coord, err := ingest.NewCoordinator(transport, repo, a.log.WithComponent("ingest"), ingest.Options{
		Variant:  decoder.Variant(cfg.Serial.Variant),
		BaudRate: cfg.Serial.BaudRate,
		Encoding: cfg.Serial.Encoding,
	})
	if err != nil {
		repo.Close()
		a.closeLog()
		return nil, fmt.Errorf("failed to initialize ingestion: %w", err)
	}
	a.Ingest = coord

	a.dispatcher = dispatch.New(256)

	if cfg.Serial.ScanInterval > 0 {
		a.Monitor = monitor.NewService(coord, a.log.WithComponent("monitor"), monitor.Config{
			PollInterval: cfg.Serial.ScanInterval,
		})
		a.Monitor.SetUpdateCallback(a.onPortsChanged)
	}

	if cfg.MQTT.Enabled {
		a.Publisher = mqtt.NewPublisher(mqtt.Options{
			Broker:      cfg.MQTT.Broker,
			ClientID:    cfg.MQTT.ClientID,
			Username:    cfg.MQTT.Username,
			Password:    cfg.MQTT.Password,
			TopicPrefix: cfg.MQTT.TopicPrefix,
			QoS:         byte(cfg.MQTT.QoS),
		}, a.log.WithComponent("mqtt"))
	}

	if cfg.HTTP.Enabled {
		handler := api.NewHandler(apiController{Coordinator: coord, app: a}, repo, a.log.WithComponent("http"))
		a.httpServer = api.NewHTTPServer(a.log.WithComponent("http"), cfg.HTTP.Addr, handler.Router())
	}

	return a, nil
}

// Logger возвращает корневой логгер приложения
func (a *App) Logger() ports.Logger {
	return a.log
}

// Run запускает все компоненты и блокируется до отмены ctx или отказа HTTP-сервера.
func (a *App) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		a.dispatcher.Run(ctx)
	}()

	var serveErr error
	var serveMu sync.Mutex
	if a.httpServer != nil {
		err := a.httpServer.Start(func(err error) {
			serveMu.Lock()
			serveErr = err
			serveMu.Unlock()
			cancel()
		})
		if err != nil {
			return fmt.Errorf("failed to start HTTP API: %w", err)
		}
	}

	if a.Publisher != nil {
		a.wg.Add(1)
		go func() {
			defer a.wg.Done()
			a.connectPublisher(ctx)
		}()
	}

	if a.Monitor != nil {
		a.Monitor.Start()
	}

	if a.cfg.Serial.AutoConnect {
		a.autoConnect(ctx)
	}

	a.log.Info("Initialization complete")
	<-ctx.Done()

	serveMu.Lock()
	defer serveMu.Unlock()
	return serveErr
}

// autoConnect подключается к порту из конфигурации и при необходимости начинает запись.
// Ошибки не фатальны: порт можно подключить позже через API.
func (a *App) autoConnect(ctx context.Context) {
	if err := a.connect(a.cfg.Serial.Port); err != nil {
		a.log.Error("Автоподключение к %s не удалось: %v", a.cfg.Serial.Port, err)
		return
	}
	if !a.cfg.Recording.AutoStart {
		return
	}
	id, err := a.Ingest.StartRecording(ctx, a.cfg.Recording.SessionName)
	if err != nil {
		a.log.Error("Не удалось начать запись: %v", err)
		return
	}
	a.log.Info("Автоматически начата запись сессии %s", id)
}

// connectPublisher подключает MQTT и подписывает издателя на конвейер через диспетчер,
// чтобы публикация не задерживала цикл чтения порта.
func (a *App) connectPublisher(ctx context.Context) {
	if err := a.Publisher.Connect(ctx); err != nil {
		if !errors.Is(err, context.Canceled) {
			a.log.Error("MQTT недоступен, публикация отключена: %v", err)
		}
		return
	}
	a.Ingest.AddReadingListener(dispatch.WrapValue(a.dispatcher, a.Publisher.HandleReading))
	a.Ingest.SetStatusHandler(dispatch.WrapValue(a.dispatcher, a.Publisher.HandleStatus))
	a.dispatcher.Post(func() { a.Publisher.HandleStatus(a.Ingest.Status()) })
}

// connect подключает порт; опрос списка портов на это время приостанавливается
func (a *App) connect(port string) error {
	if a.Monitor != nil {
		a.Monitor.Pause()
		defer a.Monitor.Resume()
	}
	return a.Ingest.Connect(port)
}

// onPortsChanged завершает подключение, если открытый порт исчез из системы
func (a *App) onPortsChanged(state monitor.PortsState) {
	for _, p := range state.Removed {
		if a.Ingest.PortRemoved(p) {
			a.log.Warn("Порт %s исчез из системы, подключение закрыто", p)
		}
	}
}

// Close останавливает компоненты в обратном порядке. Безопасен при повторном вызове.
func (a *App) Close() error {
	var errs []error
	a.closeOnce.Do(func() {
		if a.Monitor != nil {
			a.Monitor.Stop()
		}
		if err := a.Ingest.Disconnect(); err != nil {
			errs = append(errs, fmt.Errorf("close port: %w", err))
		}
		if a.httpServer != nil {
			if err := a.httpServer.Shutdown(); err != nil {
				errs = append(errs, fmt.Errorf("shutdown HTTP API: %w", err))
			}
		}
		a.wg.Wait()
		if a.Publisher != nil {
			a.Publisher.Close()
		}
		if err := a.Repo.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close storage: %w", err))
		}
		a.log.Info("Application stopped")
		a.closeLog()
	})
	return errors.Join(errs...)
}

func (a *App) closeLog() {
	if a.logFile != nil {
		a.logFile.Close()
	}
}
