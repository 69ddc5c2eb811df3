package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"sensorlink/internal/domain/models"
	"sensorlink/internal/domain/ports"
)

// ErrNotConnected возвращается при публикации до подключения к брокеру
var ErrNotConnected = errors.New("mqtt: not connected")

const (
	defaultTopicPrefix = "sensorlink"
	defaultClientID    = "sensorlink"
	publishTimeout     = 5 * time.Second
	offlinePayload     = `{"status":"offline"}`
)

// Options - параметры подключения к брокеру
type Options struct {
	Broker       string // tcp://host:1883
	ClientID     string // К ID добавляется случайный суффикс
	Username     string
	Password     string
	TopicPrefix  string
	QoS          byte
	MaxRetryTime time.Duration // Общее время попыток подключения, 0 - 1 минута
}

// client - используемая часть paho.Client
type client interface {
	Connect() paho.Token
	Disconnect(quiesce uint)
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
}

// Publisher публикует записанные показания и статус подключения в MQTT.
type Publisher struct {
	client client
	opts   Options
	log    ports.Logger

	mu        sync.Mutex
	connected bool
}

// NewPublisher создает издателя. Подключение выполняется в Connect.
func NewPublisher(opts Options, log ports.Logger) *Publisher {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = defaultTopicPrefix
	}
	opts.TopicPrefix = strings.TrimRight(opts.TopicPrefix, "/")
	if opts.ClientID == "" {
		opts.ClientID = defaultClientID
	}
	if opts.MaxRetryTime <= 0 {
		opts.MaxRetryTime = time.Minute
	}

	clientOpts := paho.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID + "-" + uuid.NewString()[:8])
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
	}
	if opts.Password != "" {
		clientOpts.SetPassword(opts.Password)
	}
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectTimeout(5 * time.Second)
	clientOpts.SetMaxReconnectInterval(15 * time.Second)
	clientOpts.SetKeepAlive(30 * time.Second)
	clientOpts.SetWill(StatusTopic(opts.TopicPrefix), offlinePayload, opts.QoS, true)

	p := &Publisher{opts: opts, log: log}
	clientOpts.SetOnConnectHandler(func(paho.Client) {
		p.log.Info("[MQTT] Подключено к брокеру %s", opts.Broker)
	})
	clientOpts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		p.log.Warn("[MQTT] Связь с брокером потеряна: %v", err)
	})
	p.client = paho.NewClient(clientOpts)
	return p
}

// Connect подключается к брокеру с экспоненциальной задержкой между попытками
func (p *Publisher) Connect(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.MaxElapsedTime = p.opts.MaxRetryTime

	attempt := 0
	connect := func() error {
		attempt++
		token := p.client.Connect()
		token.Wait()
		if err := token.Error(); err != nil {
			p.log.Warn("[MQTT] Попытка подключения %d к %s не удалась: %v", attempt, p.opts.Broker, err)
			return err
		}
		return nil
	}

	if err := backoff.Retry(connect, backoff.WithContext(policy, ctx)); err != nil {
		return fmt.Errorf("ошибка подключения к брокеру %s: %w", p.opts.Broker, err)
	}

	p.mu.Lock()
	p.connected = true
	p.mu.Unlock()
	return nil
}

// PublishReading публикует записанное показание в топик его сессии
func (p *Publisher) PublishReading(r models.StoredReading) error {
	return p.publish(ReadingTopic(p.opts.TopicPrefix, r.SessionID), false, r)
}

// PublishStatus публикует статус подключения (retained)
func (p *Publisher) PublishStatus(s models.StatusInfo) error {
	return p.publish(StatusTopic(p.opts.TopicPrefix), true, s)
}

// HandleReading - подписчик конвейера: ошибки публикации только логируются
func (p *Publisher) HandleReading(r models.StoredReading) {
	if err := p.PublishReading(r); err != nil {
		p.log.Warn("[MQTT] %v", err)
	}
}

// HandleStatus - подписчик статуса: ошибки публикации только логируются
func (p *Publisher) HandleStatus(s models.StatusInfo) {
	if err := p.PublishStatus(s); err != nil {
		p.log.Warn("[MQTT] %v", err)
	}
}

func (p *Publisher) publish(topic string, retained bool, payload any) error {
	p.mu.Lock()
	connected := p.connected
	p.mu.Unlock()
	if !connected || !p.client.IsConnected() {
		return fmt.Errorf("%w: %s", ErrNotConnected, topic)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("ошибка сериализации сообщения для %s: %w", topic, err)
	}

	token := p.client.Publish(topic, p.opts.QoS, retained, data)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("таймаут публикации в %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("ошибка публикации в %s: %w", topic, err)
	}
	return nil
}

// Close публикует статус offline и отключается от брокера
func (p *Publisher) Close() {
	p.mu.Lock()
	connected := p.connected
	p.connected = false
	p.mu.Unlock()
	if !connected {
		return
	}

	token := p.client.Publish(StatusTopic(p.opts.TopicPrefix), p.opts.QoS, true, offlinePayload)
	token.WaitTimeout(publishTimeout)
	p.client.Disconnect(250)
	p.log.Info("[MQTT] Отключено от брокера")
}

// ReadingTopic возвращает топик показаний сессии: <prefix>/sessions/<id>/readings
func ReadingTopic(prefix, sessionID string) string {
	return prefix + "/sessions/" + topicSegment(sessionID) + "/readings"
}

// StatusTopic возвращает топик статуса: <prefix>/status
func StatusTopic(prefix string) string {
	return prefix + "/status"
}

// topicSegment заменяет символы, недопустимые внутри уровня топика
func topicSegment(s string) string {
	if s == "" {
		return "_"
	}
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
