package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v2"

	"sensorlink/internal/service/decoder"
)

// ErrInvalid оборачивает все ошибки проверки конфигурации
var ErrInvalid = errors.New("config: invalid configuration")

// SerialConfig - параметры порта устройства
type SerialConfig struct {
	Port         string        `yaml:"port"`
	BaudRate     int           `yaml:"baud_rate"`
	Variant      string        `yaml:"variant"`       // keyvalue | positional
	Encoding     string        `yaml:"encoding"`      // utf-8, windows-1251, ...
	AutoConnect  bool          `yaml:"auto_connect"`  // Подключаться к Port при запуске
	ScanInterval time.Duration `yaml:"scan_interval"` // Период опроса списка портов, 0 - не опрашивать
}

// DatabaseConfig - параметры хранилища
type DatabaseConfig struct {
	Path string `yaml:"path"`
}

// LogConfig - параметры журнала
type LogConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"` // Пусто - вывод в stderr
}

// HTTPConfig - параметры API
type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// MQTTConfig - параметры публикации в брокер
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
}

// RecordingConfig - автоматический старт записи после подключения
type RecordingConfig struct {
	AutoStart   bool   `yaml:"auto_start"`
	SessionName string `yaml:"session_name"` // Пусто - Session-<дата_время>
}

// Config - полная конфигурация приложения
type Config struct {
	Serial    SerialConfig    `yaml:"serial"`
	Database  DatabaseConfig  `yaml:"database"`
	Log       LogConfig       `yaml:"log"`
	HTTP      HTTPConfig      `yaml:"http"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Recording RecordingConfig `yaml:"recording"`
}

// Default возвращает конфигурацию по умолчанию
func Default() *Config {
	return &Config{
		Serial: SerialConfig{
			BaudRate:     9600,
			Variant:      string(decoder.VariantKeyValue),
			Encoding:     "utf-8",
			ScanInterval: 5 * time.Second,
		},
		Database: DatabaseConfig{Path: "sensor_data.db"},
		Log:      LogConfig{Level: "info"},
		HTTP:     HTTPConfig{Enabled: true, Addr: "127.0.0.1:8080"},
		MQTT: MQTTConfig{
			Broker:      "tcp://127.0.0.1:1883",
			ClientID:    "sensorlink",
			TopicPrefix: "sensorlink",
		},
	}
}

// Load читает YAML-файл поверх значений по умолчанию.
// Пустой путь означает только значения по умолчанию.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения конфигурации: %w", err)
	}
	if err := yaml.UnmarshalStrict(data, cfg); err != nil {
		return nil, fmt.Errorf("ошибка разбора конфигурации %s: %w", path, err)
	}
	return cfg, nil
}

// Validate проверяет согласованность параметров
func (c *Config) Validate() error {
	var errs []error

	if _, err := decoder.ParseVariant(c.Serial.Variant); err != nil {
		errs = append(errs, err)
	}
	if c.Serial.BaudRate <= 0 {
		errs = append(errs, fmt.Errorf("serial.baud_rate must be positive, got %d", c.Serial.BaudRate))
	}
	if c.Serial.ScanInterval < 0 {
		errs = append(errs, fmt.Errorf("serial.scan_interval must not be negative"))
	}
	if c.Serial.AutoConnect && strings.TrimSpace(c.Serial.Port) == "" {
		errs = append(errs, errors.New("serial.auto_connect requires serial.port"))
	}
	if strings.TrimSpace(c.Database.Path) == "" {
		errs = append(errs, errors.New("database.path is required"))
	}
	if _, err := logrus.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	if c.HTTP.Enabled && c.HTTP.Addr == "" {
		errs = append(errs, errors.New("http.addr is required when http is enabled"))
	}
	if c.MQTT.Enabled && c.MQTT.Broker == "" {
		errs = append(errs, errors.New("mqtt.broker is required when mqtt is enabled"))
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// EnvKey - имя переменной окружения, переопределяющей параметр файла
type EnvKey string

const (
	EnvSerialPort     EnvKey = "SENSORLINK_SERIAL_PORT"
	EnvSerialBaudRate EnvKey = "SENSORLINK_SERIAL_BAUD_RATE"
	EnvSerialVariant  EnvKey = "SENSORLINK_SERIAL_VARIANT"
	EnvSerialEncoding EnvKey = "SENSORLINK_SERIAL_ENCODING"
	EnvAutoConnect    EnvKey = "SENSORLINK_SERIAL_AUTO_CONNECT"
	EnvDatabasePath   EnvKey = "SENSORLINK_DATABASE_PATH"
	EnvLogLevel       EnvKey = "SENSORLINK_LOG_LEVEL"
	EnvLogFile        EnvKey = "SENSORLINK_LOG_FILE"
	EnvHTTPEnabled    EnvKey = "SENSORLINK_HTTP_ENABLED"
	EnvHTTPAddr       EnvKey = "SENSORLINK_HTTP_ADDR"
	EnvMQTTEnabled    EnvKey = "SENSORLINK_MQTT_ENABLED"
	EnvMQTTBroker     EnvKey = "SENSORLINK_MQTT_BROKER"
	EnvMQTTClientID   EnvKey = "SENSORLINK_MQTT_CLIENT_ID"
	EnvMQTTUsername   EnvKey = "SENSORLINK_MQTT_USERNAME"
	EnvMQTTPassword   EnvKey = "SENSORLINK_MQTT_PASSWORD"
	EnvMQTTPrefix     EnvKey = "SENSORLINK_MQTT_TOPIC_PREFIX"
	EnvAutoRecord     EnvKey = "SENSORLINK_RECORDING_AUTO_START"
	EnvSessionName    EnvKey = "SENSORLINK_RECORDING_SESSION_NAME"
)

// ApplyEnv переопределяет параметры из переменных окружения
func (c *Config) ApplyEnv() {
	c.Serial.Port = getStringEnv(EnvSerialPort, c.Serial.Port)
	c.Serial.BaudRate = getIntEnv(EnvSerialBaudRate, c.Serial.BaudRate)
	c.Serial.Variant = getStringEnv(EnvSerialVariant, c.Serial.Variant)
	c.Serial.Encoding = getStringEnv(EnvSerialEncoding, c.Serial.Encoding)
	c.Serial.AutoConnect = getBoolEnv(EnvAutoConnect, c.Serial.AutoConnect)
	c.Database.Path = getStringEnv(EnvDatabasePath, c.Database.Path)
	c.Log.Level = getStringEnv(EnvLogLevel, c.Log.Level)
	c.Log.File = getStringEnv(EnvLogFile, c.Log.File)
	c.HTTP.Enabled = getBoolEnv(EnvHTTPEnabled, c.HTTP.Enabled)
	c.HTTP.Addr = getStringEnv(EnvHTTPAddr, c.HTTP.Addr)
	c.MQTT.Enabled = getBoolEnv(EnvMQTTEnabled, c.MQTT.Enabled)
	c.MQTT.Broker = getStringEnv(EnvMQTTBroker, c.MQTT.Broker)
	c.MQTT.ClientID = getStringEnv(EnvMQTTClientID, c.MQTT.ClientID)
	c.MQTT.Username = getStringEnv(EnvMQTTUsername, c.MQTT.Username)
	c.MQTT.Password = getStringEnv(EnvMQTTPassword, c.MQTT.Password)
	c.MQTT.TopicPrefix = getStringEnv(EnvMQTTPrefix, c.MQTT.TopicPrefix)
	c.Recording.AutoStart = getBoolEnv(EnvAutoRecord, c.Recording.AutoStart)
	c.Recording.SessionName = getStringEnv(EnvSessionName, c.Recording.SessionName)
}

func getStringEnv(key EnvKey, defaultVal string) string {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}
	return val
}

func getBoolEnv(key EnvKey, defaultVal bool) bool {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}
	switch strings.ToLower(strings.TrimSpace(val)) {
	case "true", "1", "yes":
		return true
	default:
		return false
	}
}

func getIntEnv(key EnvKey, defaultVal int) int {
	val, exists := os.LookupEnv(string(key))
	if !exists {
		return defaultVal
	}
	if intVal, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
		return intVal
	}
	return defaultVal
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
