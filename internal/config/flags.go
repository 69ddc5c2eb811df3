package config

import (
	"fmt"

	"github.com/spf13/pflag"
)

// DefaultPath - файл конфигурации, который читается, если путь не задан явно
const DefaultPath = "sensorlink.yaml"

// FromArgs собирает конфигурацию: значения по умолчанию, файл, окружение, флаги
// командной строки (в порядке возрастания приоритета).
func FromArgs(name string, args []string) (*Config, error) {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)

	var (
		path       = fs.StringP("config", "c", "", "path to YAML config (default "+DefaultPath+" if present)")
		port       = fs.StringP("port", "p", "", "serial port to connect to at start-up")
		baud       = fs.Int("baud", 0, "serial baud rate")
		variant    = fs.String("variant", "", "line format: keyvalue or positional")
		encoding   = fs.String("encoding", "", "serial stream character encoding")
		dbPath     = fs.String("db", "", "SQLite database path")
		logLevel   = fs.String("log-level", "", "log level (debug, info, warn, error)")
		httpAddr   = fs.String("http-addr", "", "HTTP API listen address")
		noHTTP     = fs.Bool("no-http", false, "disable HTTP API")
		mqttBroker = fs.String("mqtt-broker", "", "MQTT broker URL; enables MQTT publishing")
		record     = fs.String("record", "", "start recording after connect with this session name")
	)

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	cfgPath := *path
	if cfgPath == "" && fileExists(DefaultPath) {
		cfgPath = DefaultPath
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		return nil, err
	}
	cfg.ApplyEnv()

	if fs.Changed("port") {
		cfg.Serial.Port = *port
		cfg.Serial.AutoConnect = true
	}
	if fs.Changed("baud") {
		cfg.Serial.BaudRate = *baud
	}
	if fs.Changed("variant") {
		cfg.Serial.Variant = *variant
	}
	if fs.Changed("encoding") {
		cfg.Serial.Encoding = *encoding
	}
	if fs.Changed("db") {
		cfg.Database.Path = *dbPath
	}
	if fs.Changed("log-level") {
		cfg.Log.Level = *logLevel
	}
	if fs.Changed("http-addr") {
		cfg.HTTP.Addr = *httpAddr
		cfg.HTTP.Enabled = true
	}
	if *noHTTP {
		cfg.HTTP.Enabled = false
	}
	if fs.Changed("mqtt-broker") {
		cfg.MQTT.Broker = *mqttBroker
		cfg.MQTT.Enabled = true
	}
	if fs.Changed("record") {
		cfg.Recording.AutoStart = true
		cfg.Recording.SessionName = *record
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return cfg, nil
}
