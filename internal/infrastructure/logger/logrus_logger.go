package logger

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"sensorlink/internal/domain/ports"
)

const timestampFormat = "2006-01-02 15:04:05"

// LogrusLogger реализует интерфейс ports.Logger поверх logrus.
type LogrusLogger struct {
	entry *logrus.Entry
}

// NewLogrusLogger создает логгер с заданным уровнем ("debug", "info", ...) и выводом.
// Неизвестный уровень приводит к уровню info.
func NewLogrusLogger(level string, output io.Writer, context string) *LogrusLogger {
	log := logrus.New()
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: timestampFormat,
	})
	log.SetOutput(output)

	return &LogrusLogger{
		entry: log.WithFields(logrus.Fields{
			"Context": context,
		}),
	}
}

// Debug выводит отладочную информацию.
func (l *LogrusLogger) Debug(msg string, args ...interface{}) {
	l.entry.Debugf(msg, args...)
}

// Info выводит информационные сообщения.
func (l *LogrusLogger) Info(msg string, args ...interface{}) {
	l.entry.Infof(msg, args...)
}

// Warn выводит предупреждения.
func (l *LogrusLogger) Warn(msg string, args ...interface{}) {
	l.entry.Warnf(msg, args...)
}

// Error выводит ошибки.
func (l *LogrusLogger) Error(msg string, args ...interface{}) {
	l.entry.Errorf(msg, args...)
}

// Fatal выводит критические ошибки и завершает программу.
func (l *LogrusLogger) Fatal(msg string, args ...interface{}) {
	l.entry.Fatalf(msg, args...)
}

// Printf форматированный вывод (для совместимости).
func (l *LogrusLogger) Printf(format string, args ...interface{}) {
	l.entry.Print(fmt.Sprintf(format, args...))
}

// WithComponent возвращает логгер, в котором поле Context заменено именем компонента.
func (l *LogrusLogger) WithComponent(name string) ports.Logger {
	return &LogrusLogger{entry: l.entry.WithField("Context", name)}
}

// Discard возвращает логгер, который ничего не выводит (для тестов).
func Discard() ports.Logger {
	return NewLogrusLogger("panic", io.Discard, "discard")
}
