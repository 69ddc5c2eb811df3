package ports

// Logger определяет интерфейс логирования, через который сервисы пишут журнал.
// Реализация находится в слое Infrastructure (logrus).
type Logger interface {
	// Debug выводит отладочную информацию
	Debug(msg string, args ...interface{})

	// Info выводит информационные сообщения
	Info(msg string, args ...interface{})

	// Warn выводит предупреждения
	Warn(msg string, args ...interface{})

	// Error выводит ошибки
	Error(msg string, args ...interface{})

	// Fatal выводит критические ошибки и завершает программу.
	// Вызывается только при старте приложения.
	Fatal(msg string, args ...interface{})

	// Printf форматированный вывод (для совместимости)
	Printf(format string, args ...interface{})

	// WithComponent возвращает логгер с полем контекста для указанного компонента
	WithComponent(name string) Logger
}
