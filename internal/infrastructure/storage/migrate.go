package storage

import (
	"bytes"
	"embed"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/amacneil/dbmate/v2/pkg/dbmate"
	_ "github.com/amacneil/dbmate/v2/pkg/driver/sqlite"

	"sensorlink/internal/domain/ports"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// migrate применяет встроенные миграции к файлу базы
func migrate(path string, log ports.Logger) error {
	u, err := url.Parse("sqlite:" + path)
	if err != nil {
		return fmt.Errorf("ошибка разбора пути базы %q: %w", path, err)
	}

	db := dbmate.New(u)
	db.Strict = true
	db.FS = migrationsFS
	db.MigrationsDir = []string{"migrations"}
	db.AutoDumpSchema = false
	db.Log = newLogWriter(log)

	if err := db.Migrate(); err != nil {
		return fmt.Errorf("ошибка миграции базы: %w", err)
	}
	return nil
}

// logWriter перенаправляет вывод dbmate в логгер построчно
type logWriter struct {
	log ports.Logger
	mu  sync.Mutex
	buf bytes.Buffer
}

func newLogWriter(log ports.Logger) *logWriter {
	return &logWriter{log: log}
}

func (w *logWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// Неполную строку возвращаем в буфер до следующей записи
			w.buf.WriteString(line)
			break
		}
		if line = strings.TrimSpace(line); line != "" {
			w.log.Info("[STORAGE] %s", line)
		}
	}
	return len(p), nil
}
