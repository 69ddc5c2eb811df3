package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sensorlink/internal/domain/models"
	"sensorlink/internal/domain/ports"
)

// TimestampLayout - формат времени записи в колонке timestamp (локальное время ПК)
const TimestampLayout = "2006-01-02 15:04:05"

// ErrClosed возвращается при обращении к закрытому хранилищу
var ErrClosed = errors.New("storage: repository closed")

// SQLiteRepository реализует ports.ReadingRepository поверх файла SQLite.
type SQLiteRepository struct {
	db   *sql.DB
	path string
	log  ports.Logger
}

var _ ports.ReadingRepository = (*SQLiteRepository)(nil)

// NewSQLiteRepository открывает (или создает) базу по указанному пути и применяет миграции.
func NewSQLiteRepository(path string, log ports.Logger) (*SQLiteRepository, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("storage: database path is required")
	}
	if strings.Contains(path, ":memory:") {
		return nil, errors.New("storage: in-memory databases are not supported")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("ошибка определения пути базы: %w", err)
	}

	if err := migrate(abs, log); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite3", abs+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия базы: %w", err)
	}
	// Один писатель: SQLite не любит конкурентные записи
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка подключения к базе: %w", err)
	}

	log.Info("[STORAGE] База данных открыта: %s", abs)
	return &SQLiteRepository{db: db, path: abs, log: log}, nil
}

// Path возвращает абсолютный путь к файлу базы
func (r *SQLiteRepository) Path() string {
	return r.path
}

// Close закрывает соединение с базой
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// SessionExists проверяет, есть ли записи с указанной сессией
func (r *SQLiteRepository) SessionExists(ctx context.Context, sessionID string) (bool, error) {
	var one int
	err := r.db.QueryRowContext(ctx,
		`SELECT 1 FROM sensor_readings WHERE session_id = ? LIMIT 1`, sessionID).Scan(&one)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return false, nil
	case err != nil:
		return false, wrapClosed(fmt.Errorf("ошибка проверки сессии %q: %w", sessionID, err))
	}
	return true, nil
}

// InsertReading сохраняет показание и возвращает его ID
func (r *SQLiteRepository) InsertReading(ctx context.Context, reading models.StoredReading) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`INSERT INTO sensor_readings
			(session_id, timestamp, elapsed_seconds, temperature, humidity, light, fire, s1, s2, sa)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		reading.SessionID,
		reading.Timestamp.Format(TimestampLayout),
		reading.ElapsedSeconds,
		reading.Temperature,
		reading.Humidity,
		reading.Light,
		models.BoolToFlag(reading.FireAlarm),
		reading.Sound1,
		reading.Sound2,
		models.BoolToFlag(reading.SoundAlarm),
	)
	if err != nil {
		return 0, wrapClosed(fmt.Errorf("ошибка записи показания: %w", err))
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("ошибка получения ID показания: %w", err)
	}
	return id, nil
}

// DistinctSessionIDs возвращает ID сессий, упорядоченные по последней записи (новые первыми)
func (r *SQLiteRepository) DistinctSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id FROM sensor_readings
		GROUP BY session_id
		ORDER BY MAX(timestamp) DESC, MAX(id) DESC`)
	if err != nil {
		return nil, wrapClosed(fmt.Errorf("ошибка получения списка сессий: %w", err))
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ошибка чтения ID сессии: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения списка сессий: %w", err)
	}
	return ids, nil
}

// SessionSummaries возвращает сводку по каждой сессии (новые первыми)
func (r *SQLiteRepository) SessionSummaries(ctx context.Context) ([]models.SessionSummary, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT session_id, COUNT(*), MIN(timestamp), MAX(timestamp) FROM sensor_readings
		GROUP BY session_id
		ORDER BY MAX(timestamp) DESC, MAX(id) DESC`)
	if err != nil {
		return nil, wrapClosed(fmt.Errorf("ошибка получения сводки сессий: %w", err))
	}
	defer rows.Close()

	var out []models.SessionSummary
	for rows.Next() {
		var s models.SessionSummary
		var first, last string
		if err := rows.Scan(&s.ID, &s.Readings, &first, &last); err != nil {
			return nil, fmt.Errorf("ошибка чтения сводки сессии: %w", err)
		}
		if s.FirstAt, err = parseTimestamp(first); err != nil {
			return nil, err
		}
		if s.LastAt, err = parseTimestamp(last); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения сводки сессий: %w", err)
	}
	return out, nil
}

// QueryReadings возвращает показания по фильтру, самые свежие первыми
func (r *SQLiteRepository) QueryReadings(ctx context.Context, filter models.ReadingFilter) ([]models.StoredReading, error) {
	query, args := buildQuery(filter)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapClosed(fmt.Errorf("ошибка выборки показаний: %w", err))
	}
	defer rows.Close()

	var out []models.StoredReading
	for rows.Next() {
		var (
			sr       models.StoredReading
			ts       string
			fire, sa int
		)
		if err := rows.Scan(&sr.ID, &sr.SessionID, &ts, &sr.ElapsedSeconds,
			&sr.Temperature, &sr.Humidity, &sr.Light, &fire, &sr.Sound1, &sr.Sound2, &sa); err != nil {
			return nil, fmt.Errorf("ошибка чтения показания: %w", err)
		}
		if sr.Timestamp, err = parseTimestamp(ts); err != nil {
			return nil, err
		}
		sr.FireAlarm = fire != 0
		sr.SoundAlarm = sa != 0
		out = append(out, sr)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ошибка чтения показаний: %w", err)
	}
	return out, nil
}

// buildQuery собирает SELECT с условиями фильтра, объединенными через AND
func buildQuery(filter models.ReadingFilter) (string, []any) {
	var (
		sb    strings.Builder
		conds []string
		args  []any
	)

	sb.WriteString(`SELECT id, session_id, timestamp, elapsed_seconds,
		COALESCE(temperature, 0), COALESCE(humidity, 0), COALESCE(light, 0),
		COALESCE(fire, 0), COALESCE(s1, 0), COALESCE(s2, 0), COALESCE(sa, 0)
		FROM sensor_readings`)

	if !filter.From.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, filter.From.Format(TimestampLayout))
	}
	if filter.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, filter.SessionID)
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY timestamp DESC, id DESC")
	if filter.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, filter.Limit)
	}
	return sb.String(), args
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.ParseInLocation(TimestampLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("некорректное время записи %q: %w", s, err)
	}
	return t, nil
}

// wrapClosed добавляет ErrClosed к ошибкам обращения к закрытой базе
func wrapClosed(err error) error {
	if strings.Contains(err.Error(), "sql: database is closed") {
		return fmt.Errorf("%w: %v", ErrClosed, err)
	}
	return err
}
