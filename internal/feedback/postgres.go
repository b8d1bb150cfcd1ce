package feedback

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS detection_feedback (
	id             UUID PRIMARY KEY,
	kind           TEXT NOT NULL CHECK (kind IN ('false_positive', 'false_negative')),
	detection_type TEXT NOT NULL,
	original_text  TEXT NOT NULL,
	context        TEXT NOT NULL DEFAULT '',
	created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS idx_detection_feedback_type ON detection_feedback (detection_type, kind);`

const insertColumns = 6

// PostgresStore handles feedback storage in PostgreSQL
type PostgresStore struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// NewPostgresStore connects to the database and ensures the feedback table exists
func NewPostgresStore(config Config, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sqlx.Connect("postgres", config.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)

	store := &PostgresStore{
		db:     db,
		logger: logger,
	}

	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	logger.Info("Feedback store initialized successfully",
		zap.String("database_url", maskDatabaseURL(config.DatabaseURL)),
		zap.Int("max_open_conns", config.MaxOpenConns),
		zap.Int("max_idle_conns", config.MaxIdleConns))

	return store, nil
}

// initialize checks the connection and creates the schema
func (s *PostgresStore) initialize() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to create feedback schema: %w", err)
	}

	return nil
}

// BatchInsert adds multiple feedback entries in one statement
func (s *PostgresStore) BatchInsert(ctx context.Context, entries []Entry) (*BatchInsertResult, error) {
	if len(entries) == 0 {
		return &BatchInsertResult{}, nil
	}

	start := time.Now()
	result := &BatchInsertResult{}

	query, args := buildBatchInsert(entries)
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		result.Failed = int64(len(entries))
		s.logger.Error("Feedback batch insert failed", zap.Error(err))
		return result, fmt.Errorf("batch insert failed: %w", err)
	}

	inserted, err := res.RowsAffected()
	if err != nil {
		s.logger.Warn("Could not get rows affected", zap.Error(err))
		inserted = int64(len(entries))
	}

	result.Inserted = inserted
	result.Duration = time.Since(start)

	s.logger.Debug("Feedback batch insert completed",
		zap.Int64("inserted", result.Inserted),
		zap.Int64("duplicates_skipped", int64(len(entries))-inserted),
		zap.Duration("duration", result.Duration))

	return result, nil
}

func buildBatchInsert(entries []Entry) (string, []interface{}) {
	valueStrings := make([]string, 0, len(entries))
	valueArgs := make([]interface{}, 0, len(entries)*insertColumns)

	for i, e := range entries {
		n := i * insertColumns
		valueStrings = append(valueStrings, fmt.Sprintf("($%d, $%d, $%d, $%d, $%d, $%d)", n+1, n+2, n+3, n+4, n+5, n+6))
		valueArgs = append(valueArgs,
			e.ID,
			string(e.Kind),
			e.DetectionType,
			e.Text,
			e.Context,
			e.CreatedAt,
		)
	}

	query := fmt.Sprintf(`
		INSERT INTO detection_feedback (id, kind, detection_type, original_text, context, created_at)
		VALUES %s
		ON CONFLICT (id) DO NOTHING`,
		strings.Join(valueStrings, ","))

	return query, valueArgs
}

// GetStats returns feedback counts per kind and detection type
func (s *PostgresStore) GetStats(ctx context.Context) (*Stats, error) {
	var rows []struct {
		Kind          Kind   `db:"kind"`
		DetectionType string `db:"detection_type"`
		Count         int64  `db:"count"`
	}

	query := `
		SELECT kind, detection_type, COUNT(*) AS count
		FROM detection_feedback
		GROUP BY kind, detection_type`

	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to get feedback stats: %w", err)
	}

	stats := &Stats{ByType: make(map[string]int64)}
	for _, r := range rows {
		stats.Total += r.Count
		stats.ByType[r.DetectionType] += r.Count
		switch r.Kind {
		case KindFalsePositive:
			stats.FalsePositives += r.Count
		case KindFalseNegative:
			stats.FalseNegatives += r.Count
		}
	}

	return stats, nil
}

// Recent returns the newest entries, optionally filtered by detection type
func (s *PostgresStore) Recent(ctx context.Context, detectionType string, limit int) ([]Entry, error) {
	query := `
		SELECT id, kind, detection_type, original_text, context, created_at
		FROM detection_feedback`
	args := []interface{}{}

	if detectionType != "" {
		query += " WHERE detection_type = $1"
		args = append(args, detectionType)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC LIMIT $%d", len(args)+1)
	args = append(args, limit)

	var entries []Entry
	if err := s.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	return entries, nil
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// maskDatabaseURL masks the password in a database URL for logging
func maskDatabaseURL(url string) string {
	at := strings.LastIndex(url, "@")
	if at < 0 {
		return url
	}

	prefix, userInfo := "", url[:at]
	if scheme := strings.Index(userInfo, "://"); scheme >= 0 {
		prefix, userInfo = userInfo[:scheme+3], userInfo[scheme+3:]
	}

	colon := strings.Index(userInfo, ":")
	if colon < 0 {
		return url
	}
	return prefix + userInfo[:colon+1] + "***" + url[at:]
}
