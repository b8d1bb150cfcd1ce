package feedback

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Kind classifies a piece of detection feedback
type Kind string

const (
	KindFalsePositive Kind = "false_positive"
	KindFalseNegative Kind = "false_negative"
)

// ErrInvalidKind is returned for feedback kinds other than the two above
var ErrInvalidKind = errors.New("invalid feedback kind")

// ParseKind validates a feedback kind, accepting either case
func ParseKind(s string) (Kind, error) {
	switch Kind(strings.ToLower(strings.TrimSpace(s))) {
	case KindFalsePositive:
		return KindFalsePositive, nil
	case KindFalseNegative:
		return KindFalseNegative, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidKind, s)
}

// Entry is one feedback record
type Entry struct {
	ID            string    `db:"id" json:"id"`
	Kind          Kind      `db:"kind" json:"kind"`
	DetectionType string    `db:"detection_type" json:"detection_type"`
	Text          string    `db:"original_text" json:"text"`
	Context       string    `db:"context" json:"context,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
}

// Stats summarises stored feedback
type Stats struct {
	Total          int64            `json:"total"`
	FalsePositives int64            `json:"false_positives"`
	FalseNegatives int64            `json:"false_negatives"`
	ByType         map[string]int64 `json:"by_type"`
}

// BatchInsertResult represents the result of a batch insert operation
type BatchInsertResult struct {
	Inserted int64         `json:"inserted"`
	Failed   int64         `json:"failed"`
	Duration time.Duration `json:"duration"`
}

// Config contains database configuration
type Config struct {
	DatabaseURL     string        `yaml:"database_url" mapstructure:"database_url"`
	MaxOpenConns    int           `yaml:"max_open_conns" mapstructure:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns" mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" mapstructure:"conn_max_lifetime"`
}
