// Package repository persists finished call records.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	contractx "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/contract"
	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

type Config struct {
	DSN          string        `envconfig:"DSN"`
	MaxOpenConns int           `split_words:"true" default:"5" validate:"gte=1"`
	DialTimeout  time.Duration `split_words:"true" default:"5s"`
}

func (c Config) Enabled() bool {
	return strings.TrimSpace(c.DSN) != ""
}

// Open connects to Postgres and pings it.
func Open(ctx context.Context, cfg Config) (*bun.DB, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("%w: database dsn is required", contractx.ErrValidation)
	}
	connector := pgdriver.NewConnector(
		pgdriver.WithDSN(strings.TrimSpace(cfg.DSN)),
		pgdriver.WithDialTimeout(cfg.DialTimeout),
	)
	sqldb := sql.OpenDB(connector)
	if cfg.MaxOpenConns > 0 {
		sqldb.SetMaxOpenConns(cfg.MaxOpenConns)
	}

	db := bun.NewDB(sqldb, pgdialect.New())
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return db, nil
}

type callRecordModel struct {
	bun.BaseModel `bun:"table:call_records,alias:cr"`

	ID              string    `bun:"id,pk"`
	SessionID       string    `bun:"session_id,notnull"`
	VendorID        string    `bun:"vendor_id,notnull"`
	VendorName      string    `bun:"vendor_name"`
	Outcome         string    `bun:"outcome,notnull"`
	QuotedPrice     *float64  `bun:"quoted_price"`
	NegotiatedPrice *float64  `bun:"negotiated_price"`
	Suspicious      bool      `bun:"suspicious,notnull"`
	DurationSeconds int       `bun:"duration_seconds,notnull"`
	EndedReason     string    `bun:"ended_reason"`
	CreatedAt       time.Time `bun:"created_at,notnull"`
}

func toModel(rec contractx.CallRecord) callRecordModel {
	return callRecordModel{
		ID:              rec.ID,
		SessionID:       rec.SessionID,
		VendorID:        rec.VendorID,
		VendorName:      rec.VendorName,
		Outcome:         string(rec.Outcome),
		QuotedPrice:     rec.QuotedPrice,
		NegotiatedPrice: rec.NegotiatedPrice,
		Suspicious:      rec.Suspicious,
		DurationSeconds: rec.DurationSeconds,
		EndedReason:     rec.EndedReason,
		CreatedAt:       rec.CreatedAt.UTC(),
	}
}

func (m callRecordModel) toRecord() contractx.CallRecord {
	return contractx.CallRecord{
		ID:              m.ID,
		SessionID:       m.SessionID,
		VendorID:        m.VendorID,
		VendorName:      m.VendorName,
		Outcome:         statex.CallOutcome(m.Outcome),
		QuotedPrice:     m.QuotedPrice,
		NegotiatedPrice: m.NegotiatedPrice,
		Suspicious:      m.Suspicious,
		DurationSeconds: m.DurationSeconds,
		EndedReason:     m.EndedReason,
		CreatedAt:       m.CreatedAt,
	}
}

// PostgresCallLog stores call records in the call_records table.
type PostgresCallLog struct {
	db bun.IDB
}

var _ contractx.CallLog = (*PostgresCallLog)(nil)

func NewPostgresCallLog(db bun.IDB) *PostgresCallLog {
	return &PostgresCallLog{db: db}
}

// EnsureSchema creates the table and its session index when missing.
func (l *PostgresCallLog) EnsureSchema(ctx context.Context) error {
	if _, err := l.db.NewCreateTable().Model((*callRecordModel)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("create call_records: %w", err)
	}
	_, err := l.db.NewCreateIndex().
		Model((*callRecordModel)(nil)).
		Index("call_records_session_idx").
		Column("session_id", "created_at").
		IfNotExists().
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("create call_records index: %w", err)
	}
	return nil
}

// Record inserts rec. Recording the same call id again is a no-op.
func (l *PostgresCallLog) Record(ctx context.Context, rec contractx.CallRecord) error {
	if err := validateRecord(rec); err != nil {
		return err
	}
	m := toModel(rec)
	if _, err := l.db.NewInsert().Model(&m).On("CONFLICT (id) DO NOTHING").Exec(ctx); err != nil {
		return fmt.Errorf("insert call record %s: %w", rec.ID, err)
	}
	return nil
}

func (l *PostgresCallLog) ListBySession(ctx context.Context, sessionID string) ([]contractx.CallRecord, error) {
	var rows []callRecordModel
	err := l.db.NewSelect().
		Model(&rows).
		Where("session_id = ?", sessionID).
		Order("created_at ASC", "id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list call records for %s: %w", sessionID, err)
	}
	out := make([]contractx.CallRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

func validateRecord(rec contractx.CallRecord) error {
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.SessionID) == "" || strings.TrimSpace(rec.VendorID) == "" {
		return fmt.Errorf("%w: call record needs id, session and vendor", contractx.ErrValidation)
	}
	return nil
}
