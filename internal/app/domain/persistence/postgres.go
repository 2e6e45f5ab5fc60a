package persistence

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/FACorreiaa/loci-planner/internal/app/models"
)

const recordsTable = "itinerary_records"

var recordColumns = []string{"record_key", "owner_id", "version", "payload", "updated_at"}

var (
	_ Backend    = (*PostgresStore)(nil)
	_ OwnerIndex = (*PostgresStore)(nil)
)

// DBTX is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// PostgresStore is the structured tier backed by Postgres.
type PostgresStore struct {
	logger *zap.Logger
	db     DBTX
	psql   sq.StatementBuilderType
}

func NewPostgresStore(db DBTX, logger *zap.Logger) *PostgresStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresStore{
		logger: logger,
		db:     db,
		psql:   sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
	}
}

func (s *PostgresStore) Name() string { return "postgres" }

func dbSpan(ctx context.Context, op, key string) (context.Context, trace.Span) {
	return otel.Tracer("PostgresStore").Start(ctx, op, trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", recordsTable),
		attribute.String("record.key", key),
	))
}

func (s *PostgresStore) Put(ctx context.Context, rec Record) error {
	ctx, span := dbSpan(ctx, "Put", rec.Key)
	defer span.End()

	l := s.logger.With(zap.String("method", "Put"), zap.String("key", rec.Key), zap.Int64("version", rec.Version))
	l.Debug("Upserting record")

	query, args, err := s.psql.Insert(recordsTable).
		Columns(recordColumns...).
		Values(rec.Key, rec.OwnerID, rec.Version, rec.Payload, rec.UpdatedAt).
		Suffix("ON CONFLICT (record_key) DO UPDATE SET owner_id = EXCLUDED.owner_id, version = EXCLUDED.version, payload = EXCLUDED.payload, updated_at = EXCLUDED.updated_at " +
			"WHERE " + recordsTable + ".version <= EXCLUDED.version").
		ToSql()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "Build query failed")
		return fmt.Errorf("building upsert: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		l.Error("Failed to upsert record", zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB UPSERT failed")
		return fmt.Errorf("database error saving record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var stored int64
		if err := s.db.QueryRow(ctx, "SELECT version FROM "+recordsTable+" WHERE record_key = $1", rec.Key).Scan(&stored); err != nil {
			l.Warn("Stale write refused, stored version unreadable", zap.Error(err))
		}
		l.Warn("Stale write refused", zap.Int64("stored_version", stored))
		span.SetStatus(codes.Error, "Stored version is newer")
		return staleWrite(rec, stored)
	}
	span.SetStatus(codes.Ok, "Record saved")
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (*Record, error) {
	ctx, span := dbSpan(ctx, "Get", key)
	defer span.End()

	query, args, err := s.psql.Select(recordColumns...).
		From(recordsTable).
		Where(sq.Eq{"record_key": key}).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}

	var rec Record
	err = s.db.QueryRow(ctx, query, args...).Scan(&rec.Key, &rec.OwnerID, &rec.Version, &rec.Payload, &rec.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		span.SetStatus(codes.Error, "Record not found")
		return nil, fmt.Errorf("record %s: %w", key, models.ErrNotFound)
	}
	if err != nil {
		s.logger.Error("Failed to load record", zap.String("method", "Get"), zap.String("key", key), zap.Error(err))
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error loading record: %w", err)
	}
	span.SetStatus(codes.Ok, "Record loaded")
	return &rec, nil
}

func (s *PostgresStore) Delete(ctx context.Context, key string) error {
	ctx, span := dbSpan(ctx, "Delete", key)
	defer span.End()

	query, args, err := s.psql.Delete(recordsTable).Where(sq.Eq{"record_key": key}).ToSql()
	if err != nil {
		return fmt.Errorf("building delete: %w", err)
	}
	tag, err := s.db.Exec(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB DELETE failed")
		return fmt.Errorf("database error deleting record: %w", err)
	}
	span.SetAttributes(attribute.Int64("db.rows_affected", tag.RowsAffected()))
	span.SetStatus(codes.Ok, "Record deleted")
	return nil
}

func (s *PostgresStore) ListByOwner(ctx context.Context, ownerID string) ([]Record, error) {
	ctx, span := otel.Tracer("PostgresStore").Start(ctx, "ListByOwner", trace.WithAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.sql.table", recordsTable),
		attribute.String("owner.id", ownerID),
	))
	defer span.End()

	query, args, err := s.psql.Select(recordColumns...).
		From(recordsTable).
		Where(sq.Eq{"owner_id": ownerID}).
		OrderBy("updated_at DESC").
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select: %w", err)
	}
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "DB SELECT failed")
		return nil, fmt.Errorf("database error listing records: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.Key, &rec.OwnerID, &rec.Version, &rec.Payload, &rec.UpdatedAt); err != nil {
			span.RecordError(err)
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("iterating records: %w", err)
	}
	span.SetStatus(codes.Ok, "Records listed")
	return out, nil
}
