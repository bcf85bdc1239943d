package archive

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/lib/pq"

	"github.com/onnwee/spotstr/internal/location"
	"github.com/onnwee/spotstr/internal/tracing"
	"github.com/onnwee/spotstr/migrations"
)

const table = "location_events"

const columns = `id, event_id, kind, created_at, sender, receiver, d_tag,
	geohash, name, accuracy, expiry, tags, ciphertext, relay`

const upsertQuery = `
	INSERT INTO location_events (` + columns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	ON CONFLICT (id) DO UPDATE SET
		event_id    = EXCLUDED.event_id,
		kind        = EXCLUDED.kind,
		created_at  = EXCLUDED.created_at,
		sender      = EXCLUDED.sender,
		receiver    = EXCLUDED.receiver,
		d_tag       = EXCLUDED.d_tag,
		geohash     = EXCLUDED.geohash,
		name        = EXCLUDED.name,
		accuracy    = EXCLUDED.accuracy,
		expiry      = EXCLUDED.expiry,
		tags        = EXCLUDED.tags,
		ciphertext  = EXCLUDED.ciphertext,
		relay       = EXCLUDED.relay,
		archived_at = NOW()
	WHERE EXCLUDED.created_at > location_events.created_at
	   OR (EXCLUDED.created_at = location_events.created_at
	       AND (EXCLUDED.geohash <> 'encrypted' OR location_events.geohash = 'encrypted'))
`

// PostgresRepository implements Repository on PostgreSQL.
type PostgresRepository struct {
	db *sql.DB
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, wrapErr("ping database", err)
	}
	return db, nil
}

func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (r *PostgresRepository) Migrate(ctx context.Context) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationExec)
	defer func() { endSpan(err) }()

	scripts, err := migrations.Up()
	if err != nil {
		return fmt.Errorf("load migrations: %w", err)
	}
	for i, script := range scripts {
		if _, err = r.db.ExecContext(ctx, script); err != nil {
			return wrapErr("apply migration "+strconv.Itoa(i+1), err)
		}
	}
	return nil
}

func (r *PostgresRepository) Save(ctx context.Context, evt *location.Event) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationUpsert)
	defer func() { endSpan(err) }()

	var tags []byte
	if evt.Tags != nil {
		if tags, err = json.Marshal(evt.Tags); err != nil {
			return fmt.Errorf("encode tags: %w", err)
		}
	}

	_, err = r.db.ExecContext(ctx, upsertQuery,
		evt.ID, evt.EventID, evt.Kind, evt.CreatedAt, evt.Sender, evt.Receiver, evt.DTag,
		evt.Geohash, evt.Name, evt.Accuracy, evt.Expiry, tags, evt.Ciphertext, evt.Relay,
	)
	if err != nil {
		return wrapErr("save location event", err)
	}
	return nil
}

func (r *PostgresRepository) Get(ctx context.Context, id string) (evt *location.Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM location_events WHERE id = $1`, id)
	evt, err = scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, wrapErr("get location event", err)
	}
	return evt, nil
}

func (r *PostgresRepository) List(ctx context.Context, f Filter) (events []*location.Event, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.Sender != "" {
		add("sender = ?", f.Sender)
	}
	if f.Receiver != "" {
		add("receiver = ?", f.Receiver)
	}
	if f.Since > 0 {
		add("created_at >= ?", f.Since)
	}
	if f.ExcludeExpiredAt > 0 {
		add("(expiry = 0 OR expiry > ?)", f.ExcludeExpiredAt)
	}

	query := `SELECT ` + columns + ` FROM location_events`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, f.limit())
	query += ` ORDER BY created_at DESC, id ASC LIMIT $` + strconv.Itoa(len(args))

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, wrapErr("list location events", err)
	}
	defer rows.Close()

	for rows.Next() {
		evt, err := scanEvent(rows)
		if err != nil {
			return nil, wrapErr("scan location event", err)
		}
		events = append(events, evt)
	}
	if err = rows.Err(); err != nil {
		return nil, wrapErr("iterate location events", err)
	}
	return events, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now int64) (n int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, table, tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := r.db.ExecContext(ctx, `DELETE FROM location_events WHERE expiry > 0 AND expiry <= $1`, now)
	if err != nil {
		return 0, wrapErr("delete expired location events", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanEvent(s scanner) (*location.Event, error) {
	var (
		evt  location.Event
		tags []byte
	)
	err := s.Scan(
		&evt.ID, &evt.EventID, &evt.Kind, &evt.CreatedAt, &evt.Sender, &evt.Receiver, &evt.DTag,
		&evt.Geohash, &evt.Name, &evt.Accuracy, &evt.Expiry, &tags, &evt.Ciphertext, &evt.Relay,
	)
	if err != nil {
		return nil, err
	}
	if len(tags) > 0 {
		if err := json.Unmarshal(tags, &evt.Tags); err != nil {
			return nil, fmt.Errorf("decode tags: %w", err)
		}
	}
	return &evt, nil
}

// wrapErr adds the Postgres error code name when one is available.
func wrapErr(op string, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fmt.Errorf("%s (%s): %w", op, pqErr.Code.Name(), err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
