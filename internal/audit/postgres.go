package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"
)

// PostgresStore implements Store on PostgreSQL.
//
// Chained appends run inside a transaction that takes a transaction-
// scoped advisory lock on the chain key before reading the tip hash, so
// the read-prev/compute/insert sequence is serialized per key. The lock
// is released on commit or rollback. Reads take no locks and only ever
// see committed entries.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{db: db, logger: logger}
}

const insertEntryQuery = `
	INSERT INTO audit_entries
		(actor_id, action, module, object_type, object_id,
		 before_data, after_data, ip_address, user_agent, request_id,
		 prev_hash, current_hash, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING id
`

// Append inserts an unchained entry.
func (s *PostgresStore) Append(ctx context.Context, e *Entry) (*Entry, error) {
	stored := cloneEntry(e)
	err := s.db.QueryRowContext(ctx, insertEntryQuery,
		nullString(e.ActorID), e.Action, e.Module,
		nullString(e.ObjectType), nullString(e.ObjectID),
		nullRaw(e.BeforeData), nullRaw(e.AfterData),
		nullString(e.IPAddress), nullString(e.UserAgent), nullString(e.RequestID),
		nil, nil, e.CreatedAt,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return stored, nil
}

// AppendChained inserts a chained entry under a per-key advisory lock.
func (s *PostgresStore) AppendChained(ctx context.Context, e *Entry, compute func(prevHash string) (ChainLink, error)) (*Entry, error) {
	if e.Module == "" || e.ObjectType == "" || e.ObjectID == "" {
		return nil, ErrEmptyChainKey
	}

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		s.logger.Error("failed to begin chained append transaction",
			slog.String("error", err.Error()),
			slog.String("module", e.Module),
			slog.String("object_type", e.ObjectType),
			slog.String("object_id", e.ObjectID))
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback chained append transaction",
				slog.String("error", err.Error()))
		}
	}()

	key := chainKey(e.Module, e.ObjectType, e.ObjectID)
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return nil, fmt.Errorf("failed to lock chain key: %w", err)
	}

	var prev sql.NullString
	tipQuery := `
		SELECT current_hash FROM audit_entries
		WHERE module = $1 AND object_type = $2 AND object_id = $3
		  AND current_hash IS NOT NULL
		ORDER BY created_at DESC, id DESC
		LIMIT 1
	`
	err = tx.QueryRowContext(ctx, tipQuery, e.Module, e.ObjectType, e.ObjectID).Scan(&prev)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read chain tip: %w", err)
	}

	link, err := compute(prev.String)
	if err != nil {
		return nil, err
	}
	e.Link = link

	stored := cloneEntry(e)
	err = tx.QueryRowContext(ctx, insertEntryQuery,
		nullString(e.ActorID), e.Action, e.Module,
		e.ObjectType, e.ObjectID,
		nullRaw(e.BeforeData), nullRaw(e.AfterData),
		nullString(e.IPAddress), nullString(e.UserAgent), nullString(e.RequestID),
		nullString(link.PrevHash), link.CurrentHash, e.CreatedAt,
	).Scan(&stored.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to insert chained audit entry: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit chained append: %w", err)
	}
	return stored, nil
}

// EntriesForObject returns all entries for one (module, object) pair
// ordered by (created_at, id) ascending.
func (s *PostgresStore) EntriesForObject(ctx context.Context, module, objectType, objectID string) ([]*Entry, error) {
	query := `
		SELECT id, actor_id, action, module, object_type, object_id,
		       before_data, after_data, ip_address, user_agent, request_id,
		       prev_hash, current_hash, created_at
		FROM audit_entries
		WHERE module = $1 AND object_type = $2 AND object_id = $3
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, module, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var entries []*Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit entries: %w", err)
	}
	return entries, nil
}

// ActionsForObject returns recorded action names in creation order.
func (s *PostgresStore) ActionsForObject(ctx context.Context, module, objectType, objectID string) ([]string, error) {
	query := `
		SELECT action FROM audit_entries
		WHERE module = $1 AND object_type = $2 AND object_id = $3
		ORDER BY created_at ASC, id ASC
	`
	rows, err := s.db.QueryContext(ctx, query, module, objectType, objectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit actions: %w", err)
	}
	defer rows.Close()

	var actions []string
	for rows.Next() {
		var action string
		if err := rows.Scan(&action); err != nil {
			return nil, fmt.Errorf("failed to scan audit action: %w", err)
		}
		actions = append(actions, action)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audit actions: %w", err)
	}
	return actions, nil
}

// ObjectsInWindow returns distinct audited objects active in the window,
// most recently active first.
func (s *PostgresStore) ObjectsInWindow(ctx context.Context, modules []string, since time.Time, objectType string, limit int) ([]ObjectKey, error) {
	query := `
		SELECT object_type, object_id
		FROM audit_entries
		WHERE module = ANY($1)
		  AND created_at >= $2
		  AND object_type IS NOT NULL AND object_type <> ''
		  AND object_id IS NOT NULL AND object_id <> ''
		  AND ($3 = '' OR object_type = $3)
		GROUP BY object_type, object_id
		ORDER BY MAX(created_at) DESC
		LIMIT $4
	`
	rows, err := s.db.QueryContext(ctx, query, pq.Array(modules), since, objectType, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query audited objects: %w", err)
	}
	defer rows.Close()

	var keys []ObjectKey
	for rows.Next() {
		var k ObjectKey
		if err := rows.Scan(&k.ObjectType, &k.ObjectID); err != nil {
			return nil, fmt.Errorf("failed to scan audited object: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate audited objects: %w", err)
	}
	return keys, nil
}

func scanEntry(rows *sql.Rows) (*Entry, error) {
	var (
		e          Entry
		actorID    sql.NullString
		objectType sql.NullString
		objectID   sql.NullString
		before     []byte
		after      []byte
		ipAddress  sql.NullString
		userAgent  sql.NullString
		requestID  sql.NullString
		prevHash   sql.NullString
		currHash   sql.NullString
	)
	err := rows.Scan(&e.ID, &actorID, &e.Action, &e.Module, &objectType, &objectID,
		&before, &after, &ipAddress, &userAgent, &requestID,
		&prevHash, &currHash, &e.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to scan audit entry: %w", err)
	}
	e.ActorID = actorID.String
	e.ObjectType = objectType.String
	e.ObjectID = objectID.String
	if len(before) > 0 {
		e.BeforeData = json.RawMessage(before)
	}
	if len(after) > 0 {
		e.AfterData = json.RawMessage(after)
	}
	e.IPAddress = ipAddress.String
	e.UserAgent = userAgent.String
	e.RequestID = requestID.String
	e.Link = ChainLink{
		Chained:     currHash.Valid,
		PrevHash:    prevHash.String,
		CurrentHash: currHash.String,
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}
