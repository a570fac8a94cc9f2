/*
Package storage implements the GroupStateStorage external collaborator
the engine leaves abstract: a transactional, per-group key-value store for
a current snapshot plus a ring of epoch records, with an open-ended
prune below a retention floor. The engine never decides how or where
bytes are kept — it only ever calls Write with one atomic bundle.
*/
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
)

// ErrNotFound is returned by State/Epoch/MaxEpochID when nothing is on
// file for the requested group, an explicit sentinel in place of a
// generic bool/ok pair at every call site.
var ErrNotFound = errors.New("storage: not found")

// EpochRecord is one row of the epoch ring: `epoch(group_id, epoch_id,
// data)`.
type EpochRecord struct {
	EpochID uint64
	Data    []byte
}

// GroupStateStorage is the storage capability a group needs: read the
// current snapshot, read or enumerate epoch records, and perform a
// single atomic write per group.
type GroupStateStorage interface {
	State(ctx context.Context, groupID []byte) ([]byte, error)
	Epoch(ctx context.Context, groupID []byte, epochID uint64) ([]byte, error)
	MaxEpochID(ctx context.Context, groupID []byte) (uint64, error)
	Write(ctx context.Context, groupID []byte, snapshot []byte, epochInserts, epochUpdates []EpochRecord, deleteUnder uint64) error
}

// EpochArchiver is consulted by PostgresGroupStateStorage.Write just
// before an epoch row falls below deleteUnder and is dropped from
// Postgres, so retention pruning doesn't mean the epoch is gone for
// audit replay — only that it's no longer in the hot path.
type EpochArchiver interface {
	Archive(ctx context.Context, groupID []byte, epochID uint64, data []byte) error
}

// PostgresGroupStateStorage is a GroupStateStorage backed by Postgres,
// following the teacher's *sql.DB-wrapping Service shape: plain SQL,
// explicit transactions for anything that must be atomic, bracketed
// log lines on the slow/administrative paths.
type PostgresGroupStateStorage struct {
	db       *sql.DB
	archiver EpochArchiver
	logger   *log.Logger
}

// NewPostgresGroupStateStorage wraps an already-connected *sql.DB. A
// nil archiver means pruned epochs are dropped outright; a nil logger
// falls back to log.Default(), per the ambient logging convention.
func NewPostgresGroupStateStorage(db *sql.DB, archiver EpochArchiver, logger *log.Logger) *PostgresGroupStateStorage {
	if logger == nil {
		logger = log.Default()
	}
	return &PostgresGroupStateStorage{db: db, archiver: archiver, logger: logger}
}

// State returns the current snapshot for groupID, per
// `state(group_id)→optional<snapshot_bytes>`.
func (s *PostgresGroupStateStorage) State(ctx context.Context, groupID []byte) ([]byte, error) {
	var snapshot []byte
	err := s.db.QueryRowContext(ctx, `SELECT snapshot FROM mls_group WHERE group_id = $1`, groupID).Scan(&snapshot)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read group state: %w", err)
	}
	return snapshot, nil
}

// Epoch returns one archived epoch record, per
// `epoch(group_id, epoch_id)→optional<epoch_bytes>`.
func (s *PostgresGroupStateStorage) Epoch(ctx context.Context, groupID []byte, epochID uint64) ([]byte, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM epoch WHERE group_id = $1 AND epoch_id = $2`, groupID, epochID,
	).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("storage: read epoch %d: %w", epochID, err)
	}
	return data, nil
}

// MaxEpochID returns the highest epoch id on file for groupID, per
// `max_epoch_id(group_id)→optional<u64>`.
func (s *PostgresGroupStateStorage) MaxEpochID(ctx context.Context, groupID []byte) (uint64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(epoch_id) FROM epoch WHERE group_id = $1`, groupID).Scan(&max)
	if err != nil {
		return 0, fmt.Errorf("storage: read max epoch id: %w", err)
	}
	if !max.Valid {
		return 0, ErrNotFound
	}
	return uint64(max.Int64), nil
}

// Write commits snapshot, epochInserts, epochUpdates, and a prune of
// every epoch below deleteUnder as a single transaction: a
// read-modify-write of a group snapshot must appear atomic. Epochs
// about to be pruned are handed to the archiver, if any, before the
// delete, and only committed once the archive call succeeds, so a
// failed archive aborts the whole write rather than silently losing
// history.
func (s *PostgresGroupStateStorage) Write(ctx context.Context, groupID []byte, snapshot []byte, epochInserts, epochUpdates []EpochRecord, deleteUnder uint64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("storage: begin write transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO mls_group (group_id, snapshot) VALUES ($1, $2)
		ON CONFLICT (group_id) DO UPDATE SET snapshot = EXCLUDED.snapshot
	`, groupID, snapshot)
	if err != nil {
		return fmt.Errorf("storage: upsert group snapshot: %w", err)
	}

	for _, rec := range epochInserts {
		_, err = tx.ExecContext(ctx, `
			INSERT INTO epoch (group_id, epoch_id, data) VALUES ($1, $2, $3)
			ON CONFLICT (group_id, epoch_id) DO UPDATE SET data = EXCLUDED.data
		`, groupID, rec.EpochID, rec.Data)
		if err != nil {
			return fmt.Errorf("storage: insert epoch %d: %w", rec.EpochID, err)
		}
	}
	for _, rec := range epochUpdates {
		_, err = tx.ExecContext(ctx, `UPDATE epoch SET data = $3 WHERE group_id = $1 AND epoch_id = $2`,
			groupID, rec.EpochID, rec.Data)
		if err != nil {
			return fmt.Errorf("storage: update epoch %d: %w", rec.EpochID, err)
		}
	}

	if deleteUnder > 0 {
		if s.archiver != nil {
			rows, err := tx.QueryContext(ctx, `SELECT epoch_id, data FROM epoch WHERE group_id = $1 AND epoch_id < $2`, groupID, deleteUnder)
			if err != nil {
				return fmt.Errorf("storage: select epochs to prune: %w", err)
			}
			var pruned []EpochRecord
			for rows.Next() {
				var rec EpochRecord
				if err := rows.Scan(&rec.EpochID, &rec.Data); err != nil {
					rows.Close()
					return fmt.Errorf("storage: scan epoch to prune: %w", err)
				}
				pruned = append(pruned, rec)
			}
			rows.Close()

			for _, rec := range pruned {
				if err := s.archiver.Archive(ctx, groupID, rec.EpochID, rec.Data); err != nil {
					return fmt.Errorf("storage: archive epoch %d before prune: %w", rec.EpochID, err)
				}
			}
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM epoch WHERE group_id = $1 AND epoch_id < $2`, groupID, deleteUnder)
		if err != nil {
			return fmt.Errorf("storage: prune epochs below %d: %w", deleteUnder, err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			s.logger.Printf("[storage] pruned %d epoch(s) below %d for group", n, deleteUnder)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("storage: commit write transaction: %w", err)
	}
	return nil
}
