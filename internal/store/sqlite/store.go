package sqlite

import (
	"bytes"
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fenilsonani/mailstate/internal/metrics"
	"github.com/fenilsonani/mailstate/internal/resilience"
	"github.com/fenilsonani/mailstate/internal/store"
)

// Store implements store.Store against a SQLite-backed DB, with every call
// running through a circuit breaker so a wedged database degrades to fast
// failures instead of piling up blocked goroutines, adapted from the
// teacher's resilience package (originally wired around SMTP delivery).
type Store struct {
	db      *DB
	breaker *resilience.CircuitBreaker
}

// New wraps db in a store.Store, guarding every call with a circuit
// breaker using cfg. Zero thresholds, cooldown and half-open limit in cfg
// fall back to NewCircuitBreaker's defaults; a zero ExecutionTimeout means
// no per-call timeout.
func New(db *DB, cfg resilience.Config) *Store {
	return &Store{db: db, breaker: resilience.NewCircuitBreaker(cfg)}
}

func (s *Store) do(ctx context.Context, fn func(ctx context.Context) error) error {
	err := s.breaker.Execute(ctx, fn)
	metrics.StoreCircuitState.Set(float64(s.breaker.State()))
	return err
}

func (s *Store) GetProperty(ctx context.Context, accountID uint32, collection store.Collection, documentID uint32, property store.Property) ([]byte, error) {
	var value []byte
	err := s.do(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx,
			`SELECT value FROM properties WHERE account_id=? AND collection=? AND document_id=? AND property=?`,
			accountID, collection, documentID, property)
		if err := row.Scan(&value); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				value = nil
				return nil
			}
			return err
		}
		return nil
	})
	return value, err
}

func (s *Store) GetTag(ctx context.Context, accountID uint32, collection store.Collection, property store.Property, tagValue uint32) (*store.Bitmap, error) {
	var ids []uint32
	err := s.do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT document_id FROM tags WHERE account_id=? AND collection=? AND property=? AND tag_value=?`,
			accountID, collection, property, tagValue)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uint32
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return store.NewBitmap(ids...), nil
}

func (s *Store) GetDocumentIDs(ctx context.Context, accountID uint32, collection store.Collection) (*store.Bitmap, error) {
	var ids []uint32
	err := s.do(ctx, func(ctx context.Context) error {
		rows, err := s.db.QueryContext(ctx,
			`SELECT document_id FROM documents WHERE account_id=? AND collection=?`,
			accountID, collection)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var id uint32
			if err := rows.Scan(&id); err != nil {
				return err
			}
			ids = append(ids, id)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return store.NewBitmap(ids...), nil
}

func (s *Store) GetLastChangeID(ctx context.Context, accountID uint32, collection store.Collection) (uint64, bool, error) {
	var id sql.NullInt64
	err := s.do(ctx, func(ctx context.Context) error {
		row := s.db.QueryRowContext(ctx,
			`SELECT MAX(change_id) FROM changelog WHERE account_id=? AND collection=?`,
			accountID, collection)
		return row.Scan(&id)
	})
	if err != nil {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, nil
	}
	return uint64(id.Int64), true, nil
}

func (s *Store) IndexValues(ctx context.Context, accountID uint32, collection store.Collection, property store.Property, ascending bool, cb store.IndexCallback) error {
	order := "ASC"
	if !ascending {
		order = "DESC"
	}

	return s.do(ctx, func(ctx context.Context) error {
		var (
			rows *sql.Rows
			err  error
		)
		if property == store.PropertyReceivedAt {
			query := fmt.Sprintf(`
				SELECT p.document_id, p.value
				FROM received_at_index r
				JOIN properties p
				  ON p.account_id = r.account_id AND p.collection = r.collection
				 AND p.document_id = r.document_id AND p.property = ?
				WHERE r.account_id = ? AND r.collection = ?
				ORDER BY r.received_at %s`, order)
			rows, err = s.db.QueryContext(ctx, query, property, accountID, collection)
		} else {
			query := fmt.Sprintf(`
				SELECT document_id, value FROM properties
				WHERE account_id=? AND collection=? AND property=?
				ORDER BY value %s`, order)
			rows, err = s.db.QueryContext(ctx, query, accountID, collection, property)
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				documentID uint32
				value      []byte
			)
			if err := rows.Scan(&documentID, &value); err != nil {
				return err
			}
			cont, err := cb(documentID, value)
			if err != nil {
				return err
			}
			if !cont {
				break
			}
		}
		return rows.Err()
	})
}

func (s *Store) Write(ctx context.Context, batch *store.Batch) error {
	return s.do(ctx, func(ctx context.Context) error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer tx.Rollback()

		if batch.HasAssert {
			var current []byte
			row := tx.QueryRowContext(ctx,
				`SELECT value FROM properties WHERE account_id=? AND collection=? AND document_id=? AND property=?`,
				batch.AccountID, batch.Collection, batch.DocumentID, batch.AssertProperty)
			if err := row.Scan(&current); err != nil && !errors.Is(err, sql.ErrNoRows) {
				return err
			}
			if !bytes.Equal(current, batch.AssertValue) {
				return store.ErrAssertValueFailed
			}
		}

		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO documents (account_id, collection, document_id) VALUES (?, ?, ?)`,
			batch.AccountID, batch.Collection, batch.DocumentID,
		); err != nil {
			return err
		}

		for property, value := range batch.Values {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO properties (account_id, collection, document_id, property, value)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT (account_id, collection, document_id, property) DO UPDATE SET value = excluded.value`,
				batch.AccountID, batch.Collection, batch.DocumentID, property, value,
			); err != nil {
				return err
			}

			if property == store.PropertyReceivedAt {
				receivedAt := decodeReceivedAt(value)
				if _, err := tx.ExecContext(ctx,
					`INSERT INTO received_at_index (account_id, collection, document_id, received_at)
					 VALUES (?, ?, ?, ?)
					 ON CONFLICT (account_id, collection, document_id) DO UPDATE SET received_at = excluded.received_at`,
					batch.AccountID, batch.Collection, batch.DocumentID, receivedAt,
				); err != nil {
					return err
				}
			}
		}

		var nextChangeID int64
		row := tx.QueryRowContext(ctx,
			`SELECT COALESCE(MAX(change_id), 0) + 1 FROM changelog WHERE account_id=? AND collection=?`,
			batch.AccountID, batch.Collection)
		if err := row.Scan(&nextChangeID); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO changelog (account_id, collection, change_id, change_kind, document_id) VALUES (?, ?, ?, ?, ?)`,
			batch.AccountID, batch.Collection, nextChangeID, store.ChangeUpdate, batch.DocumentID,
		); err != nil {
			return err
		}

		return tx.Commit()
	})
}

func (s *Store) Changes(ctx context.Context, accountID uint32, collection store.Collection, since *uint64) (store.ChangeLog, error) {
	var log store.ChangeLog
	err := s.do(ctx, func(ctx context.Context) error {
		var (
			rows *sql.Rows
			err  error
		)
		if since == nil {
			rows, err = s.db.QueryContext(ctx,
				`SELECT change_id, change_kind, document_id FROM changelog WHERE account_id=? AND collection=? ORDER BY change_id ASC`,
				accountID, collection)
		} else {
			rows, err = s.db.QueryContext(ctx,
				`SELECT change_id, change_kind, document_id FROM changelog WHERE account_id=? AND collection=? AND change_id > ? ORDER BY change_id ASC`,
				accountID, collection, *since)
		}
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				changeID   int64
				changeKind store.ChangeKind
				documentID uint32
			)
			if err := rows.Scan(&changeID, &changeKind, &documentID); err != nil {
				return err
			}
			log.Changes = append(log.Changes, store.Change{
				Kind: changeKind,
				ID:   uint64(changeID)<<32 | uint64(documentID),
			})
		}
		return rows.Err()
	})
	return log, err
}

// decodeReceivedAt mirrors internal/reconciler's decode: the low 32 bits of
// a little-endian-encoded stored value.
func decodeReceivedAt(raw []byte) uint32 {
	var v uint64
	for i, b := range raw {
		if i >= 8 {
			break
		}
		v |= uint64(b) << (8 * i)
	}
	return uint32(v)
}
