package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/matheus3301/remotememo/internal/errors"
	"github.com/matheus3301/remotememo/internal/trust"
)

func scanBlock(s scanner) (*StoredBlock, error) {
	var b StoredBlock
	var ledger string
	var created int64
	if err := s.Scan(&b.BlockNumber, &b.PreviousHash, &b.Hash, &ledger, &created); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(ledger), &b.Ledger); err != nil {
		return nil, errors.Wrapf(err, "decode ledger of block %d", b.BlockNumber)
	}
	if b.Ledger == nil {
		b.Ledger = trust.Ledger{}
	}
	b.CreatedAt = time.UnixMilli(created)
	return &b, nil
}

func tipBlock(ctx context.Context, q queryer) (*StoredBlock, error) {
	b, err := scanBlock(q.QueryRowContext(ctx,
		`SELECT block_number, previous_hash, hash, ledger, created_at FROM trust_blocks ORDER BY seq DESC LIMIT 1`))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "tip block")
	}
	return b, nil
}

func insertBlock(ctx context.Context, q queryer, b trust.Block, at time.Time) error {
	ledger := b.Ledger
	if ledger == nil {
		ledger = trust.Ledger{}
	}
	raw, err := json.Marshal(ledger)
	if err != nil {
		return errors.Wrap(err, "encode ledger")
	}
	if _, err := q.ExecContext(ctx,
		`INSERT INTO trust_blocks (block_number, previous_hash, hash, ledger, created_at) VALUES (?, ?, ?, ?, ?)`,
		b.BlockNumber, b.PreviousHash, b.Hash, string(raw), at.UnixMilli()); err != nil {
		return errors.Wrapf(err, "insert block %d", b.BlockNumber)
	}
	return nil
}

// AppendBlock persists b as the new tip. A block whose hash equals the
// current tip's hash is ignored and reported as not appended.
func (db *DB) AppendBlock(ctx context.Context, b trust.Block) (bool, error) {
	appended := false
	err := db.write(ctx, func(tx *sql.Tx) error {
		tip, err := tipBlock(ctx, tx)
		if err != nil {
			return err
		}
		if tip != nil && tip.Hash == b.Hash {
			return nil
		}
		if err := insertBlock(ctx, tx, b, time.Now()); err != nil {
			return err
		}
		appended = true
		return nil
	})
	return appended, err
}

// AppendIfExtends appends b only when its previous hash equals the current
// tip hash (or the chain is empty and b is a genesis block). It returns
// ErrChainMismatch otherwise and leaves the chain untouched.
func (db *DB) AppendIfExtends(ctx context.Context, b trust.Block) (bool, error) {
	appended := false
	err := db.write(ctx, func(tx *sql.Tx) error {
		tip, err := tipBlock(ctx, tx)
		if err != nil {
			return err
		}
		tipHash := ""
		if tip != nil {
			tipHash = tip.Hash
			if tip.Hash == b.Hash {
				return nil
			}
		}
		if b.PreviousHash != tipHash {
			return errors.Wrapf(errors.ErrChainMismatch, "block %d links to %q, tip is %q", b.BlockNumber, b.PreviousHash, tipHash)
		}
		if err := insertBlock(ctx, tx, b, time.Now()); err != nil {
			return err
		}
		appended = true
		return nil
	})
	return appended, err
}

// TipBlock returns the most recent block, or nil on an empty chain.
func (db *DB) TipBlock(ctx context.Context) (*trust.Block, error) {
	b, err := tipBlock(ctx, db)
	if err != nil || b == nil {
		return nil, err
	}
	return &b.Block, nil
}

// StoredBlocks returns the chain in creation order with creation times.
func (db *DB) StoredBlocks(ctx context.Context) ([]StoredBlock, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT block_number, previous_hash, hash, ledger, created_at FROM trust_blocks ORDER BY seq ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "list blocks")
	}
	defer func() { _ = rows.Close() }()

	var out []StoredBlock
	for rows.Next() {
		b, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}

// Blocks returns the chain in creation order.
func (db *DB) Blocks(ctx context.Context) ([]trust.Block, error) {
	stored, err := db.StoredBlocks(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]trust.Block, len(stored))
	for i := range stored {
		out[i] = stored[i].Block
	}
	return out, nil
}

// PruneBlocksOlderThan removes blocks created before now-retention.
func (db *DB) PruneBlocksOlderThan(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UnixMilli()
	var n int64
	err := db.write(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `DELETE FROM trust_blocks WHERE created_at < ?`, cutoff)
		if err != nil {
			return errors.Wrap(err, "prune blocks")
		}
		n, _ = res.RowsAffected()
		return nil
	})
	return n, err
}

// OverwriteWithSingle discards the whole local chain and stores exactly the
// peer's block. The previous history is not recoverable.
func (db *DB) OverwriteWithSingle(ctx context.Context, b trust.Block) error {
	return db.write(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM trust_blocks`); err != nil {
			return errors.Wrap(err, "drop chain")
		}
		return insertBlock(ctx, tx, b, time.Now())
	})
}
