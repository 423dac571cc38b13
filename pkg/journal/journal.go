// Package journal is the durable record of swap attempts and executed fills.
//
// Every swap attempt is written as PENDING before it is sent and moved to
// SUBMITTED, CONFIRMED or FAILED afterwards, so records left in PENDING or
// SUBMITTED after a crash point at transactions whose outcome is unknown.
package journal

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"go.etcd.io/bbolt"

	"github.com/cookfi/cookfi-agent/internal/core/domain"
)

// Swap record states.
const (
	StatePending   = "PENDING"
	StateSubmitted = "SUBMITTED"
	StateConfirmed = "CONFIRMED"
	StateFailed    = "FAILED"
)

var (
	swapsBucket     = []byte("swaps")
	positionsBucket = []byte("positions")
)

// SwapRecord is one swap attempt.
type SwapRecord struct {
	ID         string    `json:"id"`
	CycleID    string    `json:"cycle_id,omitempty"`
	Chain      string    `json:"chain"`
	InputMint  string    `json:"input_mint"`
	OutputMint string    `json:"output_mint"`
	Amount     float64   `json:"amount"`
	Slippage   float64   `json:"slippage"`
	Attempt    int       `json:"attempt"`
	State      string    `json:"state"`
	Signature  string    `json:"signature,omitempty"`
	Error      string    `json:"error,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Terminal reports whether the record reached CONFIRMED or FAILED.
func (r *SwapRecord) Terminal() bool {
	return r.State == StateConfirmed || r.State == StateFailed
}

// Journal is a bbolt-backed store.
type Journal struct {
	db  *bbolt.DB
	now func() time.Time
}

// Open opens or creates the journal file at path.
func Open(path string) (*Journal, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "open journal %s", path)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{swapsBucket, positionsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return errors.Wrapf(err, "create bucket %s", name)
			}
		}
		return nil
	})
	if err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Journal{db: db, now: time.Now}, nil
}

// Close releases the file lock.
func (j *Journal) Close() error {
	return j.db.Close()
}

// Begin stores rec as PENDING, assigning an ID when it has none.
func (j *Journal) Begin(rec *SwapRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	now := j.now()
	rec.State = StatePending
	rec.CreatedAt = now
	rec.UpdatedAt = now
	return j.put(rec)
}

// Update moves the record to state and stores the signature or error text.
func (j *Journal) Update(id, state, signature, errMsg string) error {
	return j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(swapsBucket)
		raw := b.Get([]byte(id))
		if raw == nil {
			return errors.Errorf("swap record %s not found", id)
		}

		var rec SwapRecord
		if err := json.Unmarshal(raw, &rec); err != nil {
			return errors.Wrapf(err, "decode swap record %s", id)
		}
		rec.State = state
		if signature != "" {
			rec.Signature = signature
		}
		if errMsg != "" {
			rec.Error = errMsg
		}
		rec.UpdatedAt = j.now()

		data, err := json.Marshal(&rec)
		if err != nil {
			return errors.Wrap(err, "encode swap record")
		}
		return b.Put([]byte(id), data)
	})
}

func (j *Journal) put(rec *SwapRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return errors.Wrap(err, "encode swap record")
	}
	return j.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(swapsBucket).Put([]byte(rec.ID), data)
	})
}

// Load returns the record with id, or nil if there is none.
func (j *Journal) Load(id string) (*SwapRecord, error) {
	var rec *SwapRecord
	err := j.db.View(func(tx *bbolt.Tx) error {
		raw := tx.Bucket(swapsBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		rec = &SwapRecord{}
		return json.Unmarshal(raw, rec)
	})
	if err != nil {
		return nil, errors.Wrapf(err, "load swap record %s", id)
	}
	return rec, nil
}

// List returns records accepted by keep (all when keep is nil), oldest first.
func (j *Journal) List(keep func(*SwapRecord) bool) ([]*SwapRecord, error) {
	var out []*SwapRecord
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(swapsBucket).ForEach(func(_, v []byte) error {
			var rec SwapRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil // skip unreadable rows
			}
			if keep == nil || keep(&rec) {
				out = append(out, &rec)
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "list swap records")
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.Before(out[b].CreatedAt)
	})
	return out, nil
}

// Pending returns the records whose outcome is unknown.
func (j *Journal) Pending() ([]*SwapRecord, error) {
	return j.List(func(r *SwapRecord) bool { return !r.Terminal() })
}

// CleanupOld removes terminal records last updated more than maxAge ago.
func (j *Journal) CleanupOld(maxAge time.Duration) (int, error) {
	cutoff := j.now().Add(-maxAge)
	deleted := 0

	err := j.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(swapsBucket)
		var stale [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var rec SwapRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return nil
			}
			if rec.Terminal() && rec.UpdatedAt.Before(cutoff) {
				stale = append(stale, append([]byte(nil), k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
			deleted++
		}
		return nil
	})
	if err != nil {
		return 0, errors.Wrap(err, "cleanup swap records")
	}
	return deleted, nil
}

func fillKey(f domain.Fill) []byte {
	return []byte(fmt.Sprintf("%020d-%s", f.Timestamp.UnixNano(), f.TxHash))
}

// RecordFill appends an executed fill to the token's ledger.
func (j *Journal) RecordFill(f domain.Fill) error {
	if f.TokenAddress == "" {
		return errors.New("fill without token address")
	}
	if f.Timestamp.IsZero() {
		f.Timestamp = j.now()
	}
	data, err := json.Marshal(f)
	if err != nil {
		return errors.Wrap(err, "encode fill")
	}

	return j.db.Update(func(tx *bbolt.Tx) error {
		b, err := tx.Bucket(positionsBucket).CreateBucketIfNotExists([]byte(f.TokenAddress))
		if err != nil {
			return errors.Wrapf(err, "create ledger for %s", f.TokenAddress)
		}
		return b.Put(fillKey(f), data)
	})
}

// Fills returns the token's fills in time order.
func (j *Journal) Fills(tokenAddress string) ([]domain.Fill, error) {
	var out []domain.Fill
	err := j.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(positionsBucket).Bucket([]byte(tokenAddress))
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var f domain.Fill
			if err := json.Unmarshal(v, &f); err != nil {
				return err
			}
			out = append(out, f)
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read fills for %s", tokenAddress)
	}
	return out, nil
}

// Tokens lists every token address that has at least one fill.
func (j *Journal) Tokens() ([]string, error) {
	var out []string
	err := j.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(positionsBucket).ForEach(func(k, v []byte) error {
			if v == nil {
				out = append(out, string(k))
			}
			return nil
		})
	})
	if err != nil {
		return nil, errors.Wrap(err, "list ledger tokens")
	}
	return out, nil
}
