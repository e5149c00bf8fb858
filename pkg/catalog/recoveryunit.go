package catalog

import (
	"fmt"
	"sync"

	"go.etcd.io/bbolt"
)

// Change is a post-commit callback. Registered changes fire in reverse
// order of registration, after the underlying transaction has committed.
type Change func()

// RecoveryUnit is a transactional scope attached to an operation (§4.7).
// beginUnitOfWork nests a depth counter; commitUnitOfWork commits the
// underlying engine transaction; uncommitted work is abandoned only by an
// explicit Rollback call, never by dropping the unit. depth must reach 0
// before the unit is discarded.
type RecoveryUnit interface {
	BeginUnitOfWork() error
	CommitUnitOfWork() error
	Rollback() error
	RegisterChange(c Change)
	Tx() *bbolt.Tx
}

// boltRecoveryUnit wraps a single bbolt write transaction with an explicit
// nesting depth, the way the catalog's unit-of-work composes with bbolt's
// flat (non-nested) transaction model: only the outermost
// BeginUnitOfWork/CommitUnitOfWork pair actually opens/commits the bolt.Tx.
type boltRecoveryUnit struct {
	mu      sync.Mutex
	db      *bbolt.DB
	tx      *bbolt.Tx
	depth   int
	changes []Change
}

// NewBoltRecoveryUnit builds a RecoveryUnit backed by db. The transaction is
// opened lazily on the first BeginUnitOfWork.
func NewBoltRecoveryUnit(db *bbolt.DB) RecoveryUnit {
	return &boltRecoveryUnit{db: db}
}

func (u *boltRecoveryUnit) BeginUnitOfWork() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.depth == 0 {
		tx, err := u.db.Begin(true)
		if err != nil {
			return err
		}
		u.tx = tx
	}
	u.depth++
	return nil
}

func (u *boltRecoveryUnit) CommitUnitOfWork() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.depth == 0 {
		return fmt.Errorf("catalog: commitUnitOfWork called with depth already 0")
	}
	u.depth--
	if u.depth > 0 {
		return nil
	}
	if err := u.tx.Commit(); err != nil {
		u.tx = nil
		return err
	}
	u.tx = nil
	for i := len(u.changes) - 1; i >= 0; i-- {
		u.changes[i]()
	}
	u.changes = nil
	return nil
}

func (u *boltRecoveryUnit) Rollback() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.tx == nil {
		return nil
	}
	err := u.tx.Rollback()
	u.tx = nil
	u.depth = 0
	u.changes = nil
	return err
}

func (u *boltRecoveryUnit) RegisterChange(c Change) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.changes = append(u.changes, c)
}

func (u *boltRecoveryUnit) Tx() *bbolt.Tx {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.tx
}
