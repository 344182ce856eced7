package kv

import "go.etcd.io/bbolt"

// Update is an accumulating batch of store mutations. Callers queue work by
// calling the Update-receiver helpers spread across this package (SaveBlock,
// SetHead, DecRefState, ...); nothing touches disk until Commit runs every
// queued operation inside one bbolt transaction. Chain GC and block
// processing both build one Update per call and commit it once, so a
// crash mid-GC or mid-apply never leaves the store half-mutated.
type Update struct {
	s   *Store
	ops []func(tx *bbolt.Tx) error
}

// NewUpdate starts a fresh batch against s.
func (s *Store) NewUpdate() *Update { return &Update{s: s} }

func (u *Update) queue(fn func(tx *bbolt.Tx) error) { u.ops = append(u.ops, fn) }

// Commit applies every queued operation in a single read-write transaction.
func (u *Update) Commit() error {
	return u.s.db.Update(func(tx *bbolt.Tx) error {
		for _, op := range u.ops {
			if err := op(tx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Merge folds other's queued operations into u, preserving order. Used when
// a helper builds its own Update internally (e.g. trie.ApplyInsertions) and
// the caller wants to commit it alongside unrelated store mutations.
func (u *Update) Merge(other *Update) {
	u.ops = append(u.ops, other.ops...)
}
