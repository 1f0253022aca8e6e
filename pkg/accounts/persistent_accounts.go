package accounts

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/Overclock-Validator/quartz/pkg/base58"
	"github.com/cockroachdb/pebble"
	bin "github.com/gagliardetto/binary"
	"k8s.io/klog/v2"
)

// PersistentAccountsDb is a pebble-backed account store used by the CLI to
// keep fixtures between runs.
type PersistentAccountsDb struct {
	db   *pebble.DB
	slot uint64
}

func OpenAccountsDb(dir string) (*PersistentAccountsDb, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open accounts db %s: %w", dir, err)
	}
	klog.V(2).Infof("opened accounts db at %s", dir)
	return &PersistentAccountsDb{db: db}, nil
}

// SetSlot sets the slot recorded with subsequent writes.
func (m *PersistentAccountsDb) SetSlot(slot uint64) {
	m.slot = slot
}

func (m *PersistentAccountsDb) Close() error {
	return m.db.Close()
}

func (m *PersistentAccountsDb) get(pubkey *[32]byte) (*storedAccount, error) {
	acctBytes, closer, err := m.db.Get(pubkey[:])
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error whilst retrieving account %s: %w", base58.Encode(pubkey[:]), err)
	}
	defer closer.Close()

	rec := new(storedAccount)
	if err = rec.UnmarshalWithDecoder(bin.NewBinDecoder(acctBytes)); err != nil {
		return nil, fmt.Errorf("failed to deserialize account %s: %w", base58.Encode(pubkey[:]), err)
	}
	// decoder slices alias pebble memory, which is only valid until Close
	rec.Account.Data = bytes.Clone(rec.Account.Data)
	return rec, nil
}

func (m *PersistentAccountsDb) GetAccount(pubkey *[32]byte) (*Account, error) {
	rec, err := m.get(pubkey)
	if err != nil || rec == nil {
		return nil, err
	}
	return &rec.Account, nil
}

func (m *PersistentAccountsDb) SetAccount(pubkey *[32]byte, acct *Account) error {
	writer := new(bytes.Buffer)
	rec := storedAccount{Slot: m.slot, Account: *acct}
	if err := rec.MarshalWithEncoder(bin.NewBinEncoder(writer)); err != nil {
		return fmt.Errorf("failed to serialize account %s: %w", base58.Encode(pubkey[:]), err)
	}
	if err := m.db.Set(pubkey[:], writer.Bytes(), pebble.Sync); err != nil {
		return fmt.Errorf("error setting account for %s: %w", base58.Encode(pubkey[:]), err)
	}
	return nil
}

// SlotForAcct returns the slot at which the account was last written.
func (m *PersistentAccountsDb) SlotForAcct(pubkey *[32]byte) (uint64, error) {
	rec, err := m.get(pubkey)
	if err != nil {
		return 0, err
	}
	if rec == nil {
		return 0, fmt.Errorf("account %s not found", base58.Encode(pubkey[:]))
	}
	return rec.Slot, nil
}

// Keys returns all stored account keys in byte order.
func (m *PersistentAccountsDb) Keys() ([][32]byte, error) {
	iter, err := m.db.NewIter(nil)
	if err != nil {
		return nil, err
	}
	defer iter.Close()
	var keys [][32]byte
	for iter.First(); iter.Valid(); iter.Next() {
		if len(iter.Key()) != 32 {
			continue
		}
		var k [32]byte
		copy(k[:], iter.Key())
		keys = append(keys, k)
	}
	return keys, iter.Error()
}
