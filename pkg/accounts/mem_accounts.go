package accounts

import "sync"

// MemAccounts is an in-memory account store safe for concurrent use.
type MemAccounts struct {
	mu  *sync.RWMutex
	Map map[[32]byte]*Account
}

func NewMemAccounts() MemAccounts {
	return MemAccounts{
		mu:  new(sync.RWMutex),
		Map: make(map[[32]byte]*Account),
	}
}

func (m MemAccounts) GetAccount(pubkey *[32]byte) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	acc, ok := m.Map[*pubkey]
	if !ok {
		return nil, nil
	}
	return acc.Clone(), nil
}

func (m MemAccounts) SetAccount(pubkey *[32]byte, acc *Account) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Map[*pubkey] = acc.Clone()
	return nil
}
