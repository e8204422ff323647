package state

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/socious-io/socious-smart-contracts/native/donation"
	"github.com/socious-io/socious-smart-contracts/native/escrow"
	"github.com/socious-io/socious-smart-contracts/native/lending"
	"github.com/socious-io/socious-smart-contracts/native/token"
	"github.com/socious-io/socious-smart-contracts/storage"
)

var (
	escrowSeqKey       = []byte("escrow/seq")
	escrowKeyFormat    = "escrow/%d"
	lendingKeyPrefix   = "lending/project/"
	donationSentPrefix = "donation/sent/"
	donationRecvPrefix = "donation/received/"
)

// Manager persists engine records into a storage.Database as JSON under
// namespaced keys. One Manager serves all engines; its mutex guards the
// read-modify-write cycles (the escrow sequence counter, donation journals)
// against concurrent callers.
type Manager struct {
	mu sync.Mutex
	db storage.Database
}

func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

func (m *Manager) putJSON(key []byte, value interface{}) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("state: encode %q: %w", key, err)
	}
	return m.db.Put(key, raw)
}

// getJSON decodes the value at key into out. The boolean reports presence;
// a decode failure surfaces as an error, never as absence.
func (m *Manager) getJSON(key []byte, out interface{}) (bool, error) {
	raw, err := m.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return false, fmt.Errorf("state: decode %q: %w", key, err)
	}
	return true, nil
}

func escrowKey(id uint64) []byte {
	return []byte(fmt.Sprintf(escrowKeyFormat, id))
}

// EscrowNextID allocates the next escrow identifier. Identifiers start at 1
// and are never reused; the counter is persisted before the id is handed out
// so a crash cannot produce a duplicate.
func (m *Manager) EscrowNextID() (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var seq uint64
	if _, err := m.getJSON(escrowSeqKey, &seq); err != nil {
		return 0, err
	}
	seq++
	if err := m.putJSON(escrowSeqKey, seq); err != nil {
		return 0, err
	}
	return seq, nil
}

func (m *Manager) EscrowPut(e *escrow.Escrow) error {
	if e == nil {
		return fmt.Errorf("state: nil escrow")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(escrowKey(e.ID), e)
}

func (m *Manager) EscrowGet(id uint64) (*escrow.Escrow, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var e escrow.Escrow
	ok, err := m.getJSON(escrowKey(id), &e)
	if err != nil || !ok {
		return nil, false
	}
	return &e, true
}

func lendingKey(id string) []byte {
	return []byte(lendingKeyPrefix + id)
}

func (m *Manager) LendingProjectPut(p *lending.Project) error {
	if p == nil {
		return fmt.Errorf("state: nil project")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.putJSON(lendingKey(p.ID), p)
}

func (m *Manager) LendingProjectGet(id string) (*lending.Project, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var p lending.Project
	ok, err := m.getJSON(lendingKey(id), &p)
	if err != nil || !ok {
		return nil, false
	}
	return &p, true
}

func donationSentKey(addr token.Address) []byte {
	return []byte(donationSentPrefix + hex.EncodeToString(addr[:]))
}

func donationRecvKey(addr token.Address) []byte {
	return []byte(donationRecvPrefix + hex.EncodeToString(addr[:]))
}

func (m *Manager) appendRecord(key []byte, rec *donation.Record) error {
	var list []*donation.Record
	if _, err := m.getJSON(key, &list); err != nil {
		return err
	}
	list = append(list, rec)
	return m.putJSON(key, list)
}

// DonationAppend journals a donation under both the donor and recipient
// indexes.
func (m *Manager) DonationAppend(rec *donation.Record) error {
	if rec == nil {
		return fmt.Errorf("state: nil donation record")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.appendRecord(donationSentKey(rec.Donor), rec); err != nil {
		return err
	}
	return m.appendRecord(donationRecvKey(rec.Recipient), rec)
}

func (m *Manager) donationList(key []byte) []*donation.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	var list []*donation.Record
	if ok, err := m.getJSON(key, &list); err != nil || !ok {
		return nil
	}
	return list
}

func (m *Manager) DonationsSent(addr token.Address) []*donation.Record {
	return m.donationList(donationSentKey(addr))
}

func (m *Manager) DonationsReceived(addr token.Address) []*donation.Record {
	return m.donationList(donationRecvKey(addr))
}
