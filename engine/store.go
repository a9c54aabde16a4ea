package engine

import (
	"sort"
	"sync"
	"time"
)

// accountBook is everything owned by one account. mu is the account's single
// writer lock: every mutation holds it exclusively, reads hold it shared.
type accountBook struct {
	mu sync.RWMutex

	// publishMu orders outbox hand-offs; it is taken before mu is released.
	publishMu sync.Mutex

	id       string
	customer string
	currency string

	orders   map[string]*Order
	orderSeq []string

	// one net position per instrument
	positions map[string]*Position

	log     []Transaction
	txIndex map[string]int
	// root transaction ID -> index of its latest correction application
	applied map[string]int

	snapshot Account
	memo     balanceMemo
	halted   error

	refreshes uint64
	lastAlert map[AlertKind]time.Time
	alerts    []Alert

	outbox outbox
}

// balanceMemo is the running balance maintained on append. Refresh checks a
// full fold of the log against it.
type balanceMemo struct {
	balance float64
	applied int
}

// outbox collects side effects produced under the account lock. They are
// handed to the journal and alert sink only after the lock is released.
type outbox struct {
	txs        []Transaction
	alerts     []Alert
	snapshot   *Account
	snapshotAt time.Time
}

func newAccountBook(spec AccountSpec) *accountBook {
	return &accountBook{
		id:        spec.ID,
		customer:  spec.Customer,
		currency:  spec.Currency,
		orders:    make(map[string]*Order),
		positions: make(map[string]*Position),
		txIndex:   make(map[string]int),
		applied:   make(map[string]int),
		lastAlert: make(map[AlertKind]time.Time),
	}
}

func (b *accountBook) takeOutbox() outbox {
	out := b.outbox
	b.outbox = outbox{}
	return out
}

// instruments returns the instruments with an open position, sorted so that
// every fold over positions visits them in the same order.
func (b *accountBook) instruments() []string {
	return sortedInstruments(b.positions)
}

func sortedInstruments(m map[string]*Position) []string {
	out := make([]string, 0, len(m))
	for instr := range m {
		out = append(out, instr)
	}
	sort.Strings(out)
	return out
}

func (b *accountBook) positionByID(positionID string) *Position {
	for _, p := range b.positions {
		if p.ID == positionID {
			return p
		}
	}
	return nil
}

func (b *accountBook) pendingMargin() float64 {
	var sum float64
	for _, oid := range b.orderSeq {
		if o := b.orders[oid]; o.Status == Pending {
			sum += o.ReservedMargin
		}
	}
	return sum
}

// effective returns the current values of a root transaction: its latest
// correction application, or the root itself when never corrected.
func (b *accountBook) effective(rootID string) Transaction {
	if idx, ok := b.applied[rootID]; ok {
		return b.log[idx]
	}
	return b.log[b.txIndex[rootID]]
}

// store is the arena of accounts plus the indexes that route an order,
// position or transaction ID to its account. mu guards only the maps here and
// is never held while waiting on an account lock.
type store struct {
	mu           sync.RWMutex
	accounts     map[string]*accountBook
	orders       map[string]string
	positions    map[string]string
	txs          map[string]string
	byInstrument map[string]map[string]int
}

func newStore() *store {
	return &store{
		accounts:     make(map[string]*accountBook),
		orders:       make(map[string]string),
		positions:    make(map[string]string),
		txs:          make(map[string]string),
		byInstrument: make(map[string]map[string]int),
	}
}

func (s *store) addAccount(b *accountBook) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[b.id]; ok {
		return false
	}
	s.accounts[b.id] = b
	return true
}

func (s *store) account(accountID string) (*accountBook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.accounts[accountID]
	if !ok {
		return nil, &NotFoundError{Entity: "account", ID: accountID}
	}
	return b, nil
}

func (s *store) accountIDs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.accounts))
	for id := range s.accounts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

func (s *store) owner(index map[string]string, entity, id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := index[id]
	if !ok {
		return "", &NotFoundError{Entity: entity, ID: id}
	}
	return acct, nil
}

func (s *store) orderOwner(orderID string) (string, error) {
	return s.owner(s.orders, "order", orderID)
}

func (s *store) positionOwner(positionID string) (string, error) {
	return s.owner(s.positions, "position", positionID)
}

func (s *store) txOwner(txID string) (string, error) {
	return s.owner(s.txs, "transaction", txID)
}

func (s *store) indexOrder(orderID, accountID string) {
	s.mu.Lock()
	s.orders[orderID] = accountID
	s.mu.Unlock()
}

func (s *store) indexTx(txID, accountID string) {
	s.mu.Lock()
	s.txs[txID] = accountID
	s.mu.Unlock()
}

func (s *store) positionOpened(p *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.ID] = p.AccountID
	accts, ok := s.byInstrument[p.Instrument]
	if !ok {
		accts = make(map[string]int)
		s.byInstrument[p.Instrument] = accts
	}
	accts[p.AccountID]++
}

func (s *store) positionClosed(p *Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.positions, p.ID)
	accts := s.byInstrument[p.Instrument]
	if accts == nil {
		return
	}
	accts[p.AccountID]--
	if accts[p.AccountID] <= 0 {
		delete(accts, p.AccountID)
	}
	if len(accts) == 0 {
		delete(s.byInstrument, p.Instrument)
	}
}

// accountsHolding returns, sorted, every account with an open position in
// any of instruments.
func (s *store) accountsHolding(instruments []string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, instr := range instruments {
		for acct := range s.byInstrument[instr] {
			seen[acct] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for acct := range seen {
		out = append(out, acct)
	}
	sort.Strings(out)
	return out
}
