package ledger

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/user/papertrade/backend/internal/models"
)

// MemoryStore keeps the ledger in process memory. It backs tests and
// LEDGER_BACKEND=memory; nothing survives a restart.
type MemoryStore struct {
	starting decimal.Decimal
	now      func() time.Time

	mu        sync.RWMutex
	accounts  map[uuid.UUID]models.Account
	positions map[uuid.UUID]map[string]models.Position
	orders    map[uuid.UUID]models.Order
	orderSeq  map[uuid.UUID]uint64
	seq       uint64
	users     map[uuid.UUID]models.User
	usernames map[string]uuid.UUID

	locksMu sync.Mutex
	locks   map[uuid.UUID]chan struct{}
}

var (
	_ Store = (*MemoryStore)(nil)
	_ Users = (*MemoryStore)(nil)
)

func NewMemoryStore(starting decimal.Decimal) *MemoryStore {
	return &MemoryStore{
		starting:  starting,
		now:       time.Now,
		accounts:  make(map[uuid.UUID]models.Account),
		positions: make(map[uuid.UUID]map[string]models.Position),
		orders:    make(map[uuid.UUID]models.Order),
		orderSeq:  make(map[uuid.UUID]uint64),
		users:     make(map[uuid.UUID]models.User),
		usernames: make(map[string]uuid.UUID),
		locks:     make(map[uuid.UUID]chan struct{}),
	}
}

// SetClock replaces the time source. Tests only.
func (s *MemoryStore) SetClock(now func() time.Time) {
	s.now = now
}

func (s *MemoryStore) StartingBalance() decimal.Decimal {
	return s.starting
}

func (s *MemoryStore) userLock(userID uuid.UUID) chan struct{} {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	l, ok := s.locks[userID]
	if !ok {
		l = make(chan struct{}, 1)
		s.locks[userID] = l
	}
	return l
}

func (s *MemoryStore) WithUserTx(ctx context.Context, userID uuid.UUID, fn func(tx Tx) error) error {
	lock := s.userLock(userID)
	select {
	case lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-lock }()

	acct := s.ensureAccount(userID)
	tx := &memTx{
		store:     s,
		userID:    userID,
		account:   acct,
		positions: make(map[string]*models.Position),
		orders:    make(map[uuid.UUID]models.Order),
	}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(tx)
	return nil
}

func (s *MemoryStore) ensureAccount(userID uuid.UUID) models.Account {
	s.mu.Lock()
	defer s.mu.Unlock()
	if acct, ok := s.accounts[userID]; ok {
		return acct
	}
	now := s.now()
	acct := models.Account{UserID: userID, CashBalance: s.starting, CreatedAt: now, UpdatedAt: now}
	s.accounts[userID] = acct
	return acct
}

func (s *MemoryStore) commit(tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if tx.reset {
		delete(s.positions, tx.userID)
		for id, o := range s.orders {
			if o.UserID == tx.userID {
				delete(s.orders, id)
				delete(s.orderSeq, id)
			}
		}
	}

	s.accounts[tx.userID] = tx.account

	for symbol, pos := range tx.positions {
		held := s.positions[tx.userID]
		if pos == nil {
			delete(held, symbol)
			continue
		}
		if held == nil {
			held = make(map[string]models.Position)
			s.positions[tx.userID] = held
		}
		held[symbol] = *pos
	}

	for _, id := range tx.newOrders {
		s.seq++
		s.orderSeq[id] = s.seq
	}
	for id, o := range tx.orders {
		s.orders[id] = o
	}
}

func (s *MemoryStore) Account(ctx context.Context, userID uuid.UUID) (*models.Account, error) {
	s.mu.RLock()
	acct, ok := s.accounts[userID]
	s.mu.RUnlock()
	if !ok {
		acct = s.ensureAccount(userID)
	}
	return &acct, nil
}

func (s *MemoryStore) ListPositions(ctx context.Context, userID uuid.UUID) ([]models.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]models.Position, 0, len(s.positions[userID]))
	for _, p := range s.positions[userID] {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) GetOrder(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (s *MemoryStore) ListOrders(ctx context.Context, userID uuid.UUID, filter models.OrderFilter) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Order
	for _, o := range s.orders {
		if o.UserID != userID {
			continue
		}
		if filter.Status != "" && o.Status != filter.Status {
			continue
		}
		if filter.Symbol != "" && o.Symbol != strings.ToUpper(filter.Symbol) {
			continue
		}
		if !filter.Since.IsZero() && o.CreatedAt.Before(filter.Since) {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return s.orderSeq[out[i].ID] > s.orderSeq[out[j].ID]
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStore) ListPendingLimitOrders(ctx context.Context, symbol string) ([]models.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []models.Order
	for _, o := range s.orders {
		if o.Kind != models.KindLimit || o.Status != models.StatusPending {
			continue
		}
		if symbol != "" && o.Symbol != symbol {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return s.orderSeq[out[i].ID] < s.orderSeq[out[j].ID] })
	return out, nil
}

func (s *MemoryStore) CountOrders(ctx context.Context, userID uuid.UUID, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, o := range s.orders {
		if o.UserID == userID && !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(user.Username)
	if _, taken := s.usernames[key]; taken {
		return ErrDuplicate
	}
	if user.ID == uuid.Nil {
		user.ID = uuid.New()
	}
	if user.Role == "" {
		user.Role = models.RoleUser
	}
	user.CreatedAt = s.now()
	s.users[user.ID] = *user
	s.usernames[key] = user.ID
	return nil
}

func (s *MemoryStore) UserByUsername(ctx context.Context, username string) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.usernames[strings.ToLower(username)]
	if !ok {
		return nil, ErrNotFound
	}
	u := s.users[id]
	return &u, nil
}

func (s *MemoryStore) UserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &u, nil
}

// memTx buffers writes until WithUserTx commits them.
type memTx struct {
	store  *MemoryStore
	userID uuid.UUID

	account   models.Account
	positions map[string]*models.Position // nil value marks a delete
	orders    map[uuid.UUID]models.Order
	newOrders []uuid.UUID
	reset     bool
}

func (t *memTx) Account(ctx context.Context) (*models.Account, error) {
	acct := t.account
	return &acct, nil
}

func (t *memTx) SetCash(ctx context.Context, cash decimal.Decimal) error {
	t.account.CashBalance = cash
	t.account.UpdatedAt = t.store.now()
	return nil
}

func (t *memTx) Position(ctx context.Context, symbol string) (*models.Position, error) {
	if staged, ok := t.positions[symbol]; ok {
		if staged == nil {
			return nil, ErrNotFound
		}
		p := *staged
		return &p, nil
	}
	if t.reset {
		return nil, ErrNotFound
	}
	t.store.mu.RLock()
	p, ok := t.store.positions[t.userID][symbol]
	t.store.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (t *memTx) SavePosition(ctx context.Context, pos *models.Position) error {
	p := *pos
	p.UserID = t.userID
	now := t.store.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	t.positions[p.Symbol] = &p
	return nil
}

func (t *memTx) DeletePosition(ctx context.Context, symbol string) error {
	t.positions[symbol] = nil
	return nil
}

func (t *memTx) InsertOrder(ctx context.Context, order *models.Order) error {
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = t.store.now()
	}
	order.UserID = t.userID
	t.orders[order.ID] = *order
	t.newOrders = append(t.newOrders, order.ID)
	return nil
}

func (t *memTx) OrderForUpdate(ctx context.Context, orderID uuid.UUID) (*models.Order, error) {
	if o, ok := t.orders[orderID]; ok {
		return &o, nil
	}
	if t.reset {
		return nil, ErrNotFound
	}
	t.store.mu.RLock()
	o, ok := t.store.orders[orderID]
	t.store.mu.RUnlock()
	if !ok || o.UserID != t.userID {
		return nil, ErrNotFound
	}
	return &o, nil
}

func (t *memTx) UpdateOrder(ctx context.Context, order *models.Order) error {
	if _, err := t.OrderForUpdate(ctx, order.ID); err != nil {
		return err
	}
	t.orders[order.ID] = *order
	return nil
}

func (t *memTx) Reset(ctx context.Context) error {
	t.reset = true
	t.positions = make(map[string]*models.Position)
	t.orders = make(map[uuid.UUID]models.Order)
	t.newOrders = nil
	now := t.store.now()
	t.account = models.Account{UserID: t.userID, CashBalance: t.store.starting, CreatedAt: now, UpdatedAt: now}
	return nil
}
