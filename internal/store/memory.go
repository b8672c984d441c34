package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aidencstop/fantasy-league-engine/internal/model"
)

type accountKey struct {
	userID, leagueID string
}

type positionKey struct {
	userID, leagueID, symbol string
}

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
//
// Units of work stage their writes and publish them in one step at commit,
// so readers never observe a partially applied order. Row locks are
// emulated with per-key mutexes held until the unit ends.
type MemoryStore struct {
	mu        sync.RWMutex
	snapshots map[string][]model.PriceSnapshot // ascending by date
	leagues   map[string]*model.League
	accounts  map[accountKey]*model.LedgerAccount
	positions map[positionKey]*model.Position
	txns      []model.Transaction

	locks *keyedLocks
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		snapshots: make(map[string][]model.PriceSnapshot),
		leagues:   make(map[string]*model.League),
		accounts:  make(map[accountKey]*model.LedgerAccount),
		positions: make(map[positionKey]*model.Position),
		locks:     newKeyedLocks(),
	}
}

// --- Price snapshots ---

func (s *MemoryStore) UpsertSnapshot(_ context.Context, snap *model.PriceSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	series := s.snapshots[snap.Symbol]
	i := sort.Search(len(series), func(i int) bool { return !series[i].Date.Before(snap.Date) })
	if i < len(series) && series[i].Date.Equal(snap.Date) {
		series[i] = *snap
		return nil
	}
	series = append(series, model.PriceSnapshot{})
	copy(series[i+1:], series[i:])
	series[i] = *snap
	s.snapshots[snap.Symbol] = series
	return nil
}

func (s *MemoryStore) LatestSnapshot(_ context.Context, symbol string) (*model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.snapshots[symbol]
	if len(series) == 0 {
		return nil, fmt.Errorf("snapshot %s: %w", symbol, ErrNotFound)
	}
	snap := series[len(series)-1]
	return &snap, nil
}

func (s *MemoryStore) SnapshotAsOf(_ context.Context, symbol string, date time.Time) (*model.PriceSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	series := s.snapshots[symbol]
	// First index strictly after date; the one before it is the answer.
	i := sort.Search(len(series), func(i int) bool { return series[i].Date.After(date) })
	if i == 0 {
		return nil, fmt.Errorf("snapshot %s as of %s: %w", symbol, date.Format(time.DateOnly), ErrNotFound)
	}
	snap := series[i-1]
	return &snap, nil
}

// --- Leagues ---

func (s *MemoryStore) GetLeague(_ context.Context, id string) (*model.League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	l, ok := s.leagues[id]
	if !ok {
		return nil, fmt.Errorf("league %s: %w", id, ErrNotFound)
	}
	return cloneLeague(l), nil
}

func (s *MemoryStore) ListLeagues(_ context.Context, status model.LeagueStatus) ([]model.League, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	leagues := make([]model.League, 0, len(s.leagues))
	for _, l := range s.leagues {
		if status != "" && l.Status != status {
			continue
		}
		leagues = append(leagues, *cloneLeague(l))
	}
	sort.Slice(leagues, func(i, j int) bool {
		if !leagues[i].CreatedAt.Equal(leagues[j].CreatedAt) {
			return leagues[i].CreatedAt.After(leagues[j].CreatedAt)
		}
		return leagues[i].ID > leagues[j].ID
	})
	return leagues, nil
}

// --- Ledger reads ---

func (s *MemoryStore) GetAccount(_ context.Context, userID, leagueID string) (*model.LedgerAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[accountKey{userID, leagueID}]
	if !ok {
		return nil, fmt.Errorf("account %s/%s: %w", userID, leagueID, ErrNotFound)
	}
	return cloneAccount(a), nil
}

func (s *MemoryStore) GetActiveAccount(_ context.Context, userID string) (*model.LedgerAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, a := range s.accounts {
		if a.UserID == userID && a.IsActive {
			return cloneAccount(a), nil
		}
	}
	return nil, fmt.Errorf("active account %s: %w", userID, ErrNotFound)
}

func (s *MemoryStore) ListAccounts(_ context.Context, leagueID string) ([]model.LedgerAccount, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.leagueAccountsLocked(leagueID), nil
}

func (s *MemoryStore) leagueAccountsLocked(leagueID string) []model.LedgerAccount {
	var out []model.LedgerAccount
	for _, a := range s.accounts {
		if a.LeagueID == leagueID {
			out = append(out, *cloneAccount(a))
		}
	}
	sortByJoin(out)
	return out
}

func (s *MemoryStore) ListPositions(_ context.Context, userID, leagueID string) ([]model.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []model.Position
	for k, p := range s.positions {
		if k.userID == userID && k.leagueID == leagueID {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) ListTransactions(_ context.Context, f model.TransactionFilter) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	// Walk the log backwards so equal timestamps keep newest-first order.
	var out []model.Transaction
	for i := len(s.txns) - 1; i >= 0; i-- {
		if matchesFilter(&s.txns[i], f) {
			out = append(out, s.txns[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return paginate(out, f.Limit, f.Offset), nil
}

func matchesFilter(t *model.Transaction, f model.TransactionFilter) bool {
	if t.UserID != f.UserID {
		return false
	}
	if f.LeagueID != "" && t.LeagueID != f.LeagueID {
		return false
	}
	if f.From != nil && t.CreatedAt.Before(model.DateOf(*f.From)) {
		return false
	}
	if f.To != nil && !t.CreatedAt.Before(model.DateOf(*f.To).AddDate(0, 0, 1)) {
		return false
	}
	return true
}

func paginate(txns []model.Transaction, limit, offset int) []model.Transaction {
	if offset > 0 {
		if offset >= len(txns) {
			return nil
		}
		txns = txns[offset:]
	}
	if limit > 0 && limit < len(txns) {
		txns = txns[:limit]
	}
	return txns
}

// --- Units of work ---

func (s *MemoryStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memTx{
		s:         s,
		held:      make(map[string]bool),
		leagues:   make(map[string]*model.League),
		accounts:  make(map[accountKey]*model.LedgerAccount),
		positions: make(map[positionKey]*model.Position),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

// memTx stages writes in overlays that shadow the committed maps.
// A nil entry in positions marks a staged delete.
type memTx struct {
	s        *MemoryStore
	held     map[string]bool
	releases []func()

	leagues     map[string]*model.League
	newLeagues  []string
	accounts    map[accountKey]*model.LedgerAccount
	newAccounts []accountKey
	positions   map[positionKey]*model.Position
	txns        []model.Transaction
}

// lock takes key once per unit of work. A key already held in either mode
// is not re-acquired.
func (tx *memTx) lock(key string, shared bool) {
	if tx.held[key] {
		return
	}
	tx.releases = append(tx.releases, tx.s.locks.acquire(key, shared))
	tx.held[key] = true
}

func (tx *memTx) release() {
	for i := len(tx.releases) - 1; i >= 0; i-- {
		tx.releases[i]()
	}
	tx.releases = nil
}

// Snapshots are not staged; the committed series is the latest state.
func (tx *memTx) LatestSnapshot(ctx context.Context, symbol string) (*model.PriceSnapshot, error) {
	return tx.s.LatestSnapshot(ctx, symbol)
}

func (tx *memTx) InsertLeague(_ context.Context, l *model.League) error {
	if _, ok := tx.leagues[l.ID]; ok {
		return fmt.Errorf("league %s: %w", l.ID, ErrConflict)
	}
	tx.s.mu.RLock()
	taken := tx.s.leagues[l.ID] != nil
	for _, existing := range tx.s.leagues {
		if existing.Name == l.Name {
			taken = true
		}
	}
	tx.s.mu.RUnlock()
	if taken {
		return fmt.Errorf("league %q: %w", l.Name, ErrConflict)
	}
	tx.lock(leagueLockKey(l.ID), false)
	tx.leagues[l.ID] = cloneLeague(l)
	tx.newLeagues = append(tx.newLeagues, l.ID)
	return nil
}

func (tx *memTx) GetLeague(_ context.Context, id string) (*model.League, error) {
	tx.lock(leagueLockKey(id), true)
	return tx.league(id)
}

func (tx *memTx) LockLeague(_ context.Context, id string) (*model.League, error) {
	tx.lock(leagueLockKey(id), false)
	return tx.league(id)
}

func (tx *memTx) league(id string) (*model.League, error) {
	if l, ok := tx.leagues[id]; ok {
		return cloneLeague(l), nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	l, ok := tx.s.leagues[id]
	if !ok {
		return nil, fmt.Errorf("league %s: %w", id, ErrNotFound)
	}
	return cloneLeague(l), nil
}

func (tx *memTx) UpdateLeague(_ context.Context, l *model.League) error {
	tx.leagues[l.ID] = cloneLeague(l)
	return nil
}

func (tx *memTx) LockAccount(_ context.Context, userID, leagueID string) (*model.LedgerAccount, error) {
	tx.lock(accountLockKey(userID, leagueID), false)
	return tx.account(accountKey{userID, leagueID})
}

func (tx *memTx) account(k accountKey) (*model.LedgerAccount, error) {
	if a, ok := tx.accounts[k]; ok {
		return cloneAccount(a), nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	a, ok := tx.s.accounts[k]
	if !ok {
		return nil, fmt.Errorf("account %s/%s: %w", k.userID, k.leagueID, ErrNotFound)
	}
	return cloneAccount(a), nil
}

func (tx *memTx) LockActiveAccount(_ context.Context, userID string) (*model.LedgerAccount, error) {
	tx.lock(userLockKey(userID), false)
	if a := tx.activeAccount(userID, accountKey{}); a != nil {
		return cloneAccount(a), nil
	}
	return nil, fmt.Errorf("active account %s: %w", userID, ErrNotFound)
}

// activeAccount finds the user's active account across staged and
// committed state, ignoring skip.
func (tx *memTx) activeAccount(userID string, skip accountKey) *model.LedgerAccount {
	for k, a := range tx.accounts {
		if k != skip && a.UserID == userID && a.IsActive {
			return a
		}
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	for k, a := range tx.s.accounts {
		if k == skip || a.UserID != userID || !a.IsActive {
			continue
		}
		if _, staged := tx.accounts[k]; staged {
			continue
		}
		return a
	}
	return nil
}

func (tx *memTx) InsertAccount(_ context.Context, a *model.LedgerAccount) error {
	k := accountKey{a.UserID, a.LeagueID}
	tx.lock(accountLockKey(a.UserID, a.LeagueID), false)
	if _, err := tx.account(k); err == nil {
		return fmt.Errorf("account %s/%s: %w", a.UserID, a.LeagueID, ErrConflict)
	}
	if a.IsActive && tx.activeAccount(a.UserID, k) != nil {
		return fmt.Errorf("active account %s: %w", a.UserID, ErrConflict)
	}
	tx.accounts[k] = cloneAccount(a)
	tx.newAccounts = append(tx.newAccounts, k)
	return nil
}

func (tx *memTx) UpdateAccount(_ context.Context, a *model.LedgerAccount) error {
	k := accountKey{a.UserID, a.LeagueID}
	if _, err := tx.account(k); err != nil {
		return err
	}
	if a.IsActive && tx.activeAccount(a.UserID, k) != nil {
		return fmt.Errorf("active account %s: %w", a.UserID, ErrConflict)
	}
	tx.accounts[k] = cloneAccount(a)
	return nil
}

func (tx *memTx) ListAccounts(_ context.Context, leagueID string) ([]model.LedgerAccount, error) {
	tx.s.mu.RLock()
	merged := make(map[accountKey]*model.LedgerAccount)
	for k, a := range tx.s.accounts {
		if k.leagueID == leagueID {
			merged[k] = a
		}
	}
	tx.s.mu.RUnlock()
	for k, a := range tx.accounts {
		if k.leagueID == leagueID {
			merged[k] = a
		}
	}

	out := make([]model.LedgerAccount, 0, len(merged))
	for _, a := range merged {
		out = append(out, *cloneAccount(a))
	}
	sortByJoin(out)
	for _, a := range out {
		tx.lock(accountLockKey(a.UserID, a.LeagueID), false)
	}
	return out, nil
}

func (tx *memTx) LockPosition(_ context.Context, userID, leagueID, symbol string) (*model.Position, error) {
	tx.lock(positionLockKey(userID, leagueID, symbol), false)
	k := positionKey{userID, leagueID, symbol}
	if p, ok := tx.positions[k]; ok {
		if p == nil {
			return nil, fmt.Errorf("position %s/%s/%s: %w", userID, leagueID, symbol, ErrNotFound)
		}
		cp := *p
		return &cp, nil
	}
	tx.s.mu.RLock()
	defer tx.s.mu.RUnlock()
	p, ok := tx.s.positions[k]
	if !ok {
		return nil, fmt.Errorf("position %s/%s/%s: %w", userID, leagueID, symbol, ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (tx *memTx) ListPositions(_ context.Context, userID, leagueID string) ([]model.Position, error) {
	merged := make(map[positionKey]*model.Position)
	tx.s.mu.RLock()
	for k, p := range tx.s.positions {
		if k.userID == userID && k.leagueID == leagueID {
			merged[k] = p
		}
	}
	tx.s.mu.RUnlock()
	for k, p := range tx.positions {
		if k.userID == userID && k.leagueID == leagueID {
			merged[k] = p
		}
	}

	var out []model.Position
	for _, p := range merged {
		if p != nil {
			out = append(out, *p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (tx *memTx) SavePosition(_ context.Context, p *model.Position) error {
	if !p.Shares.IsPositive() {
		return fmt.Errorf("position %s/%s/%s: shares must be positive, got %s", p.UserID, p.LeagueID, p.Symbol, p.Shares)
	}
	cp := *p
	tx.positions[positionKey{p.UserID, p.LeagueID, p.Symbol}] = &cp
	return nil
}

func (tx *memTx) DeletePosition(_ context.Context, userID, leagueID, symbol string) error {
	tx.positions[positionKey{userID, leagueID, symbol}] = nil
	return nil
}

func (tx *memTx) InsertTransaction(_ context.Context, t *model.Transaction) error {
	tx.txns = append(tx.txns, *t)
	return nil
}

// commit re-checks uniqueness against committed state and publishes every
// staged write under a single store lock.
func (tx *memTx) commit() error {
	s := tx.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range tx.newLeagues {
		if _, ok := s.leagues[id]; ok {
			return fmt.Errorf("league %s: %w", id, ErrConflict)
		}
		for _, l := range s.leagues {
			if l.Name == tx.leagues[id].Name {
				return fmt.Errorf("league name %q: %w", l.Name, ErrConflict)
			}
		}
	}
	for _, k := range tx.newAccounts {
		if _, ok := s.accounts[k]; ok {
			return fmt.Errorf("account %s/%s: %w", k.userID, k.leagueID, ErrConflict)
		}
	}
	active := make(map[string]accountKey)
	for k, a := range s.accounts {
		if staged, ok := tx.accounts[k]; ok {
			a = staged
		}
		if a.IsActive {
			active[a.UserID] = k
		}
	}
	for k, a := range tx.accounts {
		if !a.IsActive {
			continue
		}
		if other, ok := active[a.UserID]; ok && other != k {
			return fmt.Errorf("active account %s: %w", a.UserID, ErrConflict)
		}
		active[a.UserID] = k
	}

	for id, l := range tx.leagues {
		s.leagues[id] = l
	}
	for k, a := range tx.accounts {
		s.accounts[k] = a
	}
	for k, p := range tx.positions {
		if p == nil {
			delete(s.positions, k)
			continue
		}
		s.positions[k] = p
	}
	s.txns = append(s.txns, tx.txns...)
	return nil
}

func sortByJoin(accounts []model.LedgerAccount) {
	sort.SliceStable(accounts, func(i, j int) bool {
		if !accounts[i].JoinedAt.Equal(accounts[j].JoinedAt) {
			return accounts[i].JoinedAt.Before(accounts[j].JoinedAt)
		}
		return accounts[i].UserID < accounts[j].UserID
	})
}

func cloneLeague(l *model.League) *model.League {
	cp := *l
	cp.StartedAt = cloneTime(l.StartedAt)
	cp.EndedAt = cloneTime(l.EndedAt)
	return &cp
}

func cloneAccount(a *model.LedgerAccount) *model.LedgerAccount {
	cp := *a
	cp.LeftAt = cloneTime(a.LeftAt)
	if a.FinalRank != nil {
		r := *a.FinalRank
		cp.FinalRank = &r
	}
	return &cp
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
