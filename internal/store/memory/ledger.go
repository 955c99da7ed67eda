// Package memory implements the domain ledger and audit store in process
// memory. Writes made inside Update are staged in an overlay and applied to
// the shared state only when the function returns nil.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/wagerwars/internal/domain"
)

type state struct {
	height   uint64
	nextID   uint64
	supply   int64
	markets  map[uint64]domain.Market
	pos      map[domain.PositionKey]domain.Position
	oracles  map[string]domain.Oracle
	managers map[string]domain.ManagerOracle
	vaults   map[uint64]domain.VaultAccount
	balances map[string]int64
	trades   []domain.Trade
}

func newState() *state {
	return &state{
		nextID:   1,
		markets:  make(map[uint64]domain.Market),
		pos:      make(map[domain.PositionKey]domain.Position),
		oracles:  make(map[string]domain.Oracle),
		managers: make(map[string]domain.ManagerOracle),
		vaults:   make(map[uint64]domain.VaultAccount),
		balances: make(map[string]int64),
	}
}

// Ledger implements domain.Ledger in memory. Updates are serialized by a
// mutex; Views run concurrently with each other.
type Ledger struct {
	mu sync.RWMutex
	st *state
}

var _ domain.Ledger = (*Ledger)(nil)

// NewLedger returns an empty ledger at height 0 whose first market id is 1.
func NewLedger() *Ledger {
	return &Ledger{st: newState()}
}

// Update runs fn in a staged transaction and applies its writes only when fn
// returns nil.
func (l *Ledger) Update(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	tx := newTx(l.st)
	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// View runs fn against a read-only transaction. Writes inside a View are
// discarded.
func (l *Ledger) View(ctx context.Context, fn func(tx domain.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	l.mu.RLock()
	defer l.mu.RUnlock()
	return fn(newTx(l.st))
}

// overlay stages writes against a base map. A nil staged entry marks a
// deletion.
type overlay[K comparable, V any] struct {
	base   map[K]V
	staged map[K]*V
}

func newOverlay[K comparable, V any](base map[K]V) *overlay[K, V] {
	return &overlay[K, V]{base: base, staged: make(map[K]*V)}
}

func (o *overlay[K, V]) get(k K) (V, bool) {
	if v, ok := o.staged[k]; ok {
		if v == nil {
			var zero V
			return zero, false
		}
		return *v, true
	}
	v, ok := o.base[k]
	return v, ok
}

func (o *overlay[K, V]) put(k K, v V) { o.staged[k] = &v }

func (o *overlay[K, V]) del(k K) { o.staged[k] = nil }

func (o *overlay[K, V]) values() []V {
	out := make([]V, 0, len(o.base)+len(o.staged))
	for k, v := range o.base {
		if _, ok := o.staged[k]; ok {
			continue
		}
		out = append(out, v)
	}
	for _, v := range o.staged {
		if v != nil {
			out = append(out, *v)
		}
	}
	return out
}

func (o *overlay[K, V]) commit() {
	for k, v := range o.staged {
		if v == nil {
			delete(o.base, k)
			continue
		}
		o.base[k] = *v
	}
}

type tx struct {
	st *state

	height uint64
	nextID uint64
	supply int64

	markets  *overlay[uint64, domain.Market]
	pos      *overlay[domain.PositionKey, domain.Position]
	oracles  *overlay[string, domain.Oracle]
	managers *overlay[string, domain.ManagerOracle]
	vaults   *overlay[uint64, domain.VaultAccount]
	balances *overlay[string, int64]
	trades   []domain.Trade
}

func newTx(st *state) *tx {
	return &tx{
		st:       st,
		height:   st.height,
		nextID:   st.nextID,
		supply:   st.supply,
		markets:  newOverlay(st.markets),
		pos:      newOverlay(st.pos),
		oracles:  newOverlay(st.oracles),
		managers: newOverlay(st.managers),
		vaults:   newOverlay(st.vaults),
		balances: newOverlay(st.balances),
	}
}

func (t *tx) commit() {
	t.st.height = t.height
	t.st.nextID = t.nextID
	t.st.supply = t.supply
	t.markets.commit()
	t.pos.commit()
	t.oracles.commit()
	t.managers.commit()
	t.vaults.commit()
	t.balances.commit()
	t.st.trades = append(t.st.trades, t.trades...)
}

func (t *tx) Chain() domain.ChainStore { return chainStore{t} }
func (t *tx) Markets() domain.MarketStore { return marketStore{t} }
func (t *tx) Positions() domain.PositionStore { return positionStore{t} }
func (t *tx) Oracles() domain.OracleStore { return oracleStore{t} }
func (t *tx) Vaults() domain.VaultStore { return vaultStore{t} }
func (t *tx) Balances() domain.BalanceStore { return balanceStore{t} }
func (t *tx) Trades() domain.TradeStore { return tradeStore{t} }

type chainStore struct{ t *tx }

func (s chainStore) Height(context.Context) (uint64, error) { return s.t.height, nil }

func (s chainStore) SetHeight(_ context.Context, h uint64) error {
	s.t.height = h
	return nil
}

func (s chainStore) NextMarketID(context.Context) (uint64, error) {
	id := s.t.nextID
	s.t.nextID++
	return id, nil
}

func (s chainStore) PeekMarketID(context.Context) (uint64, error) { return s.t.nextID, nil }

func (s chainStore) SetNextMarketID(_ context.Context, id uint64) error {
	if id == 0 {
		return fmt.Errorf("memory: set next market id %d: must be positive", id)
	}
	s.t.nextID = id
	return nil
}

type marketStore struct{ t *tx }

func (s marketStore) Insert(_ context.Context, m domain.Market) error {
	if _, ok := s.t.markets.get(m.ID); ok {
		return fmt.Errorf("memory: insert market %d: %w", m.ID, domain.ErrAlreadyExists)
	}
	s.t.markets.put(m.ID, m.Clone())
	return nil
}

func (s marketStore) Update(_ context.Context, m domain.Market) error {
	if _, ok := s.t.markets.get(m.ID); !ok {
		return fmt.Errorf("memory: update market %d: %w", m.ID, domain.ErrNotFound)
	}
	s.t.markets.put(m.ID, m.Clone())
	return nil
}

func (s marketStore) Get(_ context.Context, id uint64) (domain.Market, error) {
	m, ok := s.t.markets.get(id)
	if !ok {
		return domain.Market{}, fmt.Errorf("memory: get market %d: %w", id, domain.ErrNotFound)
	}
	return m.Clone(), nil
}

func (s marketStore) List(_ context.Context, f domain.MarketFilter) ([]domain.Market, error) {
	all := s.t.markets.values()
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })

	out := make([]domain.Market, 0, len(all))
	for _, m := range all {
		if f.Kind != "" && m.Kind != f.Kind {
			continue
		}
		if f.Category != "" && m.Category != f.Category {
			continue
		}
		if f.Status != "" && m.Status != f.Status {
			continue
		}
		if f.Oracle != "" && m.Oracle != f.Oracle {
			continue
		}
		out = append(out, m.Clone())
	}
	return paginate(out, f.Limit, f.Offset), nil
}

func (s marketStore) Count(context.Context) (int64, error) {
	return int64(len(s.t.markets.values())), nil
}

type positionStore struct{ t *tx }

func (s positionStore) Get(_ context.Context, key domain.PositionKey) (domain.Position, error) {
	p, ok := s.t.pos.get(key)
	if !ok {
		return domain.Position{}, fmt.Errorf("memory: get position %s/%d/%d: %w", key.User, key.MarketID, key.Outcome, domain.ErrNotFound)
	}
	return p, nil
}

func (s positionStore) Save(_ context.Context, p domain.Position) error {
	if p.Shares < 0 {
		return fmt.Errorf("memory: save position %s/%d/%d: %w", p.User, p.MarketID, p.Outcome, domain.ErrInsufficientShares)
	}
	if p.Shares == 0 {
		s.t.pos.del(p.Key())
		return nil
	}
	s.t.pos.put(p.Key(), p)
	return nil
}

func (s positionStore) filter(keep func(domain.Position) bool) []domain.Position {
	var out []domain.Position
	for _, p := range s.t.pos.values() {
		if keep(p) {
			out = append(out, p)
		}
	}
	sortPositions(out)
	return out
}

func (s positionStore) ListByUser(_ context.Context, user string) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool { return p.User == user }), nil
}

func (s positionStore) ListByMarket(_ context.Context, marketID uint64) ([]domain.Position, error) {
	return s.filter(func(p domain.Position) bool { return p.MarketID == marketID }), nil
}

func (s positionStore) All(context.Context) ([]domain.Position, error) {
	return s.filter(func(domain.Position) bool { return true }), nil
}

func sortPositions(ps []domain.Position) {
	sort.Slice(ps, func(i, j int) bool {
		a, b := ps[i], ps[j]
		if a.MarketID != b.MarketID {
			return a.MarketID < b.MarketID
		}
		if a.Outcome != b.Outcome {
			return a.Outcome < b.Outcome
		}
		return a.User < b.User
	})
}

type oracleStore struct{ t *tx }

func (s oracleStore) Get(_ context.Context, address string) (domain.Oracle, error) {
	o, ok := s.t.oracles.get(address)
	if !ok {
		return domain.Oracle{}, fmt.Errorf("memory: get oracle %q: %w", address, domain.ErrNotFound)
	}
	return o, nil
}

func (s oracleStore) Save(_ context.Context, o domain.Oracle) error {
	s.t.oracles.put(o.Address, o)
	return nil
}

func (s oracleStore) List(context.Context) ([]domain.Oracle, error) {
	out := s.t.oracles.values()
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

func (s oracleStore) GetManager(_ context.Context, address string) (domain.ManagerOracle, error) {
	o, ok := s.t.managers.get(address)
	if !ok {
		return domain.ManagerOracle{}, fmt.Errorf("memory: get manager oracle %q: %w", address, domain.ErrNotFound)
	}
	return o, nil
}

func (s oracleStore) SaveManager(_ context.Context, o domain.ManagerOracle) error {
	s.t.managers.put(o.Address, o)
	return nil
}

func (s oracleStore) ListManager(context.Context) ([]domain.ManagerOracle, error) {
	out := s.t.managers.values()
	sort.Slice(out, func(i, j int) bool { return out[i].Address < out[j].Address })
	return out, nil
}

type vaultStore struct{ t *tx }

func (s vaultStore) Get(_ context.Context, marketID uint64) (domain.VaultAccount, error) {
	a, ok := s.t.vaults.get(marketID)
	if !ok {
		return domain.VaultAccount{}, fmt.Errorf("memory: get vault %d: %w", marketID, domain.ErrNotFound)
	}
	return a, nil
}

func (s vaultStore) Save(_ context.Context, a domain.VaultAccount) error {
	if a.Balance < 0 {
		return fmt.Errorf("memory: save vault %d: %w", a.MarketID, domain.ErrVaultUnderflow)
	}
	s.t.vaults.put(a.MarketID, a)
	return nil
}

func (s vaultStore) List(context.Context) ([]domain.VaultAccount, error) {
	out := s.t.vaults.values()
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

type balanceStore struct{ t *tx }

func (s balanceStore) Get(_ context.Context, address string) (int64, error) {
	v, _ := s.t.balances.get(address)
	return v, nil
}

func (s balanceStore) Set(_ context.Context, address string, amount int64) error {
	if amount < 0 {
		return fmt.Errorf("memory: set balance %q: %w", address, domain.ErrInsufficientFunds)
	}
	if amount == 0 {
		s.t.balances.del(address)
		return nil
	}
	s.t.balances.put(address, amount)
	return nil
}

func (s balanceStore) List(context.Context) ([]domain.Balance, error) {
	out := make([]domain.Balance, 0, len(s.t.balances.base))
	for _, addr := range s.addresses() {
		v, _ := s.t.balances.get(addr)
		out = append(out, domain.Balance{Address: addr, Amount: v})
	}
	return out, nil
}

func (s balanceStore) addresses() []string {
	seen := make(map[string]struct{})
	for k := range s.t.balances.base {
		seen[k] = struct{}{}
	}
	for k := range s.t.balances.staged {
		seen[k] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		if _, ok := s.t.balances.get(k); ok {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

func (s balanceStore) TotalSupply(context.Context) (int64, error) { return s.t.supply, nil }

func (s balanceStore) SetTotalSupply(_ context.Context, supply int64) error {
	s.t.supply = supply
	return nil
}

type tradeStore struct{ t *tx }

func (s tradeStore) Insert(_ context.Context, tr domain.Trade) error {
	s.t.trades = append(s.t.trades, tr)
	return nil
}

func (s tradeStore) all() []domain.Trade {
	out := make([]domain.Trade, 0, len(s.t.st.trades)+len(s.t.trades))
	out = append(out, s.t.st.trades...)
	return append(out, s.t.trades...)
}

func (s tradeStore) ListByMarket(_ context.Context, marketID uint64, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, tr := range s.all() {
		if tr.MarketID == marketID {
			out = append(out, tr)
		}
	}
	return paginate(out, opts.Limit, opts.Offset), nil
}

func (s tradeStore) CountUsers(context.Context) (int64, error) {
	users := make(map[string]struct{})
	for _, tr := range s.all() {
		users[tr.User] = struct{}{}
	}
	return int64(len(users)), nil
}

func (s tradeStore) All(context.Context) ([]domain.Trade, error) {
	return s.all(), nil
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
