package ledger

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/staked-tictactoe/internal/domain"
)

// Config holds the ledger construction parameters
type Config struct {
	Owner         string
	MaxSupply     domain.Amount
	InitialSupply domain.Amount
}

// Credit is one payment out of an escrow account.
type Credit struct {
	To     string
	Amount domain.Amount
}

// Ledger is the token ledger: balances, allowances, minters and supply.
// Every mutation is applied under a single lock and either fully happens or not at all.
type Ledger struct {
	mu sync.RWMutex

	owner       string
	maxSupply   domain.Amount
	totalSupply domain.Amount

	balances   map[string]domain.Amount
	allowances map[string]map[string]domain.Amount
	minters    map[string]bool
	// custody accounts only pay out through Release.
	custody map[string]bool

	// seq is bumped on every mutation and stamped on the rows it touched.
	seq          uint64
	balanceSeq   map[string]uint64
	allowanceSeq map[string]map[string]uint64

	logger *slog.Logger
}

// New creates a ledger and mints the initial supply to the owner.
func New(cfg Config, logger *slog.Logger) (*Ledger, error) {
	owner := domain.NormalizeAddress(cfg.Owner)
	if owner == "" {
		return nil, fmt.Errorf("%w: ledger owner is required", domain.ErrInvalidRequest)
	}
	if cfg.InitialSupply > cfg.MaxSupply {
		return nil, fmt.Errorf("initial supply %s: %w", cfg.InitialSupply, domain.ErrSupplyExceeded)
	}

	l := &Ledger{
		owner:        owner,
		maxSupply:    cfg.MaxSupply,
		balances:     make(map[string]domain.Amount),
		allowances:   make(map[string]map[string]domain.Amount),
		minters:      make(map[string]bool),
		custody:      make(map[string]bool),
		balanceSeq:   make(map[string]uint64),
		allowanceSeq: make(map[string]map[string]uint64),
		logger:       logger,
	}
	if cfg.InitialSupply > 0 {
		l.seq++
		l.mintLocked(owner, cfg.InitialSupply)
	}

	logger.Info("ledger initialized",
		"owner", owner,
		"max_supply", cfg.MaxSupply.String(),
		"initial_supply", cfg.InitialSupply.String(),
	)
	return l, nil
}

// Owner returns the ledger owner address.
func (l *Ledger) Owner() string {
	return l.owner
}

// Reserve places addr in custody. Custody accounts receive stakes but cannot
// act as sender, owner, spender or payer; only Release moves their tokens.
func (l *Ledger) Reserve(addr string) error {
	addr = domain.NormalizeAddress(addr)
	if addr == "" {
		return fmt.Errorf("%w: custody address is required", domain.ErrInvalidRequest)
	}
	if addr == l.owner {
		return fmt.Errorf("%w: the ledger owner cannot be held in custody", domain.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	l.custody[addr] = true
	return nil
}

// InCustody reports whether addr was reserved.
func (l *Ledger) InCustody(addr string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.custody[domain.NormalizeAddress(addr)]
}

// Info returns the token metadata and current supply.
func (l *Ledger) Info() domain.TokenInfo {
	l.mu.RLock()
	defer l.mu.RUnlock()

	return domain.TokenInfo{
		Name:        domain.TokenName,
		Symbol:      domain.TokenSymbol,
		Decimals:    domain.TokenDecimals,
		Owner:       l.owner,
		TotalSupply: l.totalSupply,
		MaxSupply:   l.maxSupply,
		Minters:     l.mintersLocked(),
	}
}

func (l *Ledger) TotalSupply() domain.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.totalSupply
}

func (l *Ledger) MaxSupply() domain.Amount {
	return l.maxSupply
}

func (l *Ledger) BalanceOf(addr string) domain.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.balances[domain.NormalizeAddress(addr)]
}

func (l *Ledger) Allowance(owner, spender string) domain.Amount {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.allowances[domain.NormalizeAddress(owner)][domain.NormalizeAddress(spender)]
}

func (l *Ledger) IsMinter(addr string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.minters[domain.NormalizeAddress(addr)]
}

// Mint creates new tokens. Only the owner or a registered minter may mint.
func (l *Ledger) Mint(caller, to string, amount domain.Amount) error {
	caller, to = domain.NormalizeAddress(caller), domain.NormalizeAddress(to)
	if to == "" {
		return fmt.Errorf("%w: recipient is required", domain.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner && !l.minters[caller] {
		return domain.ErrUnauthorized
	}
	if err := l.checkSupply(amount); err != nil {
		return err
	}
	l.seq++
	l.mintLocked(to, amount)

	l.logger.Debug("tokens minted", "caller", caller, "to", to, "amount", amount.String())
	return nil
}

// Faucet is the owner-only test distribution path, capped like Mint.
func (l *Ledger) Faucet(caller, to string, amount domain.Amount) error {
	caller, to = domain.NormalizeAddress(caller), domain.NormalizeAddress(to)
	if to == "" {
		return fmt.Errorf("%w: recipient is required", domain.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return domain.ErrUnauthorized
	}
	if err := l.checkSupply(amount); err != nil {
		return err
	}
	l.seq++
	l.mintLocked(to, amount)

	l.logger.Debug("faucet distribution", "to", to, "amount", amount.String())
	return nil
}

// Transfer moves tokens between two accounts.
func (l *Ledger) Transfer(from, to string, amount domain.Amount) error {
	from, to = domain.NormalizeAddress(from), domain.NormalizeAddress(to)
	if from == "" || to == "" {
		return fmt.Errorf("%w: sender and recipient are required", domain.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.custody[from] {
		return domain.ErrUnauthorized
	}
	if l.balances[from] < amount {
		return domain.ErrInsufficientBalance
	}
	if amount == 0 {
		return nil
	}
	l.seq++
	l.moveLocked(from, to, amount)
	return nil
}

// Approve sets the allowance of spender over owner's balance, replacing any previous value.
func (l *Ledger) Approve(owner, spender string, amount domain.Amount) error {
	owner, spender = domain.NormalizeAddress(owner), domain.NormalizeAddress(spender)
	if owner == "" || spender == "" {
		return fmt.Errorf("%w: owner and spender are required", domain.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.custody[owner] {
		return domain.ErrUnauthorized
	}
	l.seq++
	l.setAllowanceLocked(owner, spender, amount)
	return nil
}

// TransferFrom moves tokens on behalf of from, consuming spender's allowance.
func (l *Ledger) TransferFrom(spender, from, to string, amount domain.Amount) error {
	spender = domain.NormalizeAddress(spender)
	from, to = domain.NormalizeAddress(from), domain.NormalizeAddress(to)
	if spender == "" || from == "" || to == "" {
		return fmt.Errorf("%w: spender, sender and recipient are required", domain.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.custody[spender] || l.custody[from] {
		return domain.ErrUnauthorized
	}
	allowed := l.allowances[from][spender]
	if allowed < amount {
		return domain.ErrInsufficientAllowance
	}
	if l.balances[from] < amount {
		return domain.ErrInsufficientBalance
	}
	if amount == 0 {
		return nil
	}
	l.seq++
	l.setAllowanceLocked(from, spender, allowed-amount)
	l.moveLocked(from, to, amount)
	return nil
}

// AddMinter registers addr as a minter. Adding an existing minter is a no-op.
func (l *Ledger) AddMinter(caller, addr string) error {
	return l.setMinter(caller, addr, true)
}

// RemoveMinter unregisters addr. Removing an unknown minter is a no-op.
func (l *Ledger) RemoveMinter(caller, addr string) error {
	return l.setMinter(caller, addr, false)
}

func (l *Ledger) setMinter(caller, addr string, enabled bool) error {
	caller, addr = domain.NormalizeAddress(caller), domain.NormalizeAddress(addr)
	if addr == "" {
		return fmt.Errorf("%w: minter address is required", domain.ErrInvalidRequest)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if caller != l.owner {
		return domain.ErrUnauthorized
	}
	if enabled {
		l.minters[addr] = true
	} else {
		delete(l.minters, addr)
	}
	l.seq++

	l.logger.Info("minter updated", "minter", addr, "enabled", enabled)
	return nil
}

// DrawStake moves a stake from payer into the escrow account.
// When checkAllowance is set the escrow must hold an allowance over the payer's
// balance and that allowance is consumed.
func (l *Ledger) DrawStake(payer, escrow string, amount domain.Amount, checkAllowance bool) error {
	payer, escrow = domain.NormalizeAddress(payer), domain.NormalizeAddress(escrow)

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.custody[payer] {
		return domain.ErrUnauthorized
	}
	if l.balances[payer] < amount {
		return domain.ErrInsufficientFunds
	}
	allowed := l.allowances[payer][escrow]
	if checkAllowance && allowed < amount {
		return domain.ErrInsufficientAllowance
	}
	l.seq++
	if checkAllowance {
		l.setAllowanceLocked(payer, escrow, allowed-amount)
	}
	l.moveLocked(payer, escrow, amount)
	return nil
}

// Release pays out of the escrow account. The credits are applied together
// or, if escrow cannot cover their sum, not at all.
func (l *Ledger) Release(escrow string, credits ...Credit) error {
	escrow = domain.NormalizeAddress(escrow)

	l.mu.Lock()
	defer l.mu.Unlock()

	var total domain.Amount
	for _, c := range credits {
		total += c.Amount
	}
	if l.balances[escrow] < total {
		l.logger.Error("escrow shortfall",
			"escrow", escrow,
			"held", l.balances[escrow].String(),
			"owed", total.String(),
		)
		return fmt.Errorf("escrow holds %s, owes %s: %w", l.balances[escrow], total, domain.ErrInternalError)
	}
	l.seq++
	for _, c := range credits {
		if c.Amount == 0 {
			continue
		}
		l.moveLocked(escrow, domain.NormalizeAddress(c.To), c.Amount)
	}
	return nil
}

// Accounts returns the persisted form of the given balances.
func (l *Ledger) Accounts(addrs ...string) []domain.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()

	out := make([]domain.Account, 0, len(addrs))
	seen := make(map[string]bool, len(addrs))
	for _, addr := range addrs {
		addr = domain.NormalizeAddress(addr)
		if addr == "" || seen[addr] {
			continue
		}
		seen[addr] = true
		out = append(out, domain.Account{
			Address: addr,
			Balance: l.balances[addr],
			Seq:     l.balanceSeq[addr],
		})
	}
	return out
}

// AllowanceRow returns the persisted form of one allowance.
func (l *Ledger) AllowanceRow(owner, spender string) domain.Allowance {
	owner, spender = domain.NormalizeAddress(owner), domain.NormalizeAddress(spender)

	l.mu.RLock()
	defer l.mu.RUnlock()

	return domain.Allowance{
		Owner:   owner,
		Spender: spender,
		Amount:  l.allowances[owner][spender],
		Seq:     l.allowanceSeq[owner][spender],
	}
}

// Seq returns the current mutation sequence number.
func (l *Ledger) Seq() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.seq
}

// Snapshot copies the whole ledger.
func (l *Ledger) Snapshot() domain.LedgerState {
	l.mu.RLock()
	defer l.mu.RUnlock()

	state := domain.LedgerState{
		Owner:       l.owner,
		TotalSupply: l.totalSupply,
		MaxSupply:   l.maxSupply,
		Seq:         l.seq,
		Accounts:    make([]domain.Account, 0, len(l.balances)),
		Minters:     l.mintersLocked(),
	}
	for addr, bal := range l.balances {
		state.Accounts = append(state.Accounts, domain.Account{Address: addr, Balance: bal, Seq: l.balanceSeq[addr]})
	}
	sort.Slice(state.Accounts, func(i, j int) bool { return state.Accounts[i].Address < state.Accounts[j].Address })

	for owner, spenders := range l.allowances {
		for spender, amount := range spenders {
			state.Allowances = append(state.Allowances, domain.Allowance{
				Owner:   owner,
				Spender: spender,
				Amount:  amount,
				Seq:     l.allowanceSeq[owner][spender],
			})
		}
	}
	sort.Slice(state.Allowances, func(i, j int) bool {
		a, b := state.Allowances[i], state.Allowances[j]
		if a.Owner != b.Owner {
			return a.Owner < b.Owner
		}
		return a.Spender < b.Spender
	})
	return state
}

// Restore replaces the ledger contents with a previously taken snapshot.
// The balances must add up to the recorded total supply.
func (l *Ledger) Restore(state domain.LedgerState) error {
	var sum domain.Amount
	for _, a := range state.Accounts {
		sum += a.Balance
	}
	if sum != state.TotalSupply {
		return fmt.Errorf("restoring ledger: balances sum to %s, total supply is %s: %w",
			sum, state.TotalSupply, domain.ErrInternalError)
	}
	if state.TotalSupply > l.maxSupply {
		return fmt.Errorf("restoring ledger: %w", domain.ErrSupplyExceeded)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.totalSupply = state.TotalSupply
	l.seq = state.Seq
	l.balances = make(map[string]domain.Amount, len(state.Accounts))
	l.balanceSeq = make(map[string]uint64, len(state.Accounts))
	for _, a := range state.Accounts {
		l.balances[a.Address] = a.Balance
		l.balanceSeq[a.Address] = a.Seq
	}
	l.allowances = make(map[string]map[string]domain.Amount)
	l.allowanceSeq = make(map[string]map[string]uint64)
	for _, a := range state.Allowances {
		l.setAllowanceLocked(a.Owner, a.Spender, a.Amount)
		l.allowanceSeq[a.Owner][a.Spender] = a.Seq
	}
	l.minters = make(map[string]bool, len(state.Minters))
	for _, m := range state.Minters {
		l.minters[m] = true
	}

	l.logger.Info("ledger restored",
		"accounts", len(state.Accounts),
		"total_supply", state.TotalSupply.String(),
	)
	return nil
}

func (l *Ledger) checkSupply(amount domain.Amount) error {
	if amount > l.maxSupply-l.totalSupply {
		return domain.ErrSupplyExceeded
	}
	return nil
}

func (l *Ledger) mintLocked(to string, amount domain.Amount) {
	l.totalSupply += amount
	l.balances[to] += amount
	l.balanceSeq[to] = l.seq
}

func (l *Ledger) moveLocked(from, to string, amount domain.Amount) {
	l.balances[from] -= amount
	l.balances[to] += amount
	l.balanceSeq[from] = l.seq
	l.balanceSeq[to] = l.seq
}

func (l *Ledger) setAllowanceLocked(owner, spender string, amount domain.Amount) {
	if l.allowances[owner] == nil {
		l.allowances[owner] = make(map[string]domain.Amount)
		l.allowanceSeq[owner] = make(map[string]uint64)
	}
	l.allowances[owner][spender] = amount
	l.allowanceSeq[owner][spender] = l.seq
}

func (l *Ledger) mintersLocked() []string {
	out := make([]string, 0, len(l.minters))
	for m := range l.minters {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}
