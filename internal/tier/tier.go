// ABOUTME: Balance-to-tier resolution for token-gated compute entitlements
// ABOUTME: Holds an immutable ascending threshold table behind an atomically swappable pointer

package tier

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"
)

// Tier names.
const (
	Basic    = "basic"
	Standard = "standard"
	Pro      = "pro"
	Power    = "power"
)

// ErrInvalidTable is returned when a tier table fails validation.
var ErrInvalidTable = errors.New("invalid tier table")

// Tier is a named entitlement bucket granting a fixed compute allotment.
type Tier struct {
	Name       string  `json:"name" yaml:"name" toml:"name"`
	MinBalance float64 `json:"min" yaml:"min_balance" toml:"min_balance"`
	Cores      int     `json:"cores" yaml:"cores" toml:"cores"`
	MemoryMB   int     `json:"memory" yaml:"memory_mb" toml:"memory_mb"`
}

// Table is an immutable list of tiers, strictly ascending by MinBalance.
type Table struct {
	tiers []Tier
}

// DefaultTiers returns the stock table (token units, 6 decimals already applied).
func DefaultTiers() []Tier {
	return []Tier{
		{Name: Basic, MinBalance: 100_000, Cores: 1, MemoryMB: 1024},
		{Name: Standard, MinBalance: 500_000, Cores: 2, MemoryMB: 2048},
		{Name: Pro, MinBalance: 1_000_000, Cores: 4, MemoryMB: 4096},
		{Name: Power, MinBalance: 5_000_000, Cores: 8, MemoryMB: 8192},
	}
}

// NewTable validates tiers and returns an immutable table.
func NewTable(tiers []Tier) (*Table, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("%w: no tiers", ErrInvalidTable)
	}
	seen := make(map[string]bool, len(tiers))
	for i, t := range tiers {
		if t.Name == "" {
			return nil, fmt.Errorf("%w: tier %d has no name", ErrInvalidTable, i)
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("%w: duplicate tier %q", ErrInvalidTable, t.Name)
		}
		seen[t.Name] = true
		if math.IsNaN(t.MinBalance) || math.IsInf(t.MinBalance, 0) || t.MinBalance < 0 {
			return nil, fmt.Errorf("%w: tier %q has invalid min_balance", ErrInvalidTable, t.Name)
		}
		if t.Cores <= 0 || t.MemoryMB <= 0 {
			return nil, fmt.Errorf("%w: tier %q must grant positive cores and memory", ErrInvalidTable, t.Name)
		}
		if i > 0 && t.MinBalance <= tiers[i-1].MinBalance {
			return nil, fmt.Errorf("%w: tier %q is not above %q", ErrInvalidTable, t.Name, tiers[i-1].Name)
		}
	}
	cp := make([]Tier, len(tiers))
	copy(cp, tiers)
	return &Table{tiers: cp}, nil
}

// MustDefault returns the default table. It cannot fail.
func MustDefault() *Table {
	t, err := NewTable(DefaultTiers())
	if err != nil {
		panic(err)
	}
	return t
}

// Resolve returns the highest tier whose MinBalance is at or below balance.
// Non-finite and negative balances never qualify.
func (t *Table) Resolve(balance float64) (Tier, bool) {
	if math.IsNaN(balance) || math.IsInf(balance, 0) || balance < 0 {
		return Tier{}, false
	}
	for i := len(t.tiers) - 1; i >= 0; i-- {
		if balance >= t.tiers[i].MinBalance {
			return t.tiers[i], true
		}
	}
	return Tier{}, false
}

// Lowest returns the entry tier.
func (t *Table) Lowest() Tier {
	return t.tiers[0]
}

// Rank returns the 1-based position of the named tier, or 0 if unknown.
func (t *Table) Rank(name string) int {
	for i, tr := range t.tiers {
		if tr.Name == name {
			return i + 1
		}
	}
	return 0
}

// Tiers returns a copy of the table in ascending order.
func (t *Table) Tiers() []Tier {
	cp := make([]Tier, len(t.tiers))
	copy(cp, t.tiers)
	return cp
}

// Resolver resolves balances against the current table. The table can be
// replaced at runtime; every resolution sees exactly one table.
type Resolver struct {
	table atomic.Pointer[Table]
}

// NewResolver creates a resolver over the given table.
func NewResolver(t *Table) *Resolver {
	r := &Resolver{}
	r.table.Store(t)
	return r
}

// Resolve resolves balance against the current table.
func (r *Resolver) Resolve(balance float64) (Tier, bool) {
	return r.table.Load().Resolve(balance)
}

// Table returns the table currently in effect.
func (r *Resolver) Table() *Table {
	return r.table.Load()
}

// Reload swaps in a new table.
func (r *Resolver) Reload(t *Table) {
	r.table.Store(t)
}
