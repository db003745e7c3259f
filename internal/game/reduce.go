package game

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Event is a player action or the passage of time.
type Event interface {
	event()
}

type Click struct{}

type BuyBuilding struct {
	BuildingID string
}

type BuyUpgrade struct {
	UpgradeID string
}

// Tick accrues production up to Now.
type Tick struct {
	Now time.Time
}

func (Click) event()       {}
func (BuyBuilding) event() {}
func (BuyUpgrade) event()  {}
func (Tick) event()        {}

// Outcome describes what a successful transition did.
type Outcome struct {
	// Credited is the coin amount added by a click or a tick.
	Credited decimal.Decimal
	// Spent is the coin amount debited by a purchase.
	Spent decimal.Decimal
	// Quantity is the new owned count after a building purchase.
	Quantity int64
	// Persist is set when the transition changed durable records and should be saved promptly.
	Persist bool
}

// Reduce applies ev to s and returns the next state. On error the returned state is s unchanged.
func Reduce(s State, c *Catalog, ev Event) (State, Outcome, error) {
	switch e := ev.(type) {
	case Click:
		next := s.Clone()
		if err := next.Ledger.Credit(next.ClickValue); err != nil {
			return s, Outcome{}, err
		}
		next.TotalActions++
		return next, Outcome{Credited: next.ClickValue}, nil
	case Tick:
		next, earned := Advance(s, e.Now)
		return next, Outcome{Credited: earned}, nil
	case BuyBuilding:
		return purchaseBuilding(s, c, e.BuildingID)
	case BuyUpgrade:
		return purchaseUpgrade(s, c, e.UpgradeID)
	default:
		return s, Outcome{}, fmt.Errorf("unsupported event %T", ev)
	}
}

// Advance accrues production for the time between s.LastSyncedAt and now.
// A clock that moved backwards accrues nothing and leaves LastSyncedAt where it was.
func Advance(s State, now time.Time) (State, decimal.Decimal) {
	elapsed := now.Sub(s.LastSyncedAt)
	if elapsed <= 0 {
		return s, decimal.Zero
	}
	next := s
	earned := next.Ledger.Accrue(elapsed, next.ProductionRate)
	next.LastSyncedAt = now
	return next, earned
}

func purchaseBuilding(s State, c *Catalog, id string) (State, Outcome, error) {
	b, ok := c.Building(id)
	if !ok {
		return s, Outcome{}, fmt.Errorf("%w: %s", ErrUnknownBuilding, id)
	}
	if !s.Unlocked(c, b) {
		return s, Outcome{}, fmt.Errorf("%w: %s", ErrLocked, id)
	}
	cost := BuildingCost(b, s.Owned[b.ID])

	next := s.Clone()
	if err := next.Ledger.Debit(cost); err != nil {
		return s, Outcome{}, fmt.Errorf("%w: %s costs %s", err, id, cost.String())
	}
	next.Owned[b.ID]++
	if err := recomputeInto(&next, c); err != nil {
		return s, Outcome{}, err
	}
	return next, Outcome{Spent: cost, Quantity: next.Owned[b.ID], Persist: true}, nil
}

func purchaseUpgrade(s State, c *Catalog, id string) (State, Outcome, error) {
	u, ok := c.Upgrade(id)
	if !ok {
		return s, Outcome{}, fmt.Errorf("%w: %s", ErrUnknownUpgrade, id)
	}
	if s.HasUpgrade(u.ID) {
		return s, Outcome{}, fmt.Errorf("%w: %s", ErrAlreadyOwned, id)
	}

	next := s.Clone()
	if err := next.Ledger.Debit(u.Cost); err != nil {
		return s, Outcome{}, fmt.Errorf("%w: %s costs %s", err, id, u.Cost.String())
	}
	next.Purchased[u.ID] = struct{}{}
	if err := recomputeInto(&next, c); err != nil {
		return s, Outcome{}, err
	}
	return next, Outcome{Spent: u.Cost, Persist: true}, nil
}

// Rederive refreshes the cached production fields from the ownership and purchase records.
func Rederive(s State, c *Catalog) (State, error) {
	next := s.Clone()
	if err := recomputeInto(&next, c); err != nil {
		return s, err
	}
	return next, nil
}

func recomputeInto(s *State, c *Catalog) error {
	p, err := Recompute(c, s.Owned, s.Purchased)
	if err != nil {
		return err
	}
	s.ProductionRate = p.Rate
	s.ClickValue = p.ClickValue
	return nil
}
