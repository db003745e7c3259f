package game

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// State is one player's economy. ProductionRate and ClickValue are derived from Owned and
// Purchased and only change through a purchase.
type State struct {
	PlayerID       string
	Username       string
	Ledger         Ledger
	ClickValue     decimal.Decimal
	ProductionRate decimal.Decimal
	TotalActions   int64 // manual clicks
	LastSyncedAt   time.Time
	CreatedAt      time.Time
	Owned          map[string]int64
	Purchased      map[string]struct{}
}

func NewState(playerID, username string, now time.Time) State {
	return State{
		PlayerID:       playerID,
		Username:       username,
		Ledger:         Ledger{Balance: decimal.Zero},
		ClickValue:     StartingClickValue,
		ProductionRate: decimal.Zero,
		LastSyncedAt:   now,
		CreatedAt:      now,
		Owned:          map[string]int64{},
		Purchased:      map[string]struct{}{},
	}
}

func (s State) Clone() State {
	out := s
	out.Owned = make(map[string]int64, len(s.Owned))
	for k, v := range s.Owned {
		out.Owned[k] = v
	}
	out.Purchased = make(map[string]struct{}, len(s.Purchased))
	for k := range s.Purchased {
		out.Purchased[k] = struct{}{}
	}
	return out
}

func (s State) Balance() decimal.Decimal {
	return s.Ledger.Balance
}

func (s State) Quantity(buildingID string) int64 {
	return s.Owned[buildingID]
}

func (s State) HasUpgrade(upgradeID string) bool {
	_, ok := s.Purchased[upgradeID]
	return ok
}

// Unlocked reports whether b may be bought: order 1 always, order k once order k-1 is owned.
func (s State) Unlocked(c *Catalog, b Building) bool {
	prev, ok := c.Predecessor(b)
	if !ok {
		return b.UnlockOrder <= 1
	}
	return s.Owned[prev.ID] > 0
}

type OwnedBuilding struct {
	BuildingID string          `json:"building_id"`
	Name       string          `json:"name"`
	Quantity   int64           `json:"quantity"`
	Production decimal.Decimal `json:"production"`
	NextCost   decimal.Decimal `json:"next_cost"`
}

// Snapshot is the read-only view handed to callers.
type Snapshot struct {
	PlayerID       string          `json:"player_id"`
	Username       string          `json:"username"`
	Balance        decimal.Decimal `json:"balance"`
	ClickValue     decimal.Decimal `json:"click_value"`
	ProductionRate decimal.Decimal `json:"production_rate"`
	TotalActions   int64           `json:"total_actions"`
	LastSyncedAt   time.Time       `json:"last_synced_at"`
	Buildings      []OwnedBuilding `json:"buildings"`
	Upgrades       []string        `json:"upgrades"`
}

func (s State) Snapshot(c *Catalog) Snapshot {
	out := Snapshot{
		PlayerID:       s.PlayerID,
		Username:       s.Username,
		Balance:        s.Ledger.Balance,
		ClickValue:     s.ClickValue,
		ProductionRate: s.ProductionRate,
		TotalActions:   s.TotalActions,
		LastSyncedAt:   s.LastSyncedAt,
		Buildings:      []OwnedBuilding{},
		Upgrades:       make([]string, 0, len(s.Purchased)),
	}
	prod, err := Recompute(c, s.Owned, s.Purchased)
	for _, b := range c.Buildings() {
		qty := s.Owned[b.ID]
		if qty <= 0 {
			continue
		}
		row := OwnedBuilding{
			BuildingID: b.ID,
			Name:       b.Name,
			Quantity:   qty,
			Production: decimal.Zero,
			NextCost:   BuildingCost(b, qty),
		}
		if err == nil {
			if slice, ok := prod.Slices[b.ID]; ok {
				row.Production = slice
			}
		}
		out.Buildings = append(out.Buildings, row)
	}
	for id := range s.Purchased {
		out.Upgrades = append(out.Upgrades, id)
	}
	sort.Strings(out.Upgrades)
	return out
}

type BuildingOffer struct {
	Building
	Owned      int64           `json:"owned"`
	NextCost   decimal.Decimal `json:"next_cost"`
	Unlocked   bool            `json:"unlocked"`
	Affordable bool            `json:"affordable"`
}

type UpgradeOffer struct {
	Upgrade
	Purchased  bool `json:"purchased"`
	Affordable bool `json:"affordable"`
}

// Storefront lists every catalog entry with the player's current price and availability.
type Storefront struct {
	Balance   decimal.Decimal `json:"balance"`
	Buildings []BuildingOffer `json:"buildings"`
	Upgrades  []UpgradeOffer  `json:"upgrades"`
}

func (s State) Storefront(c *Catalog) Storefront {
	out := Storefront{Balance: s.Ledger.Balance}
	for _, b := range c.Buildings() {
		qty := s.Owned[b.ID]
		cost := BuildingCost(b, qty)
		unlocked := s.Unlocked(c, b)
		out.Buildings = append(out.Buildings, BuildingOffer{
			Building:   b,
			Owned:      qty,
			NextCost:   cost,
			Unlocked:   unlocked,
			Affordable: unlocked && s.Ledger.Balance.GreaterThanOrEqual(cost),
		})
	}
	for _, u := range c.Upgrades() {
		owned := s.HasUpgrade(u.ID)
		out.Upgrades = append(out.Upgrades, UpgradeOffer{
			Upgrade:    u,
			Purchased:  owned,
			Affordable: !owned && s.Ledger.Balance.GreaterThanOrEqual(u.Cost),
		})
	}
	return out
}
