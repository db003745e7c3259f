package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"cliccoins/internal/game"

	"github.com/shopspring/decimal"
)

const recordVersion = 1

type playerRecord struct {
	Version        int             `json:"version"`
	PlayerID       string          `json:"player_id"`
	Username       string          `json:"username"`
	Balance        decimal.Decimal `json:"balance"`
	ClickValue     decimal.Decimal `json:"click_value"`
	ProductionRate decimal.Decimal `json:"production_rate"`
	TotalActions   int64           `json:"total_actions"`
	LastSyncedAt   time.Time       `json:"last_synced_at"`
	CreatedAt      time.Time       `json:"created_at"`
}

type buildingRecord struct {
	BuildingID string `json:"building_id"`
	Quantity   int64  `json:"quantity"`
}

type upgradeRecord struct {
	UpgradeID string `json:"upgrade_id"`
}

type idempotencyRecord struct {
	Action    string    `json:"action"`
	ClaimedAt time.Time `json:"claimed_at"`
}

func StateKey(playerID string) string     { return "player:" + playerID }
func BuildingsKey(playerID string) string { return "player:" + playerID + ":buildings" }
func UpgradesKey(playerID string) string  { return "player:" + playerID + ":upgrades" }
func idempotencyKey(playerID, key string) string {
	return "player:" + playerID + ":idem:" + key
}

// Players maps game.State to the three per-player records in a Gateway.
type Players struct {
	gw      Gateway
	catalog *game.Catalog
}

func NewPlayers(gw Gateway, catalog *game.Catalog) *Players {
	return &Players{gw: gw, catalog: catalog}
}

// Load returns ErrNotFound for a new player and ErrCorruptedState when stored records fail
// validation. Derived fields are recomputed from the ownership and purchase records.
func (p *Players) Load(ctx context.Context, playerID string) (game.State, error) {
	raw, err := p.gw.Get(ctx, StateKey(playerID))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return game.State{}, ErrNotFound
		}
		return game.State{}, fmt.Errorf("%w: get state: %v", ErrPersistence, err)
	}
	var rec playerRecord
	if err := json.Unmarshal(raw, &rec); err != nil {
		return game.State{}, fmt.Errorf("%w: decode state: %v", ErrCorruptedState, err)
	}
	if err := validatePlayerRecord(rec, playerID); err != nil {
		return game.State{}, err
	}

	var buildings []buildingRecord
	if err := p.getJSON(ctx, BuildingsKey(playerID), &buildings); err != nil {
		return game.State{}, err
	}
	var upgrades []upgradeRecord
	if err := p.getJSON(ctx, UpgradesKey(playerID), &upgrades); err != nil {
		return game.State{}, err
	}

	st := game.State{
		PlayerID:       rec.PlayerID,
		Username:       rec.Username,
		Ledger:         game.Ledger{Balance: rec.Balance},
		ClickValue:     rec.ClickValue,
		ProductionRate: rec.ProductionRate,
		TotalActions:   rec.TotalActions,
		LastSyncedAt:   rec.LastSyncedAt,
		CreatedAt:      rec.CreatedAt,
		Owned:          make(map[string]int64, len(buildings)),
		Purchased:      make(map[string]struct{}, len(upgrades)),
	}
	for _, b := range buildings {
		if _, dup := st.Owned[b.BuildingID]; dup {
			return game.State{}, fmt.Errorf("%w: duplicate building record %q", ErrCorruptedState, b.BuildingID)
		}
		if b.Quantity < 0 {
			return game.State{}, fmt.Errorf("%w: negative quantity for %q", ErrCorruptedState, b.BuildingID)
		}
		if _, ok := p.catalog.Building(b.BuildingID); !ok {
			return game.State{}, fmt.Errorf("%w: unknown building %q", ErrCorruptedState, b.BuildingID)
		}
		st.Owned[b.BuildingID] = b.Quantity
	}
	for _, u := range upgrades {
		if _, ok := p.catalog.Upgrade(u.UpgradeID); !ok {
			return game.State{}, fmt.Errorf("%w: unknown upgrade %q", ErrCorruptedState, u.UpgradeID)
		}
		st.Purchased[u.UpgradeID] = struct{}{}
	}

	st, err = game.Rederive(st, p.catalog)
	if err != nil {
		return game.State{}, fmt.Errorf("%w: %v", ErrCorruptedState, err)
	}
	return st, nil
}

func validatePlayerRecord(rec playerRecord, playerID string) error {
	switch {
	case rec.Version != recordVersion:
		return fmt.Errorf("%w: unsupported record version %d", ErrCorruptedState, rec.Version)
	case rec.PlayerID != playerID:
		return fmt.Errorf("%w: record belongs to %q", ErrCorruptedState, rec.PlayerID)
	case rec.Balance.IsNegative():
		return fmt.Errorf("%w: negative balance", ErrCorruptedState)
	case rec.ClickValue.IsNegative(), rec.ProductionRate.IsNegative():
		return fmt.Errorf("%w: negative derived value", ErrCorruptedState)
	case rec.TotalActions < 0:
		return fmt.Errorf("%w: negative action count", ErrCorruptedState)
	case rec.LastSyncedAt.IsZero():
		return fmt.Errorf("%w: missing last_synced_at", ErrCorruptedState)
	}
	return nil
}

// getJSON decodes key into out. A missing key leaves out untouched.
func (p *Players) getJSON(ctx context.Context, key string, out any) error {
	raw, err := p.gw.Get(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return fmt.Errorf("%w: get %s: %v", ErrPersistence, key, err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode %s: %v", ErrCorruptedState, key, err)
	}
	return nil
}

func (p *Players) Save(ctx context.Context, st game.State) error {
	rec := playerRecord{
		Version:        recordVersion,
		PlayerID:       st.PlayerID,
		Username:       st.Username,
		Balance:        st.Ledger.Balance,
		ClickValue:     st.ClickValue,
		ProductionRate: st.ProductionRate,
		TotalActions:   st.TotalActions,
		LastSyncedAt:   st.LastSyncedAt.UTC(),
		CreatedAt:      st.CreatedAt.UTC(),
	}
	buildings := make([]buildingRecord, 0, len(st.Owned))
	for _, b := range p.catalog.Buildings() {
		if qty, ok := st.Owned[b.ID]; ok {
			buildings = append(buildings, buildingRecord{BuildingID: b.ID, Quantity: qty})
		}
	}
	upgrades := make([]upgradeRecord, 0, len(st.Purchased))
	for _, u := range p.catalog.Upgrades() {
		if st.HasUpgrade(u.ID) {
			upgrades = append(upgrades, upgradeRecord{UpgradeID: u.ID})
		}
	}

	values := make(map[string][]byte, 3)
	for key, v := range map[string]any{
		StateKey(st.PlayerID):     rec,
		BuildingsKey(st.PlayerID): buildings,
		UpgradesKey(st.PlayerID):  upgrades,
	} {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("encode %s: %w", key, err)
		}
		values[key] = raw
	}

	if bs, ok := p.gw.(BatchSetter); ok {
		if err := bs.SetMany(ctx, values); err != nil {
			return fmt.Errorf("%w: %v", ErrPersistence, err)
		}
		return nil
	}
	// Ownership first so a partial write never leaves a state record pointing at newer purchases.
	for _, key := range []string{BuildingsKey(st.PlayerID), UpgradesKey(st.PlayerID), StateKey(st.PlayerID)} {
		if err := p.gw.Set(ctx, key, values[key]); err != nil {
			return fmt.Errorf("%w: set %s: %v", ErrPersistence, key, err)
		}
	}
	return nil
}

func (p *Players) Delete(ctx context.Context, playerID string) error {
	for _, key := range []string{StateKey(playerID), BuildingsKey(playerID), UpgradesKey(playerID)} {
		if err := p.gw.Delete(ctx, key); err != nil {
			return fmt.Errorf("%w: delete %s: %v", ErrPersistence, key, err)
		}
	}
	return nil
}

// ClaimIdempotency records key for playerID and fails with ErrDuplicateIdempotency if it was seen before.
func (p *Players) ClaimIdempotency(ctx context.Context, playerID, key, action string) error {
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("idempotency key is required")
	}
	raw, err := json.Marshal(idempotencyRecord{Action: action, ClaimedAt: time.Now().UTC()})
	if err != nil {
		return err
	}
	storeKey := idempotencyKey(playerID, key)
	if c, ok := p.gw.(Claimer); ok {
		inserted, err := c.SetIfAbsent(ctx, storeKey, raw)
		if err != nil {
			return fmt.Errorf("%w: claim idempotency: %v", ErrPersistence, err)
		}
		if !inserted {
			return ErrDuplicateIdempotency
		}
		return nil
	}
	if _, err := p.gw.Get(ctx, storeKey); err == nil {
		return ErrDuplicateIdempotency
	} else if !errors.Is(err, ErrNotFound) {
		return fmt.Errorf("%w: claim idempotency: %v", ErrPersistence, err)
	}
	if err := p.gw.Set(ctx, storeKey, raw); err != nil {
		return fmt.Errorf("%w: claim idempotency: %v", ErrPersistence, err)
	}
	return nil
}
