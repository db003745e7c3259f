package game

import (
	"errors"
	"testing"
	"time"
)

var epoch = time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)

func scenarioCatalog(t *testing.T) *Catalog {
	t.Helper()
	c, err := NewCatalog(
		[]Building{
			{ID: "furnace", Category: "crafting", BaseCost: dec("100"), BaseProduction: dec("5"), CostGrowth: dec("1.15"), UnlockOrder: 1},
			{ID: "mine", Category: "mining", BaseCost: dec("200"), BaseProduction: dec("10"), CostGrowth: dec("1.15"), UnlockOrder: 2},
			{ID: "cave", Category: "mining", BaseCost: dec("1000"), BaseProduction: dec("50"), CostGrowth: dec("1.15"), UnlockOrder: 3},
		},
		[]Upgrade{
			{ID: "beacon", Cost: dec("50"), Kind: KindGlobalBoost, Multiplier: dec("2")},
			{ID: "pickaxe", Cost: dec("10"), Kind: KindClickPower, Multiplier: dec("2")},
		},
	)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	return c
}

func funded(balance string) State {
	s := NewState("p1", "steve", epoch)
	s.Ledger.Balance = dec(balance)
	return s
}

func TestPurchaseBuildingScenario(t *testing.T) {
	c := scenarioCatalog(t)
	s := funded("100")

	next, out, err := Reduce(s, c, BuyBuilding{BuildingID: "furnace"})
	if err != nil {
		t.Fatalf("purchase failed: %v", err)
	}
	if !next.Balance().IsZero() {
		t.Fatalf("balance=%s want 0", next.Balance())
	}
	if next.Quantity("furnace") != 1 || out.Quantity != 1 {
		t.Fatalf("quantity=%d want 1", next.Quantity("furnace"))
	}
	b, _ := c.Building("furnace")
	if got := BuildingCost(b, next.Quantity("furnace")); !got.Equal(dec("115")) {
		t.Fatalf("next cost=%s want 115", got)
	}
	if !next.ProductionRate.Equal(dec("5")) {
		t.Fatalf("rate=%s want 5", next.ProductionRate)
	}
	if !out.Persist || !out.Spent.Equal(dec("100")) {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if s.Quantity("furnace") != 0 || !s.Balance().Equal(dec("100")) {
		t.Fatalf("input state was mutated")
	}
}

func TestPurchaseBuildingInsufficientFundsLeavesState(t *testing.T) {
	c := scenarioCatalog(t)
	s := funded("99")

	next, _, err := Reduce(s, c, BuyBuilding{BuildingID: "furnace"})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}
	if !next.Balance().Equal(dec("99")) || next.Quantity("furnace") != 0 || !next.ProductionRate.IsZero() {
		t.Fatalf("state changed on failed purchase: %+v", next)
	}
}

func TestUnlockOrdering(t *testing.T) {
	c := scenarioCatalog(t)
	s := funded("100000")

	if _, _, err := Reduce(s, c, BuyBuilding{BuildingID: "mine"}); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected mine to be locked, got %v", err)
	}
	if _, _, err := Reduce(s, c, BuyBuilding{BuildingID: "cave"}); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected cave to be locked, got %v", err)
	}

	s, _, err := Reduce(s, c, BuyBuilding{BuildingID: "furnace"})
	if err != nil {
		t.Fatalf("furnace: %v", err)
	}
	if _, _, err := Reduce(s, c, BuyBuilding{BuildingID: "cave"}); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected cave to stay locked until mine is owned, got %v", err)
	}
	s, _, err = Reduce(s, c, BuyBuilding{BuildingID: "mine"})
	if err != nil {
		t.Fatalf("mine: %v", err)
	}
	if _, _, err := Reduce(s, c, BuyBuilding{BuildingID: "cave"}); err != nil {
		t.Fatalf("cave should unlock after mine: %v", err)
	}
}

func TestLockedCheckedBeforeFunds(t *testing.T) {
	c := scenarioCatalog(t)
	s := funded("0")
	if _, _, err := Reduce(s, c, BuyBuilding{BuildingID: "mine"}); !errors.Is(err, ErrLocked) {
		t.Fatalf("expected locked before insufficient funds, got %v", err)
	}
}

func TestUpgradeIdempotence(t *testing.T) {
	c := scenarioCatalog(t)
	s := funded("500")

	s, _, err := Reduce(s, c, BuyUpgrade{UpgradeID: "beacon"})
	if err != nil {
		t.Fatalf("first purchase: %v", err)
	}
	before := s.Balance()
	next, _, err := Reduce(s, c, BuyUpgrade{UpgradeID: "beacon"})
	if !errors.Is(err, ErrAlreadyOwned) {
		t.Fatalf("expected already owned, got %v", err)
	}
	if !next.Balance().Equal(before) || len(next.Purchased) != 1 {
		t.Fatalf("second purchase changed state")
	}
}

func TestGlobalBoostScenario(t *testing.T) {
	c := scenarioCatalog(t)
	s := funded("1000")
	var err error
	for _, id := range []string{"furnace", "mine"} {
		s, _, err = Reduce(s, c, BuyBuilding{BuildingID: id})
		if err != nil {
			t.Fatalf("buy %s: %v", id, err)
		}
	}
	if !s.ProductionRate.Equal(dec("15")) {
		t.Fatalf("rate=%s want 15", s.ProductionRate)
	}
	s, _, err = Reduce(s, c, BuyUpgrade{UpgradeID: "beacon"})
	if err != nil {
		t.Fatalf("beacon: %v", err)
	}
	if !s.ProductionRate.Equal(dec("30")) {
		t.Fatalf("rate=%s want 30", s.ProductionRate)
	}
}

func TestClickCreditsClickValue(t *testing.T) {
	c := scenarioCatalog(t)
	s := funded("10")

	s, out, err := Reduce(s, c, Click{})
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if !out.Credited.Equal(dec("1")) || !s.Balance().Equal(dec("11")) || s.TotalActions != 1 {
		t.Fatalf("unexpected click result balance=%s actions=%d", s.Balance(), s.TotalActions)
	}
	s, _, err = Reduce(s, c, BuyUpgrade{UpgradeID: "pickaxe"})
	if err != nil {
		t.Fatalf("pickaxe: %v", err)
	}
	s, _, err = Reduce(s, c, Click{})
	if err != nil {
		t.Fatalf("click: %v", err)
	}
	if !s.Balance().Equal(dec("3")) || s.TotalActions != 2 {
		t.Fatalf("balance=%s actions=%d want 3 and 2", s.Balance(), s.TotalActions)
	}
}

func TestCatchUpAccrual(t *testing.T) {
	s := NewState("p1", "steve", epoch)
	s.ProductionRate = dec("10")

	next, out, err := Reduce(s, nil, Tick{Now: epoch.Add(120 * time.Second)})
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if !next.Balance().Equal(dec("1200")) || !out.Credited.Equal(dec("1200")) {
		t.Fatalf("balance=%s want 1200", next.Balance())
	}
	if !next.LastSyncedAt.Equal(epoch.Add(120 * time.Second)) {
		t.Fatalf("last synced=%v", next.LastSyncedAt)
	}
}

func TestAdvanceClockRegression(t *testing.T) {
	s := NewState("p1", "steve", epoch)
	s.ProductionRate = dec("10")

	next, earned := Advance(s, epoch.Add(-time.Hour))
	if !earned.IsZero() || !next.Balance().IsZero() {
		t.Fatalf("clock regression credited %s", earned)
	}
	if !next.LastSyncedAt.Equal(epoch) {
		t.Fatalf("last synced moved backwards to %v", next.LastSyncedAt)
	}

	next, earned = Advance(next, epoch.Add(time.Second))
	if !earned.Equal(dec("10")) {
		t.Fatalf("earned=%s want 10", earned)
	}
}

func TestTickSplitsAreLinear(t *testing.T) {
	s := NewState("p1", "steve", epoch)
	s.ProductionRate = dec("3.7")

	ticked := s
	now := epoch
	for i := 0; i < 37; i++ {
		now = now.Add(97 * time.Millisecond)
		ticked, _ = Advance(ticked, now)
	}
	once, _ := Advance(s, now)
	if !ticked.Balance().Equal(once.Balance()) {
		t.Fatalf("ticked=%s once=%s", ticked.Balance(), once.Balance())
	}
}

func TestUnknownIDs(t *testing.T) {
	c := scenarioCatalog(t)
	s := funded("1000")
	if _, _, err := Reduce(s, c, BuyBuilding{BuildingID: "nether_portal"}); !errors.Is(err, ErrUnknownBuilding) {
		t.Fatalf("expected unknown building, got %v", err)
	}
	if _, _, err := Reduce(s, c, BuyUpgrade{UpgradeID: "elytra"}); !errors.Is(err, ErrUnknownUpgrade) {
		t.Fatalf("expected unknown upgrade, got %v", err)
	}
}

func TestStorefront(t *testing.T) {
	c := scenarioCatalog(t)
	s := funded("150")
	s, _, err := Reduce(s, c, BuyBuilding{BuildingID: "furnace"})
	if err != nil {
		t.Fatalf("furnace: %v", err)
	}
	sf := s.Storefront(c)
	if len(sf.Buildings) != 3 || len(sf.Upgrades) != 2 {
		t.Fatalf("unexpected storefront sizes %d/%d", len(sf.Buildings), len(sf.Upgrades))
	}
	furnace, mine, cave := sf.Buildings[0], sf.Buildings[1], sf.Buildings[2]
	if !furnace.NextCost.Equal(dec("115")) || furnace.Owned != 1 || furnace.Affordable {
		t.Fatalf("unexpected furnace offer %+v", furnace)
	}
	if !mine.Unlocked || cave.Unlocked {
		t.Fatalf("unlock flags mine=%v cave=%v", mine.Unlocked, cave.Unlocked)
	}
	if !sf.Upgrades[0].Affordable {
		t.Fatalf("beacon (50) should be affordable with 50")
	}

	snap := s.Snapshot(c)
	if len(snap.Buildings) != 1 || !snap.Buildings[0].Production.Equal(dec("5")) {
		t.Fatalf("unexpected snapshot buildings %+v", snap.Buildings)
	}
}
