package game

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
)

type UpgradeKind string

const (
	KindClickPower    UpgradeKind = "click_power"
	KindGlobalBoost   UpgradeKind = "global_boost"
	KindBuildingBoost UpgradeKind = "building_boost"
	KindCategoryBoost UpgradeKind = "category_boost"
)

func (k UpgradeKind) Valid() bool {
	switch k {
	case KindClickPower, KindGlobalBoost, KindBuildingBoost, KindCategoryBoost:
		return true
	default:
		return false
	}
}

// Building is a purchasable producer. Order 1 is always unlocked; order k needs order k-1 owned.
type Building struct {
	ID             string          `json:"id"`
	Name           string          `json:"name"`
	Description    string          `json:"description,omitempty"`
	Category       string          `json:"category"`
	BaseCost       decimal.Decimal `json:"base_cost"`
	BaseProduction decimal.Decimal `json:"base_production"`
	CostGrowth     decimal.Decimal `json:"cost_growth"`
	UnlockOrder    int             `json:"unlock_order"`
}

// Upgrade is a one-time multiplier. Target holds the building id for building boosts
// and the category name for category boosts.
type Upgrade struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Cost        decimal.Decimal `json:"cost"`
	Kind        UpgradeKind     `json:"kind"`
	Target      string          `json:"target,omitempty"`
	Multiplier  decimal.Decimal `json:"multiplier"`
}

// Catalog is the static, validated set of buildings and upgrades. It is read-only after NewCatalog.
type Catalog struct {
	buildings []Building
	upgrades  []Upgrade

	buildingIdx map[string]int
	upgradeIdx  map[string]int
	orderIdx    map[int]int
}

type catalogFile struct {
	Buildings []Building `json:"buildings"`
	Upgrades  []Upgrade  `json:"upgrades"`
}

func NewCatalog(buildings []Building, upgrades []Upgrade) (*Catalog, error) {
	c := &Catalog{
		buildings:   append([]Building(nil), buildings...),
		upgrades:    append([]Upgrade(nil), upgrades...),
		buildingIdx: make(map[string]int, len(buildings)),
		upgradeIdx:  make(map[string]int, len(upgrades)),
		orderIdx:    make(map[int]int, len(buildings)),
	}
	sort.SliceStable(c.buildings, func(i, j int) bool {
		return c.buildings[i].UnlockOrder < c.buildings[j].UnlockOrder
	})
	if err := c.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Catalog) validate() error {
	if len(c.buildings) == 0 {
		return &CatalogError{Reason: "at least one building is required"}
	}
	one := decimal.NewFromInt(1)
	categories := make(map[string]struct{})
	for i, b := range c.buildings {
		if strings.TrimSpace(b.ID) == "" {
			return &CatalogError{Reason: fmt.Sprintf("building #%d has an empty id", i)}
		}
		if _, dup := c.buildingIdx[b.ID]; dup {
			return &CatalogError{ID: b.ID, Reason: "duplicate building id"}
		}
		if !b.BaseCost.IsPositive() {
			return &CatalogError{ID: b.ID, Reason: "base_cost must be > 0"}
		}
		if b.BaseProduction.IsNegative() {
			return &CatalogError{ID: b.ID, Reason: "base_production must be >= 0"}
		}
		if !b.CostGrowth.GreaterThan(one) {
			return &CatalogError{ID: b.ID, Reason: "cost_growth must be > 1"}
		}
		// floor(x*g) > floor(x) for every x >= base_cost only when base_cost*(g-1) >= 1.
		if b.BaseCost.Mul(b.CostGrowth.Sub(one)).LessThan(one) {
			return &CatalogError{ID: b.ID, Reason: "base_cost*(cost_growth-1) must be >= 1"}
		}
		if b.UnlockOrder != i+1 {
			return &CatalogError{ID: b.ID, Reason: fmt.Sprintf("unlock_order %d breaks the chain, expected %d", b.UnlockOrder, i+1)}
		}
		c.buildingIdx[b.ID] = i
		c.orderIdx[b.UnlockOrder] = i
		categories[b.Category] = struct{}{}
	}

	for i, u := range c.upgrades {
		if strings.TrimSpace(u.ID) == "" {
			return &CatalogError{Reason: fmt.Sprintf("upgrade #%d has an empty id", i)}
		}
		if _, dup := c.upgradeIdx[u.ID]; dup {
			return &CatalogError{ID: u.ID, Reason: "duplicate upgrade id"}
		}
		if !u.Kind.Valid() {
			return &CatalogError{ID: u.ID, Reason: fmt.Sprintf("unknown kind %q", u.Kind)}
		}
		if !u.Cost.IsPositive() {
			return &CatalogError{ID: u.ID, Reason: "cost must be > 0"}
		}
		if !u.Multiplier.IsPositive() {
			return &CatalogError{ID: u.ID, Reason: "multiplier must be > 0"}
		}
		switch u.Kind {
		case KindBuildingBoost:
			if _, ok := c.buildingIdx[u.Target]; !ok {
				return &CatalogError{ID: u.ID, Reason: fmt.Sprintf("target building %q does not exist", u.Target)}
			}
		case KindCategoryBoost:
			if _, ok := categories[u.Target]; !ok || u.Target == "" {
				return &CatalogError{ID: u.ID, Reason: fmt.Sprintf("target category %q has no buildings", u.Target)}
			}
		}
		c.upgradeIdx[u.ID] = i
	}
	return nil
}

// Buildings returns the buildings ordered by unlock order.
func (c *Catalog) Buildings() []Building {
	return append([]Building(nil), c.buildings...)
}

func (c *Catalog) Upgrades() []Upgrade {
	return append([]Upgrade(nil), c.upgrades...)
}

func (c *Catalog) Building(id string) (Building, bool) {
	i, ok := c.buildingIdx[id]
	if !ok {
		return Building{}, false
	}
	return c.buildings[i], true
}

func (c *Catalog) Upgrade(id string) (Upgrade, bool) {
	i, ok := c.upgradeIdx[id]
	if !ok {
		return Upgrade{}, false
	}
	return c.upgrades[i], true
}

// Predecessor returns the building one unlock order below b.
func (c *Catalog) Predecessor(b Building) (Building, bool) {
	if b.UnlockOrder <= 1 {
		return Building{}, false
	}
	i, ok := c.orderIdx[b.UnlockOrder-1]
	if !ok {
		return Building{}, false
	}
	return c.buildings[i], true
}

func (c *Catalog) MarshalJSON() ([]byte, error) {
	return json.Marshal(catalogFile{Buildings: c.buildings, Upgrades: c.upgrades})
}

func ParseCatalog(raw []byte) (*Catalog, error) {
	var f catalogFile
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&f); err != nil {
		return nil, &CatalogError{Reason: fmt.Sprintf("decode: %v", err)}
	}
	return NewCatalog(f.Buildings, f.Upgrades)
}

func LoadCatalogFile(path string) (*Catalog, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read catalog %s: %w", path, err)
	}
	return ParseCatalog(raw)
}

// DefaultCatalog is the built-in block-world catalog used when no catalog file is configured.
func DefaultCatalog() *Catalog {
	growth := decimal.RequireFromString("1.15")
	d := decimal.RequireFromString
	buildings := []Building{
		{ID: "wooden_pickaxe", Name: "Wooden Pickaxe", Description: "Chips away at loose stone.", Category: "tools", BaseCost: d("15"), BaseProduction: d("0.1"), CostGrowth: growth, UnlockOrder: 1},
		{ID: "furnace", Name: "Furnace", Description: "Smelts ore into coins.", Category: "crafting", BaseCost: d("100"), BaseProduction: d("1"), CostGrowth: growth, UnlockOrder: 2},
		{ID: "mine", Name: "Mine", Description: "A shaft full of miners.", Category: "mining", BaseCost: d("1375"), BaseProduction: d("5"), CostGrowth: growth, UnlockOrder: 3},
		{ID: "cave", Name: "Cave", Description: "Deep caverns rich with ore.", Category: "mining", BaseCost: d("3500"), BaseProduction: d("15"), CostGrowth: growth, UnlockOrder: 4},
		{ID: "villager_farm", Name: "Villager Farm", Description: "Villagers trade crops for coins.", Category: "farming", BaseCost: d("12000"), BaseProduction: d("47"), CostGrowth: growth, UnlockOrder: 5},
		{ID: "enchanting_table", Name: "Enchanting Table", Description: "Turns experience into fortune.", Category: "magic", BaseCost: d("130000"), BaseProduction: d("260"), CostGrowth: growth, UnlockOrder: 6},
	}
	upgrades := []Upgrade{
		{ID: "stone_pickaxe", Name: "Stone Pickaxe", Description: "Clicks are worth twice as much.", Cost: d("100"), Kind: KindClickPower, Multiplier: d("2")},
		{ID: "iron_pickaxe", Name: "Iron Pickaxe", Description: "Clicks are worth twice as much.", Cost: d("500"), Kind: KindClickPower, Multiplier: d("2")},
		{ID: "drill", Name: "Drill", Description: "Clicks are worth three times as much.", Cost: d("2000"), Kind: KindClickPower, Multiplier: d("3")},
		{ID: "blast_furnace", Name: "Blast Furnace", Description: "Furnaces produce twice as much.", Cost: d("1000"), Kind: KindBuildingBoost, Target: "furnace", Multiplier: d("2")},
		{ID: "minecart_rails", Name: "Minecart Rails", Description: "Mines produce twice as much.", Cost: d("10000"), Kind: KindBuildingBoost, Target: "mine", Multiplier: d("2")},
		{ID: "torches", Name: "Torches", Description: "Mining buildings produce 50% more.", Cost: d("25000"), Kind: KindCategoryBoost, Target: "mining", Multiplier: d("1.5")},
		{ID: "beacon", Name: "Beacon", Description: "All production doubles.", Cost: d("100000"), Kind: KindGlobalBoost, Multiplier: d("2")},
	}
	c, err := NewCatalog(buildings, upgrades)
	if err != nil {
		panic(err)
	}
	return c
}
