package game

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrAlreadyOwned      = errors.New("upgrade already owned")
	ErrLocked            = errors.New("building locked: previous tier not owned")
	ErrUnknownBuilding   = errors.New("building not found")
	ErrUnknownUpgrade    = errors.New("upgrade not found")
	ErrNegativeAmount    = errors.New("amount must be >= 0")
	ErrInvalidCatalog    = errors.New("invalid catalog")
	ErrCatalogMismatch   = errors.New("player records reference ids missing from catalog")
)

var (
	// StartingClickValue is what a click is worth before any ClickPower upgrade.
	StartingClickValue = decimal.NewFromInt(1)

	usernameRE = regexp.MustCompile(`^[a-z0-9_]{3,24}$`)
)

// CatalogError is a hard failure raised while validating catalog data.
type CatalogError struct {
	ID     string
	Reason string
}

func (e *CatalogError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s: %s", ErrInvalidCatalog, e.Reason)
	}
	return fmt.Sprintf("%s: %s: %s", ErrInvalidCatalog, e.ID, e.Reason)
}

func (e *CatalogError) Unwrap() error {
	return ErrInvalidCatalog
}

// FormatCoins renders an amount with K/M/B suffixes, the way the game HUD shows balances.
func FormatCoins(v decimal.Decimal) string {
	sign := ""
	if v.IsNegative() {
		sign = "-"
		v = v.Neg()
	}
	switch {
	case v.GreaterThanOrEqual(decimal.New(1, 12)):
		return sign + v.Div(decimal.New(1, 12)).StringFixed(1) + "T"
	case v.GreaterThanOrEqual(decimal.New(1, 9)):
		return sign + v.Div(decimal.New(1, 9)).StringFixed(1) + "B"
	case v.GreaterThanOrEqual(decimal.New(1, 6)):
		return sign + v.Div(decimal.New(1, 6)).StringFixed(1) + "M"
	case v.GreaterThanOrEqual(decimal.New(1, 3)):
		return sign + v.Div(decimal.New(1, 3)).StringFixed(1) + "K"
	default:
		return sign + v.Floor().String()
	}
}

// UsernameFromEmail derives a display name from the local part of an email address.
func UsernameFromEmail(email string) string {
	email = strings.TrimSpace(strings.ToLower(email))
	local, _, _ := strings.Cut(email, "@")
	return SanitizeUsername(local)
}

func SanitizeUsername(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if usernameRE.MatchString(s) {
		return s
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			out = append(out, r)
		} else {
			out = append(out, '_')
		}
	}
	res := strings.Trim(string(out), "_")
	if len(res) < 3 {
		res = "player_" + res
		res = strings.TrimRight(res, "_")
		if len(res) < 3 {
			res = "player"
		}
	}
	if len(res) > 24 {
		res = res[:24]
	}
	return res
}
