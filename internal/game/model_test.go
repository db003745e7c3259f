package game

import (
	"errors"
	"testing"

	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestFormatCoins(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "0", want: "0"},
		{in: "12.7", want: "12"},
		{in: "999", want: "999"},
		{in: "1500", want: "1.5K"},
		{in: "2500000", want: "2.5M"},
		{in: "7250000000", want: "7.3B"},
		{in: "-1500", want: "-1.5K"},
	}
	for _, tc := range tests {
		got := FormatCoins(dec(tc.in))
		if got != tc.want {
			t.Fatalf("FormatCoins(%s) got=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestUsernameFromEmail(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{email: "Steve.Miner@example.com", want: "steve_miner"},
		{email: "jo@example.com", want: "player_jo"},
		{email: "@example.com", want: "player"},
		{email: "alex_2000@example.com", want: "alex_2000"},
	}
	for _, tc := range tests {
		got := UsernameFromEmail(tc.email)
		if got != tc.want {
			t.Fatalf("UsernameFromEmail(%q) got=%q want=%q", tc.email, got, tc.want)
		}
	}
}

func TestCatalogErrorUnwraps(t *testing.T) {
	err := error(&CatalogError{ID: "mine", Reason: "bad"})
	if !errors.Is(err, ErrInvalidCatalog) {
		t.Fatalf("expected catalog error to match ErrInvalidCatalog")
	}
}
