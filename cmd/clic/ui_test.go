package main

import (
	"testing"

	"cliccoins/internal/game"

	"github.com/shopspring/decimal"
)

func TestComma(t *testing.T) {
	cases := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1,000"},
		{123456, "123,456"},
		{1234567, "1,234,567"},
		{-9876543, "-9,876,543"},
	}
	for _, tc := range cases {
		if got := comma(tc.in); got != tc.want {
			t.Fatalf("comma(%d) got=%q want=%q", tc.in, got, tc.want)
		}
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("enchanting_table", 10); got != "enchant..." {
		t.Fatalf("unexpected truncate: %q", got)
	}
	if got := truncate("  mine  ", 10); got != "mine" {
		t.Fatalf("unexpected truncate: %q", got)
	}
	if got := truncate("furnace", 2); got != "fu" {
		t.Fatalf("unexpected truncate: %q", got)
	}
}

func TestUpgradeEffect(t *testing.T) {
	cases := []struct {
		u    game.Upgrade
		want string
	}{
		{game.Upgrade{Kind: game.KindClickPower, Multiplier: decimal.NewFromInt(2)}, "click x2"},
		{game.Upgrade{Kind: game.KindGlobalBoost, Multiplier: decimal.NewFromInt(2)}, "all production x2"},
		{game.Upgrade{Kind: game.KindBuildingBoost, Target: "furnace", Multiplier: decimal.NewFromInt(2)}, "furnace x2"},
		{game.Upgrade{Kind: game.KindCategoryBoost, Target: "mining", Multiplier: decimal.RequireFromString("1.5")}, "mining buildings x1.5"},
	}
	for _, tc := range cases {
		if got := upgradeEffect(tc.u); got != tc.want {
			t.Fatalf("upgradeEffect(%s) got=%q want=%q", tc.u.Kind, got, tc.want)
		}
	}
}

func TestFormatRate(t *testing.T) {
	if got := formatRate(decimal.RequireFromString("1.1")); got != "1.1" {
		t.Fatalf("unexpected small rate: %q", got)
	}
	if got := formatRate(decimal.NewFromInt(2500)); got != "2.5K" {
		t.Fatalf("unexpected large rate: %q", got)
	}
}
