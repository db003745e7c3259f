package main

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	cl "cliccoins/internal/cli"
	"cliccoins/internal/game"

	"github.com/fatih/color"
	"github.com/shopspring/decimal"
	"golang.org/x/term"
)

var (
	stdinReader = bufio.NewReader(os.Stdin)
	accent      = color.New(color.FgCyan, color.Bold)
	success     = color.New(color.FgGreen, color.Bold)
	warn        = color.New(color.FgYellow, color.Bold)
	danger      = color.New(color.FgRed, color.Bold)
	neutral     = color.New(color.FgHiWhite)
	muted       = color.New(color.FgHiBlack)
)

func printSuccess(msg string) {
	success.Println(msg)
}

func printWarn(msg string) {
	warn.Println(msg)
}

func printError(msg string) {
	danger.Println(msg)
}

func printInfo(msg string) {
	neutral.Println(msg)
}

func promptRequired(label string) (string, error) {
	for {
		fmt.Printf("%s: ", label)
		text, err := stdinReader.ReadString('\n')
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptOptional(label string) (string, error) {
	fmt.Printf("%s: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(text), nil
}

// promptPassword hides input on a terminal and falls back to a plain read when stdin is piped.
func promptPassword(label string) (string, error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return promptRequired(label)
	}
	for {
		fmt.Printf("%s: ", label)
		raw, err := term.ReadPassword(fd)
		fmt.Println()
		if err != nil {
			return "", err
		}
		if text := strings.TrimSpace(string(raw)); text != "" {
			return text, nil
		}
		printWarn(label + " is required.")
	}
}

func promptConfirm(label string) (bool, error) {
	fmt.Printf("%s [y/N]: ", label)
	text, err := stdinReader.ReadString('\n')
	if err != nil {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(text)) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

func renderSnapshot(s game.Snapshot) {
	accent.Printf("\n== %s's MINE ==\n", strings.ToUpper(s.Username))
	fmt.Printf("Balance:      %s coins\n", success.Sprint(game.FormatCoins(s.Balance)))
	fmt.Printf("Production:   %s /s\n", formatRate(s.ProductionRate))
	fmt.Printf("Click value:  %s\n", game.FormatCoins(s.ClickValue))
	fmt.Printf("Clicks:       %s\n", comma(s.TotalActions))

	fmt.Println()
	accent.Println("Buildings")
	if len(s.Buildings) == 0 {
		printInfo("Nothing built yet. Try `clic buy building wooden_pickaxe`.")
	} else {
		fmt.Printf("%-20s %8s %12s %12s\n", "NAME", "QTY", "PROD/S", "NEXT COST")
		for _, b := range s.Buildings {
			fmt.Printf("%-20s %8s %12s %12s\n",
				truncate(b.Name, 20),
				comma(b.Quantity),
				formatRate(b.Production),
				game.FormatCoins(b.NextCost),
			)
		}
	}

	if len(s.Upgrades) > 0 {
		fmt.Println()
		accent.Println("Upgrades")
		fmt.Println(strings.Join(s.Upgrades, ", "))
	}
	fmt.Println()
}

func renderCatalog(front game.Storefront) {
	accent.Println("\n== BUILDINGS ==")
	fmt.Printf("%-18s %-9s %6s %12s %10s  %s\n", "ID", "CATEGORY", "OWNED", "COST", "PROD/S", "STATUS")
	for _, b := range front.Buildings {
		fmt.Printf("%-18s %-9s %6s %12s %10s  %s\n",
			truncate(b.ID, 18),
			truncate(b.Category, 9),
			comma(b.Owned),
			game.FormatCoins(b.NextCost),
			formatRate(b.BaseProduction),
			buildingStatus(b),
		)
	}

	accent.Println("\n== UPGRADES ==")
	fmt.Printf("%-16s %-30s %12s  %s\n", "ID", "EFFECT", "COST", "STATUS")
	for _, u := range front.Upgrades {
		fmt.Printf("%-16s %-30s %12s  %s\n",
			truncate(u.ID, 16),
			truncate(upgradeEffect(u.Upgrade), 30),
			game.FormatCoins(u.Cost),
			upgradeStatus(u),
		)
	}
	fmt.Printf("\nBalance: %s coins\n\n", success.Sprint(game.FormatCoins(front.Balance)))
}

func renderReplay(out cl.ReplayResponse) {
	accent.Println("\n== SYNC ==")
	for _, r := range out.Results {
		label := r.Kind
		if r.ID != "" {
			label += " " + r.ID
		}
		switch r.Status {
		case "applied":
			fmt.Printf("%-28s %s\n", label, success.Sprint("applied"))
		case "duplicate":
			fmt.Printf("%-28s %s\n", label, muted.Sprint("already applied"))
		default:
			fmt.Printf("%-28s %s %s\n", label, danger.Sprint("rejected"), r.Error)
		}
	}
}

func buildingStatus(b game.BuildingOffer) string {
	switch {
	case !b.Unlocked:
		return muted.Sprint("locked")
	case b.Affordable:
		return success.Sprint("buy")
	default:
		return warn.Sprint("saving up")
	}
}

func upgradeStatus(u game.UpgradeOffer) string {
	switch {
	case u.Purchased:
		return muted.Sprint("owned")
	case u.Affordable:
		return success.Sprint("buy")
	default:
		return warn.Sprint("saving up")
	}
}

func upgradeEffect(u game.Upgrade) string {
	mult := "x" + u.Multiplier.String()
	switch u.Kind {
	case game.KindClickPower:
		return "click " + mult
	case game.KindGlobalBoost:
		return "all production " + mult
	case game.KindBuildingBoost:
		return u.Target + " " + mult
	case game.KindCategoryBoost:
		return u.Target + " buildings " + mult
	default:
		return string(u.Kind)
	}
}

func formatRate(v decimal.Decimal) string {
	if v.LessThan(decimal.NewFromInt(1000)) {
		return v.StringFixed(1)
	}
	return game.FormatCoins(v)
}

func comma(v int64) string {
	s := strconv.FormatInt(v, 10)
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if len(s) <= 3 {
		if neg {
			return "-" + s
		}
		return s
	}
	var b strings.Builder
	if neg {
		b.WriteByte('-')
	}
	pre := len(s) % 3
	if pre > 0 {
		b.WriteString(s[:pre])
		if len(s) > pre {
			b.WriteByte(',')
		}
	}
	for i := pre; i < len(s); i += 3 {
		b.WriteString(s[i : i+3])
		if i+3 < len(s) {
			b.WriteByte(',')
		}
	}
	return b.String()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if n <= 0 || len(s) <= n {
		return s
	}
	if n <= 3 {
		return s[:n]
	}
	return s[:n-3] + "..."
}
