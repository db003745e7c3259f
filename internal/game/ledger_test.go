package game

import (
	"errors"
	"testing"
	"time"
)

func TestLedgerDebitAtomic(t *testing.T) {
	tests := []struct {
		balance string
		amount  string
		wantErr error
		want    string
	}{
		{balance: "100", amount: "100", want: "0"},
		{balance: "100", amount: "40.5", want: "59.5"},
		{balance: "99.99", amount: "100", wantErr: ErrInsufficientFunds, want: "99.99"},
		{balance: "0", amount: "1", wantErr: ErrInsufficientFunds, want: "0"},
		{balance: "10", amount: "-1", wantErr: ErrNegativeAmount, want: "10"},
	}
	for _, tc := range tests {
		l := Ledger{Balance: dec(tc.balance)}
		err := l.Debit(dec(tc.amount))
		if !errors.Is(err, tc.wantErr) {
			t.Fatalf("debit %s from %s: got err=%v want %v", tc.amount, tc.balance, err, tc.wantErr)
		}
		if !l.Balance.Equal(dec(tc.want)) {
			t.Fatalf("debit %s from %s: balance=%s want %s", tc.amount, tc.balance, l.Balance, tc.want)
		}
	}
}

func TestLedgerCredit(t *testing.T) {
	l := Ledger{Balance: dec("1")}
	if err := l.Credit(dec("2.5")); err != nil {
		t.Fatalf("credit failed: %v", err)
	}
	if err := l.Credit(dec("-1")); !errors.Is(err, ErrNegativeAmount) {
		t.Fatalf("expected negative credit to fail, got %v", err)
	}
	if !l.Balance.Equal(dec("3.5")) {
		t.Fatalf("balance=%s want 3.5", l.Balance)
	}
}

func TestLedgerAccrueLinear(t *testing.T) {
	rates := []string{"0.1", "15", "3.333", "1234.5678"}
	splits := [][2]time.Duration{
		{time.Second, 2 * time.Second},
		{137 * time.Millisecond, 863 * time.Millisecond},
		{1, time.Hour},
		{90 * time.Minute, 17 * time.Nanosecond},
	}
	for _, r := range rates {
		for _, sp := range splits {
			split := Ledger{}
			split.Accrue(sp[0], dec(r))
			split.Accrue(sp[1], dec(r))

			whole := Ledger{}
			whole.Accrue(sp[0]+sp[1], dec(r))

			if !split.Balance.Equal(whole.Balance) {
				t.Fatalf("rate=%s split=%v: %s != %s", r, sp, split.Balance, whole.Balance)
			}
		}
	}
}

func TestLedgerAccrueNoOps(t *testing.T) {
	l := Ledger{Balance: dec("5")}
	if got := l.Accrue(0, dec("10")); !got.IsZero() {
		t.Fatalf("zero elapsed credited %s", got)
	}
	if got := l.Accrue(-time.Minute, dec("10")); !got.IsZero() {
		t.Fatalf("negative elapsed credited %s", got)
	}
	if got := l.Accrue(time.Minute, dec("0")); !got.IsZero() {
		t.Fatalf("zero rate credited %s", got)
	}
	if !l.Balance.Equal(dec("5")) {
		t.Fatalf("balance changed to %s", l.Balance)
	}
}
