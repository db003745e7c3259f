package game

import (
	"time"

	"github.com/shopspring/decimal"
)

const nanosExp = -9

// Ledger holds the coin balance. Every balance change goes through it.
type Ledger struct {
	Balance decimal.Decimal `json:"balance"`
}

func (l *Ledger) Credit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	l.Balance = l.Balance.Add(amount)
	return nil
}

// Debit subtracts amount or fails with ErrInsufficientFunds, leaving the balance untouched.
func (l *Ledger) Debit(amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrNegativeAmount
	}
	if l.Balance.LessThan(amount) {
		return ErrInsufficientFunds
	}
	l.Balance = l.Balance.Sub(amount)
	return nil
}

// Accrue credits elapsed*rate and returns the credited amount. Negative elapsed or rate credit nothing.
func (l *Ledger) Accrue(elapsed time.Duration, rate decimal.Decimal) decimal.Decimal {
	if elapsed <= 0 || !rate.IsPositive() {
		return decimal.Zero
	}
	earned := rate.Mul(decimal.New(int64(elapsed), nanosExp))
	l.Balance = l.Balance.Add(earned)
	return earned
}
