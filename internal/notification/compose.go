package notification

import (
	"fmt"

	"github.com/ompay/ompay/internal/ledger"
	"github.com/ompay/ompay/internal/money"
)

func amount(a money.Amount) string {
	return a.String() + " " + money.Currency
}

// Compose builds the confirmation text for one side of a posting.
// counterpartName may be empty for single-leg postings.
func Compose(evt ledger.EntryPosted, counterpartName string) string {
	ref := evt.BaseReference
	if ref == "" {
		ref = evt.Reference
	}
	debit := evt.Leg == ledger.LegDebit

	switch evt.Kind {
	case ledger.PostingDeposit:
		return fmt.Sprintf("Deposit of %s credited to your account. Reference: %s. New balance: %s.",
			amount(evt.Amount), ref, amount(evt.BalanceAfter))
	case ledger.PostingWithdrawal:
		return fmt.Sprintf("Withdrawal of %s from your account. Reference: %s. Remaining balance: %s.",
			amount(evt.Amount), ref, amount(evt.BalanceAfter))
	case ledger.PostingMerchantPayment:
		if debit {
			return fmt.Sprintf("Payment of %s sent to %s (%s). Reference: %s. Remaining balance: %s.",
				amount(evt.Amount), counterpartName, evt.MerchantCode, ref, amount(evt.BalanceAfter))
		}
		return fmt.Sprintf("Payment of %s received from %s. Reference: %s. New balance: %s.",
			amount(evt.Amount), counterpartName, ref, amount(evt.BalanceAfter))
	default:
		if debit {
			return fmt.Sprintf("Transfer of %s sent to %s. Reference: %s. Remaining balance: %s.",
				amount(evt.Amount), counterpartName, ref, amount(evt.BalanceAfter))
		}
		return fmt.Sprintf("Transfer of %s received from %s. Reference: %s. New balance: %s.",
			amount(evt.Amount), counterpartName, ref, amount(evt.BalanceAfter))
	}
}
