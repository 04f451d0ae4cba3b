package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/ompay/ompay/internal/account"
	"github.com/ompay/ompay/internal/payments"
)

// RegisterAccountRoutes wires the caller's account lifecycle and ledger endpoints.
func RegisterAccountRoutes(r fiber.Router, accounts *account.Handler, pay *payments.Handler) {
	r.Post("/accounts", accounts.Open)
	r.Get("/accounts", accounts.List)

	one := r.Group("/accounts/:accountId")
	one.Get("", accounts.Show)
	one.Delete("", accounts.Close)
	one.Post("/deposits", pay.Deposit)
	one.Post("/withdrawals", pay.Withdraw)
	one.Post("/transfers", pay.Transfer)
	one.Post("/merchant-payments", pay.PayMerchant)
	one.Get("/balance", pay.Balance)
	one.Get("/entries", pay.Entries)
	one.Get("/stats", pay.Stats)
}

// RegisterAdminRoutes wires back-office account status changes.
func RegisterAdminRoutes(r fiber.Router, accounts *account.Handler) {
	r.Post("/accounts/:accountId/activate", accounts.Activate)
	r.Post("/accounts/:accountId/block", accounts.Block)
	r.Post("/accounts/:accountId/unblock", accounts.Unblock)
}
