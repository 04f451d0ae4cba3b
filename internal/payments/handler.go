package payments

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ompay/ompay/internal/ledger"
	"github.com/ompay/ompay/internal/money"
	"github.com/ompay/ompay/internal/party"
)

const idempotencyKeyHeader = "Idempotency-Key"

// Handler exposes payment endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a payment handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type singleRequest struct {
	Amount      money.Amount `json:"amount" validate:"gt=0"`
	Description string       `json:"description" validate:"max=255"`
}

type transferRequest struct {
	RecipientPhone string       `json:"recipient_phone" validate:"required,e164"`
	Amount         money.Amount `json:"amount" validate:"gt=0"`
	Description    string       `json:"description" validate:"max=255"`
}

type paymentRequest struct {
	MerchantCode string       `json:"merchant_code" validate:"required,len=9,alphanum"`
	Amount       money.Amount `json:"amount" validate:"gt=0"`
}

type historyQuery struct {
	Page    int    `query:"page" validate:"gte=0"`
	PerPage int    `query:"per_page" validate:"gte=0,lte=100"`
	Type    string `query:"type" validate:"omitempty,oneof=deposit withdrawal transfer"`
}

type entryResponse struct {
	ID            string       `json:"id"`
	AccountID     string       `json:"account_id"`
	Type          string       `json:"type"`
	Leg           string       `json:"leg"`
	Amount        money.Amount `json:"amount"`
	Currency      string       `json:"currency"`
	Status        string       `json:"status"`
	Reference     string       `json:"reference"`
	CounterpartID string       `json:"counterpart_id,omitempty"`
	Description   string       `json:"description,omitempty"`
	OperatedAt    time.Time    `json:"operated_at"`
}

func toEntry(e ledger.Entry) entryResponse {
	return entryResponse{
		ID:            e.ID,
		AccountID:     e.AccountID,
		Type:          string(e.Type),
		Leg:           string(e.Leg),
		Amount:        e.Amount,
		Currency:      money.Currency,
		Status:        string(e.Status),
		Reference:     e.Reference,
		CounterpartID: e.CounterpartID,
		Description:   e.Description,
		OperatedAt:    e.OperatedAt,
	}
}

func pairBody(res ledger.TransferResult) fiber.Map {
	return fiber.Map{
		"reference": res.Reference,
		"debit":     toEntry(res.Debit),
		"credit":    toEntry(res.Credit),
	}
}

func partyID(c *fiber.Ctx) (string, error) {
	id, _ := c.Locals("party_id").(string)
	if id == "" {
		return "", fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	return id, nil
}

func mapError(err error) error {
	switch {
	case errors.Is(err, ledger.ErrAccountNotFound):
		return fiber.NewError(http.StatusNotFound, "account not found")
	case errors.Is(err, ErrNotOwner):
		return fiber.NewError(http.StatusForbidden, ErrNotOwner.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, "insufficient funds")
	case errors.Is(err, ledger.ErrInactiveAccount):
		return fiber.NewError(http.StatusUnprocessableEntity, "account is not active")
	case errors.Is(err, ledger.ErrBalanceLimit):
		return fiber.NewError(http.StatusUnprocessableEntity, ledger.ErrBalanceLimit.Error())
	case errors.Is(err, ledger.ErrInvalidTarget), errors.Is(err, ledger.ErrConflictingAmount):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, party.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "recipient not found")
	default:
		return err
	}
}

func (h *Handler) parse(c *fiber.Ctx, out any) error {
	if err := c.BodyParser(out); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(out); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return nil
}

// duplicate answers a replayed posting with the entries it created the first time.
func duplicate(c *fiber.Ctx, body any) error {
	return c.Status(http.StatusConflict).JSON(fiber.Map{
		"error":    ledger.ErrDuplicatePosting.Error(),
		"original": body,
	})
}

func (h *Handler) single(c *fiber.Ctx, post func(SingleInput) (ledger.Entry, error)) error {
	caller, err := partyID(c)
	if err != nil {
		return err
	}
	var req singleRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	entry, err := post(SingleInput{
		PartyID:        caller,
		AccountID:      c.Params("accountId"),
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: c.Get(idempotencyKeyHeader),
	})
	if errors.Is(err, ledger.ErrDuplicatePosting) {
		return duplicate(c, toEntry(entry))
	}
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toEntry(entry))
}

// Deposit credits the account in the path.
func (h *Handler) Deposit(c *fiber.Ctx) error {
	return h.single(c, func(in SingleInput) (ledger.Entry, error) {
		return h.service.Deposit(c.UserContext(), in)
	})
}

// Withdraw debits the account in the path.
func (h *Handler) Withdraw(c *fiber.Ctx) error {
	return h.single(c, func(in SingleInput) (ledger.Entry, error) {
		return h.service.Withdraw(c.UserContext(), in)
	})
}

// Transfer sends funds to the owner of a phone number.
func (h *Handler) Transfer(c *fiber.Ctx) error {
	caller, err := partyID(c)
	if err != nil {
		return err
	}
	var req transferRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	req.RecipientPhone = party.NormalizePhone(req.RecipientPhone)
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	res, err := h.service.Transfer(c.UserContext(), TransferInput{
		PartyID:        caller,
		AccountID:      c.Params("accountId"),
		RecipientPhone: req.RecipientPhone,
		Amount:         req.Amount,
		Description:    req.Description,
		IdempotencyKey: c.Get(idempotencyKeyHeader),
	})
	if errors.Is(err, ledger.ErrDuplicatePosting) {
		return duplicate(c, pairBody(res))
	}
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(pairBody(res))
}

// PayMerchant pays the merchant identified by its code.
func (h *Handler) PayMerchant(c *fiber.Ctx) error {
	caller, err := partyID(c)
	if err != nil {
		return err
	}
	var req paymentRequest
	if err := h.parse(c, &req); err != nil {
		return err
	}
	res, err := h.service.PayMerchant(c.UserContext(), PaymentInput{
		PartyID:        caller,
		AccountID:      c.Params("accountId"),
		MerchantCode:   req.MerchantCode,
		Amount:         req.Amount,
		IdempotencyKey: c.Get(idempotencyKeyHeader),
	})
	if errors.Is(err, ledger.ErrDuplicatePosting) {
		return duplicate(c, pairBody(res))
	}
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(pairBody(res))
}

// Balance returns the account balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	caller, err := partyID(c)
	if err != nil {
		return err
	}
	accountID := c.Params("accountId")
	balance, err := h.service.Balance(c.UserContext(), caller, accountID)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{"account_id": accountID, "balance": balance, "currency": money.Currency})
}

// Entries returns one page of the account history, newest first.
func (h *Handler) Entries(c *fiber.Ctx) error {
	caller, err := partyID(c)
	if err != nil {
		return err
	}
	var q historyQuery
	if err := c.QueryParser(&q); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(q); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	page, err := h.service.History(c.UserContext(), caller, c.Params("accountId"), ledger.HistoryQuery{
		Page:    q.Page,
		PerPage: q.PerPage,
		Type:    ledger.EntryType(q.Type),
	})
	if err != nil {
		return mapError(err)
	}
	entries := make([]entryResponse, 0, len(page.Entries))
	for _, e := range page.Entries {
		entries = append(entries, toEntry(e))
	}
	return c.JSON(fiber.Map{
		"entries":   entries,
		"page":      page.Page,
		"per_page":  page.PerPage,
		"total":     page.Total,
		"last_page": page.LastPage(),
	})
}

// Stats returns per-category totals for the account.
func (h *Handler) Stats(c *fiber.Ctx) error {
	caller, err := partyID(c)
	if err != nil {
		return err
	}
	stats, err := h.service.Stats(c.UserContext(), caller, c.Params("accountId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(fiber.Map{
		"total_deposits":           stats.TotalDeposits,
		"total_withdrawals":        stats.TotalWithdrawals,
		"total_transfers_sent":     stats.TotalTransfersSent,
		"total_transfers_received": stats.TotalTransfersReceived,
		"entry_count":              stats.EntryCount,
		"balance":                  stats.Balance,
		"currency":                 money.Currency,
	})
}
