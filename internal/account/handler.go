package account

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"github.com/ompay/ompay/internal/ledger"
	"github.com/ompay/ompay/internal/party"
)

// Handler exposes account HTTP endpoints.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler builds an account HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type openRequest struct {
	Kind string `json:"kind" validate:"omitempty,oneof=simple merchant"`
}

type blockRequest struct {
	Reason string `json:"reason" validate:"required,max=255"`
}

type accountResponse struct {
	ID           string     `json:"id"`
	OwnerID      string     `json:"owner_id"`
	Number       string     `json:"number"`
	Kind         string     `json:"kind"`
	Status       string     `json:"status"`
	MerchantCode string     `json:"merchant_code,omitempty"`
	BlockReason  string     `json:"block_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
}

func toResponse(a ledger.Account) accountResponse {
	return accountResponse{
		ID:           a.ID,
		OwnerID:      a.OwnerID,
		Number:       a.Number,
		Kind:         string(a.Kind),
		Status:       string(a.Status),
		MerchantCode: a.MerchantCode,
		BlockReason:  a.BlockReason,
		CreatedAt:    a.CreatedAt,
		ClosedAt:     a.ClosedAt,
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
	case errors.Is(err, ledger.ErrAccountNotFound), errors.Is(err, party.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, err.Error())
	case errors.Is(err, ErrInvalidTransition):
		return fiber.NewError(http.StatusConflict, err.Error())
	default:
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
}

// ownedAccount loads the account in the path and checks the caller owns it.
func (h *Handler) ownedAccount(c *fiber.Ctx) (ledger.Account, error) {
	owner, err := partyID(c)
	if err != nil {
		return ledger.Account{}, err
	}
	acct, err := h.service.Get(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return ledger.Account{}, mapError(err)
	}
	if acct.OwnerID != owner {
		return ledger.Account{}, fiber.NewError(http.StatusNotFound, ledger.ErrAccountNotFound.Error())
	}
	return acct, nil
}

// Open provisions an inactive account for the authenticated party.
func (h *Handler) Open(c *fiber.Ctx) error {
	owner, err := partyID(c)
	if err != nil {
		return err
	}
	var req openRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	acct, err := h.service.Open(c.UserContext(), OpenInput{OwnerID: owner, Kind: ledger.AccountKind(req.Kind)})
	if err != nil {
		return mapError(err)
	}
	return c.Status(http.StatusCreated).JSON(toResponse(acct))
}

// List returns the caller's accounts.
func (h *Handler) List(c *fiber.Ctx) error {
	owner, err := partyID(c)
	if err != nil {
		return err
	}
	accounts, err := h.service.ListByOwner(c.UserContext(), owner)
	if err != nil {
		return mapError(err)
	}
	out := make([]accountResponse, 0, len(accounts))
	for _, a := range accounts {
		out = append(out, toResponse(a))
	}
	return c.JSON(fiber.Map{"accounts": out})
}

// Show returns one of the caller's accounts.
func (h *Handler) Show(c *fiber.Ctx) error {
	acct, err := h.ownedAccount(c)
	if err != nil {
		return err
	}
	return c.JSON(toResponse(acct))
}

// Close soft-deletes one of the caller's accounts.
func (h *Handler) Close(c *fiber.Ctx) error {
	acct, err := h.ownedAccount(c)
	if err != nil {
		return err
	}
	if err := h.service.Close(c.UserContext(), acct.ID); err != nil {
		return mapError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Activate is called by the identity-verification back office.
func (h *Handler) Activate(c *fiber.Ctx) error {
	if err := h.service.Activate(c.UserContext(), c.Params("accountId")); err != nil {
		return mapError(err)
	}
	return h.respondCurrent(c)
}

// Block freezes an account with a reason.
func (h *Handler) Block(c *fiber.Ctx) error {
	var req blockRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if err := h.service.Block(c.UserContext(), c.Params("accountId"), req.Reason); err != nil {
		return mapError(err)
	}
	return h.respondCurrent(c)
}

// Unblock reactivates a blocked account.
func (h *Handler) Unblock(c *fiber.Ctx) error {
	if err := h.service.Unblock(c.UserContext(), c.Params("accountId")); err != nil {
		return mapError(err)
	}
	return h.respondCurrent(c)
}

func (h *Handler) respondCurrent(c *fiber.Ctx) error {
	acct, err := h.service.Get(c.UserContext(), c.Params("accountId"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(toResponse(acct))
}
