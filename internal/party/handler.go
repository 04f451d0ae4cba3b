package party

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

// Handler exposes the owner directory over HTTP.
type Handler struct {
	service  *Service
	validate *validator.Validate
}

// NewHandler constructs a party HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service, validate: validator.New()}
}

type registerRequest struct {
	Phone    string `json:"phone" validate:"required,e164"`
	FullName string `json:"full_name" validate:"required,min=2,max=120"`
}

type partyResponse struct {
	ID        string `json:"id"`
	Phone     string `json:"phone"`
	FullName  string `json:"full_name"`
	CreatedAt string `json:"created_at"`
}

func toResponse(p Party) partyResponse {
	return partyResponse{ID: p.ID, Phone: p.Phone, FullName: p.FullName, CreatedAt: p.CreatedAt.Format(time.RFC3339)}
}

// Register records a party whose identity was verified upstream.
func (h *Handler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	req.Phone = NormalizePhone(req.Phone)
	if err := h.validate.Struct(req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	p, err := h.service.Register(c.UserContext(), req.Phone, req.FullName)
	if err != nil {
		if errors.Is(err, ErrPhoneTaken) {
			return fiber.NewError(http.StatusConflict, err.Error())
		}
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	return c.Status(http.StatusCreated).JSON(toResponse(p))
}

// Me returns the authenticated party.
func (h *Handler) Me(c *fiber.Ctx) error {
	partyID, _ := c.Locals("party_id").(string)
	if partyID == "" {
		return fiber.NewError(http.StatusUnauthorized, "unauthorized")
	}
	p, err := h.service.FindByID(c.UserContext(), partyID)
	if err != nil {
		return fiber.NewError(http.StatusNotFound, err.Error())
	}
	return c.JSON(toResponse(p))
}
