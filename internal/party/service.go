package party

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Service manages the owner directory.
type Service struct {
	repo Repository
}

// NewService creates a new party service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo}
}

// NormalizePhone strips separators so lookups match regardless of formatting.
func NormalizePhone(phone string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(phone))
}

// Register records a new party.
func (s *Service) Register(ctx context.Context, phone, fullName string) (Party, error) {
	phone = NormalizePhone(phone)
	if phone == "" {
		return Party{}, errors.New("phone is required")
	}
	p := Party{
		ID:        uuid.New().String(),
		Phone:     phone,
		FullName:  strings.TrimSpace(fullName),
		CreatedAt: time.Now().UTC(),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return Party{}, err
	}
	return p, nil
}

// FindByID returns the party with the given id.
func (s *Service) FindByID(ctx context.Context, id string) (Party, error) {
	return s.repo.FindByID(ctx, id)
}

// FindByPhone returns the party registered under phone.
func (s *Service) FindByPhone(ctx context.Context, phone string) (Party, error) {
	return s.repo.FindByPhone(ctx, NormalizePhone(phone))
}
