package contacts

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"saferoute/internal/database"
	"saferoute/internal/models"
)

// ErrInvalidContact is returned when a contact is missing required fields
var ErrInvalidContact = errors.New("name and phone number are required")

// Links holds the one-tap actions rendered next to a contact
type Links struct {
	Call  string `json:"call"`
	SMS   string `json:"sms"`
	Email string `json:"email,omitempty"`
}

// Entry is a contact together with its action links
type Entry struct {
	models.EmergencyContact
	Links Links `json:"links"`
}

// Service manages a user's emergency contacts
type Service struct {
	repo database.ContactRepository
}

func NewService(repo database.ContactRepository) *Service {
	return &Service{repo: repo}
}

// List returns the user's contacts with their action links
func (s *Service) List(ctx context.Context, userID string) ([]Entry, error) {
	list, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list contacts: %w", err)
	}
	entries := make([]Entry, 0, len(list))
	for _, c := range list {
		entries = append(entries, Entry{EmergencyContact: c, Links: LinksFor(c)})
	}
	return entries, nil
}

// Contacts returns the raw stored contacts
func (s *Service) Contacts(ctx context.Context, userID string) ([]models.EmergencyContact, error) {
	return s.repo.ListByUser(ctx, userID)
}

// HasAny reports whether the user has at least one contact
func (s *Service) HasAny(ctx context.Context, userID string) (bool, error) {
	n, err := s.repo.CountByUser(ctx, userID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Add validates and stores a contact for userID. Blank name or phone is
// rejected before the store is touched.
func (s *Service) Add(ctx context.Context, userID string, c models.EmergencyContact) (*Entry, error) {
	c.Name = strings.TrimSpace(c.Name)
	c.Phone = strings.TrimSpace(c.Phone)
	c.Email = strings.TrimSpace(c.Email)
	c.Relation = strings.TrimSpace(c.Relation)
	if c.Name == "" || c.Phone == "" {
		return nil, ErrInvalidContact
	}
	if c.Email != "" && !strings.Contains(c.Email, "@") {
		return nil, fmt.Errorf("%w: invalid email address", ErrInvalidContact)
	}
	c.UserID = userID

	created, err := s.repo.Create(ctx, &c)
	if err != nil {
		return nil, fmt.Errorf("failed to add contact: %w", err)
	}
	zap.S().Infof("[CONTACTS] Added emergency contact: user=%s contact=%s", userID, created.ID)
	return &Entry{EmergencyContact: *created, Links: LinksFor(*created)}, nil
}

// Remove deletes one of the user's contacts
func (s *Service) Remove(ctx context.Context, userID, id string) error {
	return s.repo.Delete(ctx, userID, id)
}

// LinksFor builds tel:, sms: and mailto: links for c
func LinksFor(c models.EmergencyContact) Links {
	phone := dialable(c.Phone)
	l := Links{
		Call: "tel:" + phone,
		SMS:  "sms:" + phone,
	}
	if c.Email != "" {
		l.Email = "mailto:" + url.PathEscape(c.Email)
	}
	return l
}

// dialable strips formatting characters, keeping a leading +
func dialable(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	return b.String()
}
