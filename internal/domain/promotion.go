// Package domain holds the core entities and value objects of the Freyr
// promotion engine. Entities are created through validated factories so that
// structural invariants (country format, version numbering, tier uniqueness)
// hold before anything reaches the store.
package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrInvalidCountry is returned when a country code is not ISO 3166-1 alpha-2.
var ErrInvalidCountry = errors.New("country must be a two-letter ISO code")

// Promotion is a named, countried, versioned bundle of rules and rewards.
// The Promotion row carries slow-changing metadata; everything evaluable
// lives in its versions.
type Promotion struct {
	ID                 uuid.UUID
	Name               string
	Timezone           string
	GlobalCooldownDays int
	CreatedAt          time.Time
}

// NewPromotion validates and builds a Promotion.
func NewPromotion(name, timezone string, globalCooldownDays int, now time.Time) (*Promotion, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, errors.New("promotion name cannot be empty")
	}
	if globalCooldownDays < 0 {
		return nil, fmt.Errorf("global cooldown days cannot be negative, got %d", globalCooldownDays)
	}
	if timezone == "" {
		timezone = "UTC"
	}

	return &Promotion{
		ID:                 uuid.New(),
		Name:               name,
		Timezone:           timezone,
		GlobalCooldownDays: globalCooldownDays,
		CreatedAt:          now.UTC(),
	}, nil
}

// PromotionVersion is a snapshot of a promotion for one country. A version is
// born as a draft; publishing is one-way and a published version is immutable.
type PromotionVersion struct {
	ID                 uuid.UUID
	PromotionID        uuid.UUID
	Version            int
	CountryISO         string
	IsDraft            bool
	WorkflowPayload    []byte
	ManifestPayload    []byte
	Timezone           string
	GlobalCooldownDays int
	Window             ValidityWindow
	CreatedAt          time.Time
}

// NewPromotionVersion builds a draft version. The version number is assigned
// by the store (MAX(version)+1 over (promotion, country)); callers pass the
// allocated number.
func NewPromotionVersion(promotionID uuid.UUID, version int, countryISO string, workflow, manifest []byte, timezone string, globalCooldownDays int, window ValidityWindow, now time.Time) (*PromotionVersion, error) {
	country, err := NormalizeCountry(countryISO)
	if err != nil {
		return nil, err
	}
	if version < 1 {
		return nil, fmt.Errorf("version must be >= 1, got %d", version)
	}
	if globalCooldownDays < 0 {
		return nil, fmt.Errorf("global cooldown days cannot be negative, got %d", globalCooldownDays)
	}
	if timezone == "" {
		timezone = "UTC"
	}

	return &PromotionVersion{
		ID:                 uuid.New(),
		PromotionID:        promotionID,
		Version:            version,
		CountryISO:         country,
		IsDraft:            true,
		WorkflowPayload:    workflow,
		ManifestPayload:    manifest,
		Timezone:           timezone,
		GlobalCooldownDays: globalCooldownDays,
		Window:             window,
		CreatedAt:          now.UTC(),
	}, nil
}

// Publish flips the draft flag. Publishing a published version is a no-op.
func (v *PromotionVersion) Publish() {
	v.IsDraft = false
}

// NormalizeCountry uppercases and validates an ISO 3166-1 alpha-2 code.
func NormalizeCountry(iso string) (string, error) {
	iso = strings.ToUpper(strings.TrimSpace(iso))
	if len(iso) != 2 {
		return "", ErrInvalidCountry
	}
	for _, r := range iso {
		if r < 'A' || r > 'Z' {
			return "", ErrInvalidCountry
		}
	}
	return iso, nil
}

// ValidityWindow bounds when a version is evaluable. Either side may be open.
type ValidityWindow struct {
	From *time.Time
	To   *time.Time
}

// NewValidityWindow validates that from <= to when both bounds are set.
func NewValidityWindow(from, to *time.Time) (ValidityWindow, error) {
	if from != nil && to != nil && from.After(*to) {
		return ValidityWindow{}, fmt.Errorf("validity window from %s is after to %s", from, to)
	}
	return ValidityWindow{From: from, To: to}, nil
}

// ActiveAt reports whether t falls inside the window. A missing bound is open.
func (w ValidityWindow) ActiveAt(t time.Time) bool {
	if w.From != nil && t.Before(*w.From) {
		return false
	}
	if w.To != nil && t.After(*w.To) {
		return false
	}
	return true
}
