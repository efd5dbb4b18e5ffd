package authoringapi

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rafaeljc/freyr/internal/compiler"
	"github.com/rafaeljc/freyr/internal/domain"
)

// DraftUpsertRequest is the payload for POST /api/authoring/promotions/draft.
type DraftUpsertRequest struct {
	// PromotionID is empty when creating a new promotion.
	PromotionID string `json:"promotionId,omitempty"`

	// Name is required.
	Name string `json:"name"`

	// Timezone defaults to UTC.
	Timezone string `json:"timezone,omitempty"`

	// CountryISO is the two-letter target country.
	CountryISO string `json:"countryIso"`

	Policies        DraftPolicies `json:"policies"`
	Window          DraftWindow   `json:"window"`
	Segments        []string      `json:"segments,omitempty"`
	GlobalRewardIDs []string      `json:"globalRewardIds,omitempty"`
	Tiers           []DraftTier   `json:"tiers"`
}

// DraftPolicies carries the evaluation policies of the draft.
type DraftPolicies struct {
	GlobalCooldownDays int  `json:"globalCooldownDays"`
	ExclusivePerEvent  bool `json:"exclusivePerEvent"`
}

// DraftWindow bounds the version's validity. Missing bounds are open.
type DraftWindow struct {
	ValidFromUTC *time.Time `json:"validFromUtc,omitempty"`
	ValidToUTC   *time.Time `json:"validToUtc,omitempty"`
}

// DraftTier is one tier of the draft.
type DraftTier struct {
	TierLevel    int          `json:"tierLevel"`
	Order        int          `json:"order"`
	CooldownDays *int         `json:"cooldownDays,omitempty"`
	Groups       []DraftGroup `json:"groups"`
}

// DraftGroup is one expression group of a tier. Expression is the recursive
// clause/group tree lowered by the compiler.
type DraftGroup struct {
	Order      int            `json:"order"`
	RewardIDs  []string       `json:"rewardIds,omitempty"`
	Expression *compiler.Node `json:"expression"`
}

// Sanitize normalizes string fields in place.
func (r *DraftUpsertRequest) Sanitize() {
	r.PromotionID = strings.TrimSpace(r.PromotionID)
	r.Name = strings.TrimSpace(r.Name)
	r.Timezone = strings.TrimSpace(r.Timezone)
	r.CountryISO = strings.ToUpper(strings.TrimSpace(r.CountryISO))

	for i, s := range r.Segments {
		r.Segments[i] = strings.TrimSpace(s)
	}
}

// Validate checks the request against business rules. Returns a structured
// error response, or nil when valid.
func (r *DraftUpsertRequest) Validate() *ErrorResponse {
	if r.Name == "" {
		return invalidInput("name", "name is required")
	}
	if _, err := domain.NormalizeCountry(r.CountryISO); err != nil {
		return invalidInput("countryIso", "countryIso must be a two-letter ISO code")
	}
	if r.PromotionID != "" {
		if _, err := uuid.Parse(r.PromotionID); err != nil {
			return invalidInput("promotionId", "promotionId must be a UUID")
		}
	}
	if r.Policies.GlobalCooldownDays < 0 {
		return invalidInput("policies.globalCooldownDays", "globalCooldownDays cannot be negative")
	}
	if r.Window.ValidFromUTC != nil && r.Window.ValidToUTC != nil && r.Window.ValidFromUTC.After(*r.Window.ValidToUTC) {
		return invalidInput("window", "validFromUtc cannot be after validToUtc")
	}
	if len(r.Tiers) == 0 {
		return invalidInput("tiers", "at least one tier is required")
	}

	seenLevels := make(map[int]struct{}, len(r.Tiers))
	for _, tier := range r.Tiers {
		if tier.TierLevel < 1 {
			return invalidInput("tiers.tierLevel", "tierLevel must be >= 1")
		}
		if tier.Order < 0 {
			return invalidInput("tiers.order", "tier order cannot be negative")
		}
		if _, dup := seenLevels[tier.TierLevel]; dup {
			return invalidInput("tiers.tierLevel", "tier levels must be unique")
		}
		seenLevels[tier.TierLevel] = struct{}{}

		if tier.CooldownDays != nil && *tier.CooldownDays < 0 {
			return invalidInput("tiers.cooldownDays", "cooldownDays cannot be negative")
		}

		seenOrders := make(map[int]struct{}, len(tier.Groups))
		for _, group := range tier.Groups {
			if group.Order < 0 {
				return invalidInput("tiers.groups.order", "group order cannot be negative")
			}
			if _, dup := seenOrders[group.Order]; dup {
				return invalidInput("tiers.groups.order", "group orders must be unique within a tier")
			}
			seenOrders[group.Order] = struct{}{}

			for _, id := range group.RewardIDs {
				if _, err := uuid.Parse(id); err != nil {
					return invalidInput("tiers.groups.rewardIds", "reward ids must be UUIDs")
				}
			}
		}
	}

	for _, id := range r.GlobalRewardIDs {
		if _, err := uuid.Parse(id); err != nil {
			return invalidInput("globalRewardIds", "reward ids must be UUIDs")
		}
	}

	return nil
}

// DraftUpsertResponse is the success payload of a draft upsert.
type DraftUpsertResponse struct {
	PromotionID  string   `json:"promotionId"`
	Version      int      `json:"version"`
	CountryISO   string   `json:"countryIso"`
	WorkflowName string   `json:"workflowName"`
	Warnings     []string `json:"warnings"`
}

// PublishResponse is the success payload of a publish.
type PublishResponse struct {
	PromotionID string `json:"promotionId"`
	CountryISO  string `json:"countryIso"`
	Version     int    `json:"version"`
}

// VersionResponse is the payload of the latest-version read.
type VersionResponse struct {
	PromotionID string          `json:"promotionId"`
	CountryISO  string          `json:"countryIso"`
	Version     int             `json:"version"`
	IsDraft     bool            `json:"isDraft"`
	Workflow    json.RawMessage `json:"workflow"`
	Manifest    json.RawMessage `json:"manifest"`
	CreatedAt   time.Time       `json:"createdAt"`
}

// ErrorResponse represents a standard structured API error.
type ErrorResponse struct {
	// Code is a machine-readable error code (e.g., "ERR_INVALID_INPUT").
	Code string `json:"code"`

	// Message is a human-readable description of the error.
	Message string `json:"message"`

	// Details provides optional granular validation errors.
	Details []ErrorDetail `json:"details,omitempty"`
}

// ErrorDetail provides context about specific field validation failures.
type ErrorDetail struct {
	Field string `json:"field"`
	Issue string `json:"issue"`
}

func invalidInput(field, issue string) *ErrorResponse {
	return &ErrorResponse{
		Code:    "ERR_INVALID_INPUT",
		Message: "Request validation failed",
		Details: []ErrorDetail{{Field: field, Issue: issue}},
	}
}
