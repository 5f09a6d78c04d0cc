package draft

import (
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/ent0n29/safemind/internal/conversation"
)

// MinDescriptionLength is measured in runes after trimming whitespace.
const MinDescriptionLength = 50

var (
	ErrInvalid             = errors.New("draft is not submittable")
	ErrCategoryRequired    = fmt.Errorf("%w: category is required", ErrInvalid)
	ErrDescriptionTooShort = fmt.Errorf("%w: description must be at least %d characters", ErrInvalid, MinDescriptionLength)
	ErrNotReportable       = errors.New("triage action does not suggest a report")
	ErrUnknownCategory     = errors.New("unknown category")
)

// EvidenceRef points at an attachment the reporter chose. Only the reference
// is signed; file contents never pass through the service.
type EvidenceRef struct {
	Name      string `json:"name"`
	SHA256    string `json:"sha256,omitempty"`
	SizeBytes int64  `json:"size_bytes,omitempty"`
}

// Draft is the editable, not yet submitted form of a report.
type Draft struct {
	Category    Category     `json:"category,omitempty"`
	Description string       `json:"description"`
	Location    string       `json:"location,omitempty"`
	Evidence    *EvidenceRef `json:"evidence,omitempty"`
}

// FromTriageAction seeds a draft from the user text that triggered a report
// suggestion. Category and location are left for the user.
func FromTriageAction(action conversation.Action, relatedContext string) (Draft, error) {
	if action != conversation.ActionSuggestReport {
		return Draft{}, fmt.Errorf("%w: %s", ErrNotReportable, action)
	}
	return Draft{Description: relatedContext}, nil
}

// FromManualEntry builds a draft typed in directly, without a conversation.
func FromManualEntry(category, description, location string) (Draft, error) {
	d := Draft{
		Description: description,
		Location:    strings.TrimSpace(location),
	}
	if strings.TrimSpace(category) != "" {
		c, err := ParseCategory(category)
		if err != nil {
			return Draft{}, err
		}
		d.Category = c
	}
	return d, nil
}

// Validate reports whether the draft may enter confirmation.
func Validate(d Draft) error {
	if d.Category == "" {
		return ErrCategoryRequired
	}
	if !d.Category.Valid() {
		return fmt.Errorf("%w: %w %q", ErrInvalid, ErrUnknownCategory, d.Category)
	}
	if utf8.RuneCountInString(strings.TrimSpace(d.Description)) < MinDescriptionLength {
		return ErrDescriptionTooShort
	}
	return nil
}

func (d Draft) Clone() Draft {
	out := d
	if d.Evidence != nil {
		ev := *d.Evidence
		out.Evidence = &ev
	}
	return out
}

// Patch is a partial update; nil fields are left unchanged.
type Patch struct {
	Category      *string      `json:"category,omitempty"`
	Description   *string      `json:"description,omitempty"`
	Location      *string      `json:"location,omitempty"`
	Evidence      *EvidenceRef `json:"evidence,omitempty"`
	ClearEvidence bool         `json:"clear_evidence,omitempty"`
}

func (p Patch) Apply(d *Draft) error {
	if p.Category != nil {
		if strings.TrimSpace(*p.Category) == "" {
			d.Category = ""
		} else {
			c, err := ParseCategory(*p.Category)
			if err != nil {
				return err
			}
			d.Category = c
		}
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.Location != nil {
		d.Location = strings.TrimSpace(*p.Location)
	}
	if p.ClearEvidence {
		d.Evidence = nil
	}
	if p.Evidence != nil {
		if strings.TrimSpace(p.Evidence.Name) == "" {
			return errors.New("evidence name is required")
		}
		ev := *p.Evidence
		ev.Name = strings.TrimSpace(ev.Name)
		d.Evidence = &ev
	}
	return nil
}
