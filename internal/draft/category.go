package draft

import (
	"fmt"
	"strings"
)

type Category string

const (
	CategoryHarassment     Category = "Harassment"
	CategoryCorruption     Category = "Corruption"
	CategoryViolence       Category = "Violence"
	CategoryMentalDistress Category = "MentalDistress"
	CategoryInfrastructure Category = "Infrastructure"
	CategoryOther          Category = "Other"
)

// CategoryInfo describes a category for pickers.
type CategoryInfo struct {
	ID    Category `json:"id"`
	Label string   `json:"label"`
}

var categories = []CategoryInfo{
	{ID: CategoryHarassment, Label: "Harassment"},
	{ID: CategoryCorruption, Label: "Corruption"},
	{ID: CategoryViolence, Label: "Physical Violence"},
	{ID: CategoryMentalDistress, Label: "Mental Distress"},
	{ID: CategoryInfrastructure, Label: "Unsafe Area"},
	{ID: CategoryOther, Label: "Other"},
}

// Categories lists every category in display order.
func Categories() []CategoryInfo {
	out := make([]CategoryInfo, len(categories))
	copy(out, categories)
	return out
}

func (c Category) Valid() bool {
	for _, info := range categories {
		if info.ID == c {
			return true
		}
	}
	return false
}

func (c Category) Label() string {
	for _, info := range categories {
		if info.ID == c {
			return info.Label
		}
	}
	return string(c)
}

// ParseCategory accepts ids and display labels in any case. "MentalHealth" is
// kept as an alias of MentalDistress for older clients.
func ParseCategory(s string) (Category, error) {
	norm := normalize(s)
	if norm == "mentalhealth" {
		return CategoryMentalDistress, nil
	}
	for _, info := range categories {
		if norm == normalize(string(info.ID)) || norm == normalize(info.Label) {
			return info.ID, nil
		}
	}
	return "", fmt.Errorf("%w %q", ErrUnknownCategory, s)
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.NewReplacer(" ", "", "_", "", "-", "").Replace(s)
}
