package draft

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/safemind/internal/conversation"
)

func TestValidateDescriptionBoundary(t *testing.T) {
	d := Draft{Category: CategoryHarassment, Description: strings.Repeat("a", MinDescriptionLength)}
	require.NoError(t, Validate(d))

	d.Description = strings.Repeat("a", MinDescriptionLength-1)
	err := Validate(d)
	assert.ErrorIs(t, err, ErrDescriptionTooShort)
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestValidateTrimsBeforeCounting(t *testing.T) {
	d := Draft{
		Category:    CategoryOther,
		Description: "   " + strings.Repeat("b", MinDescriptionLength-1) + "\n\t ",
	}
	assert.ErrorIs(t, Validate(d), ErrDescriptionTooShort)
}

func TestValidateCountsRunesNotBytes(t *testing.T) {
	d := Draft{Category: CategoryViolence, Description: strings.Repeat("é", MinDescriptionLength)}
	assert.NoError(t, Validate(d))
}

func TestValidateRequiresCategory(t *testing.T) {
	d := Draft{Description: strings.Repeat("x", 80)}
	assert.ErrorIs(t, Validate(d), ErrCategoryRequired)

	d.Category = Category("Gossip")
	err := Validate(d)
	assert.ErrorIs(t, err, ErrInvalid)
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestFromTriageAction(t *testing.T) {
	d, err := FromTriageAction(conversation.ActionSuggestReport, "my boss touched me at work")
	require.NoError(t, err)
	assert.Equal(t, "my boss touched me at work", d.Description)
	assert.Empty(t, d.Category)
	assert.Empty(t, d.Location)
	assert.Nil(t, d.Evidence)

	for _, action := range []conversation.Action{conversation.ActionNone, conversation.ActionEmergency} {
		_, err := FromTriageAction(action, "anything")
		assert.True(t, errors.Is(err, ErrNotReportable), "FromTriageAction(%s) error = %v", action, err)
	}
}

func TestParseCategory(t *testing.T) {
	cases := map[string]Category{
		"Harassment":        CategoryHarassment,
		"physical violence": CategoryViolence,
		"MentalHealth":      CategoryMentalDistress,
		"Mental Distress":   CategoryMentalDistress,
		"unsafe_area":       CategoryInfrastructure,
		"OTHER":             CategoryOther,
	}
	for in, want := range cases {
		got, err := ParseCategory(in)
		require.NoError(t, err, "ParseCategory(%q)", in)
		assert.Equal(t, want, got, "ParseCategory(%q)", in)
	}

	_, err := ParseCategory("weather")
	assert.ErrorIs(t, err, ErrUnknownCategory)
}

func TestPatchApply(t *testing.T) {
	d := Draft{Description: "seed"}
	cat := "corruption"
	loc := "  Ikeja, Lagos "
	require.NoError(t, Patch{
		Category: &cat,
		Location: &loc,
		Evidence: &EvidenceRef{Name: " receipt.jpg "},
	}.Apply(&d))

	assert.Equal(t, CategoryCorruption, d.Category)
	assert.Equal(t, "Ikeja, Lagos", d.Location)
	require.NotNil(t, d.Evidence)
	assert.Equal(t, "receipt.jpg", d.Evidence.Name)
	assert.Equal(t, "seed", d.Description)

	require.NoError(t, Patch{ClearEvidence: true}.Apply(&d))
	assert.Nil(t, d.Evidence)

	bad := "nonsense"
	assert.Error(t, Patch{Category: &bad}.Apply(&d))
}

func TestCloneCopiesEvidence(t *testing.T) {
	d := Draft{Evidence: &EvidenceRef{Name: "a.png"}}
	c := d.Clone()
	c.Evidence.Name = "b.png"
	assert.Equal(t, "a.png", d.Evidence.Name)
}
