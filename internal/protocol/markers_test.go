package protocol

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/safemind/internal/conversation"
)

func TestDecodeReplyWithoutMarkersIsIdentity(t *testing.T) {
	raw := "  That sounds really hard.\nI'm here with you.  "
	got := DecodeReply(raw)
	assert.Equal(t, raw, got.Text)
	assert.Equal(t, conversation.ActionNone, got.Action)
	assert.Empty(t, got.Violations)
}

func TestDecodeReplySingleMarker(t *testing.T) {
	cases := []struct {
		raw    string
		text   string
		action conversation.Action
	}{
		{
			raw:    "I'm sorry that happened. You can document this. ||SUGGEST_REPORT||",
			text:   "I'm sorry that happened. You can document this.",
			action: conversation.ActionSuggestReport,
		},
		{
			raw:    "Please call 112 right now. ||EMERGENCY||",
			text:   "Please call 112 right now.",
			action: conversation.ActionEmergency,
		},
		{
			raw:    "||EMERGENCY||\nYou are not alone.",
			text:   "You are not alone.",
			action: conversation.ActionEmergency,
		},
	}
	for _, tc := range cases {
		got := DecodeReply(tc.raw)
		assert.Equal(t, tc.text, got.Text, "DecodeReply(%q).Text", tc.raw)
		assert.Equal(t, tc.action, got.Action, "DecodeReply(%q).Action", tc.raw)
		assert.Empty(t, got.Violations)
		assert.NotContains(t, got.Text, "||")
	}
}

func TestDecodeReplyBothMarkersPrefersEmergency(t *testing.T) {
	got := DecodeReply("Get somewhere safe. ||SUGGEST_REPORT|| ||EMERGENCY||")
	assert.Equal(t, conversation.ActionEmergency, got.Action)
	assert.Equal(t, "Get somewhere safe.", got.Text)
	require.Len(t, got.Violations, 1)
	assert.Equal(t, ViolationBothMarkers, got.Violations[0].Kind)
}

func TestDecodeReplyDuplicateMarkerKeepsAction(t *testing.T) {
	got := DecodeReply("||EMERGENCY|| Call now. ||EMERGENCY||")
	assert.Equal(t, conversation.ActionEmergency, got.Action)
	assert.Equal(t, "Call now.", got.Text)
	require.Len(t, got.Violations, 1)
	assert.Equal(t, ViolationDuplicateMarker, got.Violations[0].Kind)
}

func TestDecodeReplyMalformedMarkerDegradesToNone(t *testing.T) {
	for _, raw := range []string{
		"Stay safe. ||EMERGENCY",
		"Stay safe. EMERGENCY||",
		"Stay safe. |SUGGEST_REPORT|",
		"Stay safe. ||emergency||",
		"Keep talking to me.\nStay safe. SUGGEST_REPORT||",
	} {
		got := DecodeReply(raw)
		assert.Equal(t, conversation.ActionNone, got.Action, "DecodeReply(%q).Action", raw)
		require.NotEmpty(t, got.Violations, "DecodeReply(%q) should report a violation", raw)
		assert.Equal(t, ViolationPartialMarker, got.Violations[0].Kind)
		assert.NotContains(t, got.Text, "|", "DecodeReply(%q).Text", raw)
	}
}

func TestDecodeReplyPlainWordIsNotAMarker(t *testing.T) {
	got := DecodeReply("If this is an emergency, call 112.")
	assert.Equal(t, conversation.ActionNone, got.Action)
	assert.Empty(t, got.Violations)
}

func TestDecodeReplyPartialMarkerKeepsExactAction(t *testing.T) {
	got := DecodeReply("Stay safe. ||EMERGENCY|| and also SUGGEST_REPORT||")
	assert.Equal(t, conversation.ActionEmergency, got.Action)
	require.Len(t, got.Violations, 1)
	assert.Equal(t, ViolationPartialMarker, got.Violations[0].Kind)
	assert.NotContains(t, got.Text, "|")
}

func TestDecodeReplyPipesInProseAreNotMarkers(t *testing.T) {
	for _, raw := range []string{
		"| Emergency | 112 |",
		"Dial 112 for Emergency | police",
		"Emergency|Police: 112",
		"Numbers you can call:\n| Service | Number |\n| Emergency | 112 |",
		"||EMERGENCY is written like this in older prompts.\nTake your time.",
	} {
		got := DecodeReply(raw)
		assert.Equal(t, raw, got.Text, "DecodeReply(%q).Text", raw)
		assert.Equal(t, conversation.ActionNone, got.Action, "DecodeReply(%q).Action", raw)
		assert.Empty(t, got.Violations, "DecodeReply(%q).Violations", raw)
	}
}

func TestDecodeReplyTableRowDoesNotMaskEmergency(t *testing.T) {
	got := DecodeReply("Please call now.\n| Line | Number |\n| Emergency | 112 |\n||EMERGENCY||")
	assert.Equal(t, conversation.ActionEmergency, got.Action)
	assert.Empty(t, got.Violations)
	assert.Equal(t, "Please call now.\n| Line | Number |\n| Emergency | 112 |", got.Text)
}
