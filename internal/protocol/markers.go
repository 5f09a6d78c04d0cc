package protocol

import (
	"regexp"
	"strings"

	"github.com/ent0n29/safemind/internal/conversation"
)

// Triage markers appended by the reasoning service. They are versioned so a
// future grammar can be introduced without breaking deployed prompts.
const (
	MarkerVersion       = "v1"
	MarkerSuggestReport = "||SUGGEST_REPORT||"
	MarkerEmergency     = "||EMERGENCY||"
)

// ViolationKind names a way a reply can break the marker grammar.
type ViolationKind string

const (
	ViolationBothMarkers     ViolationKind = "both_markers"
	ViolationDuplicateMarker ViolationKind = "duplicate_marker"
	ViolationPartialMarker   ViolationKind = "partial_marker"
)

type Violation struct {
	Kind   ViolationKind `json:"kind"`
	Detail string        `json:"detail"`
}

// Decoded is the result of reading a raw reasoning-service reply.
type Decoded struct {
	Text       string
	Action     conversation.Action
	Violations []Violation
}

// A marker token with a missing or extra pipe or the wrong case. Pipes must
// touch the word, so table cells such as "| Emergency |" never match.
var partialMarkerPattern = regexp.MustCompile(`(?i)\|{1,2}(?:suggest_report|emergency)\|{1,2}|\|\|(?:suggest_report|emergency)|(?:suggest_report|emergency)\|\|`)

// DecodeReply splits a raw reply into display text and a triage action. It
// never fails. Only the exact tokens select an action. A malformed token on
// the trailing line is stripped and reported but never overrides an exact
// marker found elsewhere in the reply.
func DecodeReply(raw string) Decoded {
	suggest := strings.Count(raw, MarkerSuggestReport)
	emergency := strings.Count(raw, MarkerEmergency)

	text := strings.ReplaceAll(raw, MarkerSuggestReport, "")
	text = strings.ReplaceAll(text, MarkerEmergency, "")

	head, tail := splitTrailingLine(text)
	partials := partialMarkerPattern.FindAllString(tail, -1)

	if suggest == 0 && emergency == 0 && len(partials) == 0 {
		return Decoded{Text: raw, Action: conversation.ActionNone}
	}

	var violations []Violation
	if len(partials) > 0 {
		text = head + partialMarkerPattern.ReplaceAllString(tail, "")
		violations = append(violations, Violation{
			Kind:   ViolationPartialMarker,
			Detail: strings.Join(partials, " "),
		})
	}

	if suggest > 1 || emergency > 1 {
		violations = append(violations, Violation{
			Kind:   ViolationDuplicateMarker,
			Detail: "marker repeated in a single reply",
		})
	}

	action := conversation.ActionNone
	switch {
	case emergency > 0:
		// Life-safety outranks evidentiary value.
		action = conversation.ActionEmergency
		if suggest > 0 {
			violations = append(violations, Violation{
				Kind:   ViolationBothMarkers,
				Detail: "both markers present; emergency wins",
			})
		}
	case suggest > 0:
		action = conversation.ActionSuggestReport
	}

	return Decoded{
		Text:       collapseSpace(text),
		Action:     action,
		Violations: violations,
	}
}

// splitTrailingLine returns everything before the last non-blank line and
// that line itself.
func splitTrailingLine(s string) (string, string) {
	trimmed := strings.TrimRight(s, " \t\r\n")
	i := strings.LastIndex(trimmed, "\n")
	return trimmed[:i+1], trimmed[i+1:]
}

func collapseSpace(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
