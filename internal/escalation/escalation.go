package escalation

import (
	"time"

	"github.com/ent0n29/safemind/internal/policy"
)

type Severity string

const (
	SeverityCritical Severity = "CRITICAL"
	SeverityHigh     Severity = "HIGH"
	SeverityMedium   Severity = "MEDIUM"
)

// Escalation is the affordance shown alongside an emergency reply.
type Escalation struct {
	Severity      Severity
	RiskScore     float64
	Keywords      []string
	Contacts      []Contact
	FollowUpAfter time.Duration
}

var followUpAfter = map[Severity]time.Duration{
	SeverityCritical: 15 * time.Minute,
	SeverityHigh:     time.Hour,
	SeverityMedium:   4 * time.Hour,
}

type Builder struct {
	dir Directory
}

func NewBuilder(dir Directory) *Builder {
	if len(dir.Contacts) == 0 {
		dir = DefaultDirectory()
	}
	return &Builder{dir: dir.clone()}
}

func (b *Builder) Directory() Directory {
	return b.dir.clone()
}

// Build grades the triggering text. The reasoning service has already flagged
// danger, so the floor is MEDIUM even when no keyword matches.
func (b *Builder) Build(text string) Escalation {
	risk := policy.AssessRisk(text)
	sev := SeverityFor(risk.Level)
	return Escalation{
		Severity:      sev,
		RiskScore:     risk.Score,
		Keywords:      risk.Keywords,
		Contacts:      b.dir.clone().Contacts,
		FollowUpAfter: followUpAfter[sev],
	}
}

func SeverityFor(level policy.RiskLevel) Severity {
	switch level {
	case policy.RiskHigh:
		return SeverityCritical
	case policy.RiskMedium:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}
