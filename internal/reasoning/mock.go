package reasoning

import (
	"context"
	"strings"

	"github.com/ent0n29/safemind/internal/policy"
	"github.com/ent0n29/safemind/internal/protocol"
)

// MockAdapter replies deterministically from a phrase rubric so the service
// runs end to end without provider credentials.
type MockAdapter struct{}

func NewMockAdapter() *MockAdapter { return &MockAdapter{} }

func (a *MockAdapter) Name() string { return "mock" }

var (
	dangerPhrases = []string{
		"ending it all", "end it all", "kill myself", "want to die", "suicide",
		"bleeding", "unconscious", "has a gun", "has a knife", "weapon",
		"on fire", "following me right now", "outside my door",
	}
	reportPhrases = []string{
		"touched me", "groped", "harass", "assault", "bribe", "extort",
		"beat me", "hit me", "slapped", "stole", "threaten", "abuse",
		"discriminat", "unpaid", "pothole", "collapsed", "broken streetlight",
	}
)

func (a *MockAdapter) Respond(ctx context.Context, req Request) (Response, error) {
	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	default:
	}
	return Response{Text: buildMockReply(req.InputText), Provider: a.Name()}, nil
}

func buildMockReply(input string) string {
	in := strings.ToLower(strings.TrimSpace(input))
	switch {
	case containsAny(in, dangerPhrases):
		return "I'm really concerned for your safety right now. Please contact emergency services immediately; you do not have to go through this alone. " + protocol.MarkerEmergency
	case containsAny(in, reportPhrases):
		return "I'm sorry that happened to you. What you describe is not okay, and you can document it securely and anonymously. " + protocol.MarkerSuggestReport
	}
	if policy.AssessRisk(in).Level == policy.RiskMedium {
		return "It sounds like this has been weighing on you, and your concern is valid. Can you tell me a little more about what is happening?"
	}
	return "Thank you for sharing that with me. I am here to listen."
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
