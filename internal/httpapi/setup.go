package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

type setupCheck struct {
	ID     string `json:"id"`
	Status string `json:"status"` // ok|warn|error
	Label  string `json:"label"`
	Detail string `json:"detail,omitempty"`
	Fix    string `json:"fix,omitempty"`
}

type setupStatusResponse struct {
	ReasoningAdapter string       `json:"reasoning_adapter"`
	StoreMode        string       `json:"store_mode"`
	Checks           []setupCheck `json:"checks"`
}

// handleSetupStatus reports configuration gaps an operator should close
// before exposing the service to reporters.
func (s *Server) handleSetupStatus(w http.ResponseWriter, _ *http.Request) {
	checks := make([]setupCheck, 0, 6)
	checks = append(checks, s.reasoningCheck())

	if s.storeMode() == "postgres" {
		checks = append(checks, setupCheck{ID: "storage", Status: "ok", Label: "Persistence", Detail: "postgres"})
	} else {
		checks = append(checks, setupCheck{
			ID:     "storage",
			Status: "warn",
			Label:  "Persistence",
			Detail: "in-memory only; transcripts, submissions and the ledger are lost on restart",
			Fix:    "Set DATABASE_URL to a Postgres instance.",
		})
	}

	if strings.TrimSpace(s.cfg.SignerSeedHex) == "" {
		checks = append(checks, setupCheck{
			ID:     "signer",
			Status: "warn",
			Label:  "Signing key",
			Detail: "ephemeral key; reporter identities change on restart",
			Fix:    "Set SIGNER_SEED_HEX to a 32-byte hex seed.",
		})
	} else {
		checks = append(checks, setupCheck{ID: "signer", Status: "ok", Label: "Signing key", Detail: "configured"})
	}

	checks = append(checks, s.geocoderCheck())

	if path := strings.TrimSpace(s.cfg.EscalationDirectoryPath); path != "" {
		checks = append(checks, setupCheck{ID: "escalation_directory", Status: "ok", Label: "Emergency contacts", Detail: path})
	} else {
		dir := s.intake.EscalationDirectory()
		checks = append(checks, setupCheck{
			ID:     "escalation_directory",
			Status: "warn",
			Label:  "Emergency contacts",
			Detail: fmt.Sprintf("built-in %s directory (%d contacts)", dir.Region, len(dir.Contacts)),
			Fix:    "Set ESCALATION_DIRECTORY_PATH to a YAML directory for your region.",
		})
	}

	respondJSON(w, http.StatusOK, setupStatusResponse{
		ReasoningAdapter: s.provider,
		StoreMode:        s.storeMode(),
		Checks:           checks,
	})
}

func (s *Server) reasoningCheck() setupCheck {
	switch s.provider {
	case "mock":
		return setupCheck{
			ID:     "reasoning",
			Status: "warn",
			Label:  "Reasoning provider",
			Detail: "mock rubric; replies are canned",
			Fix:    "Set GEMINI_API_KEY, OPENAI_API_KEY or REASONING_HTTP_URL.",
		}
	case "":
		return setupCheck{ID: "reasoning", Status: "error", Label: "Reasoning provider", Detail: "not configured"}
	default:
		return setupCheck{ID: "reasoning", Status: "ok", Label: "Reasoning provider", Detail: s.provider}
	}
}

func (s *Server) geocoderCheck() setupCheck {
	raw := strings.TrimSpace(s.cfg.GeocoderURL)
	if raw == "" {
		return setupCheck{
			ID:     "geocoder",
			Status: "warn",
			Label:  "Reverse geocoding",
			Detail: "disabled; locations are recorded as GPS coordinates",
			Fix:    "Set GEOCODER_URL to a Nominatim-compatible reverse endpoint.",
		}
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return setupCheck{
			ID:     "geocoder",
			Status: "error",
			Label:  "Reverse geocoding",
			Detail: fmt.Sprintf("invalid GEOCODER_URL %q", raw),
			Fix:    "Use an absolute http(s) URL.",
		}
	}
	return setupCheck{ID: "geocoder", Status: "ok", Label: "Reverse geocoding", Detail: u.Host}
}
