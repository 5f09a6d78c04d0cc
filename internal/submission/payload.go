package submission

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/sha3"

	"github.com/ent0n29/safemind/internal/draft"
)

// PayloadTemplate identifies the canonical text layout below. Any change to
// labels, order or line breaks must bump it, since verifiers re-render it.
const PayloadTemplate = "safemind.report.v1"

const (
	anonymousLocation = "Anonymous"
	noEvidence        = "None"
	proofTokenLen     = 16
	timestampLayout   = "2006-01-02T15:04:05.000Z"
)

// PayloadInput is everything the canonical payload depends on.
type PayloadInput struct {
	Draft     draft.Draft
	Reporter  string
	Timestamp time.Time
}

// RenderPayload produces the exact text the reporter signs. The trailing proof
// token is derived from the preceding lines, so the token changes whenever any
// signed field does.
func RenderPayload(in PayloadInput) (payload string, proofToken string) {
	body := renderBody(in)
	proofToken = ProofToken(body)
	return body + "Proof Hash: " + proofToken, proofToken
}

func renderBody(in PayloadInput) string {
	location := strings.TrimSpace(in.Draft.Location)
	if location == "" {
		location = anonymousLocation
	}
	evidence := noEvidence
	if in.Draft.Evidence != nil && strings.TrimSpace(in.Draft.Evidence.Name) != "" {
		evidence = strings.TrimSpace(in.Draft.Evidence.Name)
	}

	var b strings.Builder
	b.WriteString("SAFEMIND IMMUTABLE REPORT\n")
	b.WriteString("-------------------------\n")
	fmt.Fprintf(&b, "Category: %s\n", in.Draft.Category)
	fmt.Fprintf(&b, "Location: %s\n", location)
	fmt.Fprintf(&b, "Timestamp: %s\n", in.Timestamp.UTC().Format(timestampLayout))
	fmt.Fprintf(&b, "Reporter: %s\n", in.Reporter)
	b.WriteString("\n")
	b.WriteString("DESCRIPTION:\n")
	b.WriteString(strings.TrimSpace(in.Draft.Description))
	b.WriteString("\n\n")
	b.WriteString("EVIDENCE ATTACHED:\n")
	fmt.Fprintf(&b, "File: %s\n", evidence)
	b.WriteString("\n")
	b.WriteString("I certify this report is true.\n")
	return b.String()
}

// ProofToken is the short content-binding token embedded in the payload.
func ProofToken(body string) string {
	return Keccak256Hex(body)[:proofTokenLen]
}

// VerifyProofToken checks that a rendered payload's token matches its body.
func VerifyProofToken(payload string) bool {
	idx := strings.LastIndex(payload, "Proof Hash: ")
	if idx < 0 {
		return false
	}
	return ProofToken(payload[:idx]) == payload[idx+len("Proof Hash: "):]
}

func Keccak256(data []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(data)
	return h.Sum(nil)
}

func Keccak256Hex(s string) string {
	return hex.EncodeToString(Keccak256([]byte(s)))
}
