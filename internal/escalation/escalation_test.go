package escalation

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/safemind/internal/policy"
)

func TestBuildGradesSeverity(t *testing.T) {
	b := NewBuilder(DefaultDirectory())

	cases := []struct {
		text     string
		severity Severity
		followUp time.Duration
	}{
		{"He has a weapon and I am bleeding", SeverityCritical, 15 * time.Minute},
		{"I feel unsafe walking home", SeverityHigh, time.Hour},
		{"I am thinking about ending it all", SeverityMedium, 4 * time.Hour},
	}
	for _, tc := range cases {
		esc := b.Build(tc.text)
		assert.Equal(t, tc.severity, esc.Severity, tc.text)
		assert.Equal(t, tc.followUp, esc.FollowUpAfter, tc.text)
		require.NotEmpty(t, esc.Contacts)
		assert.Equal(t, "112", esc.Contacts[0].Number)
	}
}

func TestSeverityFor(t *testing.T) {
	assert.Equal(t, SeverityCritical, SeverityFor(policy.RiskHigh))
	assert.Equal(t, SeverityHigh, SeverityFor(policy.RiskMedium))
	assert.Equal(t, SeverityMedium, SeverityFor(policy.RiskLow))
}

func TestBuildReturnsIndependentContacts(t *testing.T) {
	b := NewBuilder(DefaultDirectory())
	esc := b.Build("help")
	esc.Contacts[0].Number = "999"
	esc.Contacts[0].Services[0] = "Taxi"

	again := b.Build("help")
	assert.Equal(t, "112", again.Contacts[0].Number)
	assert.Equal(t, "Ambulance", again.Contacts[0].Services[0])
}

func TestLoadDirectoryDefaultsOnEmptyPath(t *testing.T) {
	dir, err := LoadDirectory("  ")
	require.NoError(t, err)
	assert.Equal(t, DefaultDirectory(), dir)
}

func TestLoadDirectoryFromYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "contacts.yaml")
	body := `region: Abuja
contacts:
  - name: FCT Emergency
    number: "112"
    services: [Ambulance, Police]
  - name: Mirabel Centre
    number: "08155770000"
    note: Sexual assault referral
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	dir, err := LoadDirectory(path)
	require.NoError(t, err)
	assert.Equal(t, "Abuja", dir.Region)
	require.Len(t, dir.Contacts, 2)
	assert.Equal(t, "08155770000", dir.Contacts[1].Number)
	assert.Equal(t, []string{"Ambulance", "Police"}, dir.Contacts[0].Services)
}

func TestLoadDirectoryRejectsInvalidFiles(t *testing.T) {
	tmp := t.TempDir()

	empty := filepath.Join(tmp, "empty.yaml")
	require.NoError(t, os.WriteFile(empty, []byte("region: Nowhere\n"), 0o600))
	_, err := LoadDirectory(empty)
	assert.ErrorIs(t, err, ErrEmptyDirectory)

	noNumber := filepath.Join(tmp, "nonumber.yaml")
	require.NoError(t, os.WriteFile(noNumber, []byte("contacts:\n  - name: Someone\n"), 0o600))
	_, err = LoadDirectory(noNumber)
	assert.Error(t, err)

	_, err = LoadDirectory(filepath.Join(tmp, "missing.yaml"))
	assert.Error(t, err)

	broken := filepath.Join(tmp, "broken.yaml")
	require.NoError(t, os.WriteFile(broken, []byte("contacts: [\n"), 0o600))
	_, err = LoadDirectory(broken)
	assert.Error(t, err)
}
