package escalation

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

var ErrEmptyDirectory = errors.New("escalation directory has no contacts")

// Contact is a free-to-call number surfaced when triage signals danger.
type Contact struct {
	Name     string   `yaml:"name" json:"name"`
	Number   string   `yaml:"number" json:"number"`
	Services []string `yaml:"services,omitempty" json:"services,omitempty"`
	Note     string   `yaml:"note,omitempty" json:"note,omitempty"`
}

// Directory is the ordered list of contacts; the first entry is the primary
// line offered to the user.
type Directory struct {
	Region   string    `yaml:"region" json:"region"`
	Contacts []Contact `yaml:"contacts" json:"contacts"`
}

func DefaultDirectory() Directory {
	return Directory{
		Region: "Lagos",
		Contacts: []Contact{
			{
				Name:     "Lagos Emergency",
				Number:   "112",
				Services: []string{"Ambulance", "Fire", "Police"},
			},
			{
				Name:     "Domestic Violence",
				Number:   "08000333333",
				Services: []string{"Domestic Violence"},
				Note:     "Lagos DSVRT Team",
			},
		},
	}
}

// LoadDirectory reads a YAML directory override. An empty path yields the
// default directory.
func LoadDirectory(path string) (Directory, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return DefaultDirectory(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return Directory{}, fmt.Errorf("read escalation directory: %w", err)
	}
	var dir Directory
	if err := yaml.Unmarshal(data, &dir); err != nil {
		return Directory{}, fmt.Errorf("parse escalation directory YAML: %w", err)
	}
	if err := dir.validate(); err != nil {
		return Directory{}, fmt.Errorf("%s: %w", path, err)
	}
	return dir, nil
}

func (d Directory) validate() error {
	if len(d.Contacts) == 0 {
		return ErrEmptyDirectory
	}
	for i, c := range d.Contacts {
		if strings.TrimSpace(c.Name) == "" || strings.TrimSpace(c.Number) == "" {
			return fmt.Errorf("contact %d: name and number are required", i)
		}
	}
	return nil
}

func (d Directory) clone() Directory {
	out := Directory{Region: d.Region, Contacts: make([]Contact, len(d.Contacts))}
	for i, c := range d.Contacts {
		c.Services = append([]string(nil), c.Services...)
		out.Contacts[i] = c
	}
	return out
}
