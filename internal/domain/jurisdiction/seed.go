package jurisdiction

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// SeedNode is one entry of the jurisdiction hierarchy file.
type SeedNode struct {
	Name     string     `yaml:"name"`
	Email    string     `yaml:"email,omitempty"`
	Children []SeedNode `yaml:"children,omitempty"`
}

// LoadSeedFile reads a YAML list of root SeedNodes.
func LoadSeedFile(path string) ([]SeedNode, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseSeed(raw)
}

func ParseSeed(raw []byte) ([]SeedNode, error) {
	var roots []SeedNode
	if err := yaml.Unmarshal(raw, &roots); err != nil {
		return nil, fmt.Errorf("parse jurisdiction hierarchy: %w", err)
	}
	if err := validateSeed(roots, "root"); err != nil {
		return nil, err
	}
	return roots, nil
}

func validateSeed(nodes []SeedNode, parent string) error {
	seen := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.Name == "" {
			return fmt.Errorf("jurisdiction under %s has no name", parent)
		}
		if seen[n.Name] {
			return fmt.Errorf("duplicate jurisdiction %q under %s", n.Name, parent)
		}
		seen[n.Name] = true
		if err := validateSeed(n.Children, n.Name); err != nil {
			return err
		}
	}
	return nil
}
