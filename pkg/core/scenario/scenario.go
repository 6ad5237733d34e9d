// Package scenario loads the product and buyer roster a negotiation starts
// from.
package scenario

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"

	yaml "go.yaml.in/yaml/v2"

	"github.com/vango-go/vai-dealroom/pkg/core/market"
)

// EnvPath names the environment variable holding a scenario file path.
const EnvPath = "DEALROOM_SCENARIO"

type Scenario struct {
	Product market.Product `json:"product" yaml:"product"`
	Buyers  []string       `json:"buyers" yaml:"buyers"`
}

func Default() *Scenario {
	return &Scenario{
		Product: market.Product{
			Name:        "Arasaka Mantis Blades",
			Description: "Military-grade forearm blade implants, lightly used.",
			Floor:       6000,
			Target:      8000,
		},
		Buyers: []string{"Jackie", "Norinobu", "Myers"},
	}
}

// Load reads a scenario from a YAML or JSON file. If path is empty it
// falls back to DEALROOM_SCENARIO, then to the default scenario. Fields
// missing from the file keep their default values.
func Load(path string) (*Scenario, error) {
	if path == "" {
		path = os.Getenv(EnvPath)
	}
	if path == "" {
		return Default(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}

	sc := Default()
	switch ext := filepath.Ext(path); ext {
	case ".json":
		if err := json.Unmarshal(data, sc); err != nil {
			return nil, fmt.Errorf("parse json scenario: %w", err)
		}
	case ".yaml", ".yml", "":
		if err := yaml.Unmarshal(data, sc); err != nil {
			return nil, fmt.Errorf("parse yaml scenario: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported scenario format: %s", ext)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Scenario) Validate() error {
	if strings.TrimSpace(s.Product.Name) == "" {
		return fmt.Errorf("scenario: product name is required")
	}
	if s.Product.Floor < 0 || s.Product.Target < 0 {
		return fmt.Errorf("scenario: prices must be >= 0")
	}
	for i, name := range s.Buyers {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("scenario: buyer %d has no name", i+1)
		}
	}
	return nil
}

// Book builds the market for this scenario.
func (s *Scenario) Book(rng *rand.Rand) (*market.Book, error) {
	return market.New(s.Product, s.Buyers, rng)
}
