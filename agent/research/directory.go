// Package research finds vendors for a trip and estimates its market price
// range from a vendor directory file.
package research

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	statex "github.com/tanpawarit/Chative-Vendor-Negotiation/agent/state"
)

// MarketEntry is a known fare band for a service in a region.
type MarketEntry struct {
	Service string  `yaml:"service"`
	Region  string  `yaml:"region"`
	Low     float64 `yaml:"low"`
	Mid     float64 `yaml:"mid"`
	High    float64 `yaml:"high"`
}

// Directory is the decoded vendor directory file.
type Directory struct {
	Vendors []statex.Vendor `yaml:"vendors"`
	Markets []MarketEntry   `yaml:"markets"`
}

func LoadDirectory(path string) (*Directory, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vendor directory: %w", err)
	}
	return ParseDirectory(raw)
}

func ParseDirectory(raw []byte) (*Directory, error) {
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)

	var dir Directory
	if err := dec.Decode(&dir); err != nil {
		return nil, fmt.Errorf("decode vendor directory: %w", err)
	}

	seen := make(map[string]struct{}, len(dir.Vendors))
	for i, v := range dir.Vendors {
		id := strings.TrimSpace(v.ID)
		if id == "" {
			return nil, fmt.Errorf("vendor directory: vendor %d has no id", i)
		}
		if _, dup := seen[id]; dup {
			return nil, fmt.Errorf("vendor directory: duplicate vendor id %q", id)
		}
		seen[id] = struct{}{}
		dir.Vendors[i].ID = id
	}
	for i, m := range dir.Markets {
		if m.Low <= 0 || m.High < m.Low {
			return nil, fmt.Errorf("vendor directory: market %d (%s/%s) has an invalid range", i, m.Service, m.Region)
		}
		if m.Mid <= 0 {
			dir.Markets[i].Mid = (m.Low + m.High) / 2
		}
	}
	return &dir, nil
}

func sameFold(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}
