package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/tbourn/unified-inbox/internal/domain"
)

// PredicateSeed is the TOML shape of a smart filter predicate.
type PredicateSeed struct {
	Kind   string          `koanf:"kind"`
	Field  string          `koanf:"field"`
	Value  string          `koanf:"value"`
	Op     string          `koanf:"op"`
	Number float64         `koanf:"number"`
	All    []PredicateSeed `koanf:"all"`
}

// FilterSeed is one smart filter of a seeded feed.
type FilterSeed struct {
	Label     string        `koanf:"label"`
	Predicate PredicateSeed `koanf:"predicate"`
}

// FeedSeed describes a feed created at startup when no feed with the
// same name exists.
type FeedSeed struct {
	Name        string       `koanf:"name"`
	Description string       `koanf:"description"`
	Threshold   *float64     `koanf:"threshold"`
	Weight      int          `koanf:"weight"`
	Filters     []FilterSeed `koanf:"filters"`
}

type seedFile struct {
	Defaults struct {
		Threshold float64 `koanf:"threshold"`
	} `koanf:"defaults"`
	Feeds []FeedSeed `koanf:"feeds"`
}

// LoadFeedSeeds reads feed definitions from a TOML file. Feeds without a
// threshold get [defaults].threshold, or defThreshold when that is unset.
func LoadFeedSeeds(path string, defThreshold float64) ([]FeedSeed, error) {
	k := koanf.New(".")
	if err := k.Load(confmap.Provider(map[string]interface{}{
		"defaults.threshold": defThreshold,
	}, "."), nil); err != nil {
		return nil, fmt.Errorf("load seed defaults: %w", err)
	}
	if err := k.Load(file.Provider(path), toml.Parser()); err != nil {
		return nil, fmt.Errorf("load feeds file %s: %w", path, err)
	}
	var sf seedFile
	if err := k.Unmarshal("", &sf); err != nil {
		return nil, fmt.Errorf("decode feeds file %s: %w", path, err)
	}

	seen := map[string]bool{}
	for i := range sf.Feeds {
		f := &sf.Feeds[i]
		f.Name = strings.TrimSpace(f.Name)
		if f.Name == "" {
			return nil, fmt.Errorf("feeds[%d]: name must not be empty", i)
		}
		if seen[strings.ToLower(f.Name)] {
			return nil, fmt.Errorf("feeds[%d]: duplicate feed name %q", i, f.Name)
		}
		seen[strings.ToLower(f.Name)] = true
		if f.Threshold == nil {
			th := sf.Defaults.Threshold
			f.Threshold = &th
		}
		if !unit(*f.Threshold) {
			return nil, fmt.Errorf("feed %q: threshold must be in [0,1]", f.Name)
		}
		if f.Weight < 0 || f.Weight > 30 {
			return nil, fmt.Errorf("feed %q: weight must be in [0,30]", f.Name)
		}
		for j, fl := range f.Filters {
			if err := fl.Predicate.ToDomain().Validate(); err != nil {
				return nil, fmt.Errorf("feed %q filter %d: %w", f.Name, j, err)
			}
		}
	}
	return sf.Feeds, nil
}

// ToDomain converts the seed to a domain predicate.
func (p PredicateSeed) ToDomain() domain.Predicate {
	out := domain.Predicate{
		Kind:   domain.PredicateKind(p.Kind),
		Field:  p.Field,
		Value:  p.Value,
		Op:     p.Op,
		Number: p.Number,
	}
	for _, c := range p.All {
		out.All = append(out.All, c.ToDomain())
	}
	return out
}

// ErrNoSeedFile is returned when seeding is requested without FEEDS_FILE.
var ErrNoSeedFile = errors.New("FEEDS_FILE is not set")
