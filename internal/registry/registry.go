// Package registry loads the canonical test registry and resolves raw test
// names and units against it. The registry is immutable after load; all
// lookups are safe for concurrent use.
package registry

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sirupsen/logrus"

	"github.com/labtrend-engine/internal/domain"
)

//go:embed seed/registry.json
var seedData []byte

// resolveCacheSize bounds the name-resolution memo. Resolution is pure, so
// eviction only costs a re-walk of the alias table.
const resolveCacheSize = 512

type seedFile struct {
	Version string     `json:"version"`
	Tests   []seedTest `json:"tests"`
}

type seedTest struct {
	domain.CanonicalTest
	Ranges []seedRange `json:"ranges"`
}

type seedRange struct {
	Applicability domain.RangeApplicability `json:"applicability"`
	Low           float64                   `json:"low"`
	High          float64                   `json:"high"`
}

// Registry is the in-memory canonical test registry: test definitions,
// per-test reference ranges and the alias tables used for name resolution.
type Registry struct {
	version string
	tests   map[string]*domain.CanonicalTest
	ranges  map[string][]domain.ReferenceRange

	// aliasExact maps the case-folded alias or display name to a test ID;
	// aliasNorm maps the punctuation-stripped, singularized token form.
	aliasExact map[string]string
	aliasNorm  map[string]string

	resolveCache *lru.Cache[string, string]
	logger       *logrus.Logger
}

// Load builds the registry from the embedded seed data.
func Load(logger *logrus.Logger) (*Registry, error) {
	return LoadFrom(seedData, logger)
}

// LoadFrom builds the registry from raw JSON. It rejects duplicate aliases,
// invalid conversions and inverted ranges up front so request handling never
// has to revalidate reference data.
func LoadFrom(data []byte, logger *logrus.Logger) (*Registry, error) {
	var seed seedFile
	if err := json.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parsing registry seed: %w", err)
	}
	if len(seed.Tests) == 0 {
		return nil, fmt.Errorf("registry seed: %w: no tests defined", domain.ErrInvalidReferenceData)
	}

	cache, err := lru.New[string, string](resolveCacheSize)
	if err != nil {
		return nil, fmt.Errorf("creating resolve cache: %w", err)
	}

	r := &Registry{
		version:      seed.Version,
		tests:        make(map[string]*domain.CanonicalTest, len(seed.Tests)),
		ranges:       make(map[string][]domain.ReferenceRange, len(seed.Tests)),
		aliasExact:   make(map[string]string),
		aliasNorm:    make(map[string]string),
		resolveCache: cache,
		logger:       logger,
	}

	for i := range seed.Tests {
		st := &seed.Tests[i]
		test := st.CanonicalTest
		if err := test.Validate(); err != nil {
			return nil, err
		}
		if _, exists := r.tests[test.TestID]; exists {
			return nil, fmt.Errorf("registry seed: %w: duplicate test_id %q",
				domain.ErrInvalidReferenceData, test.TestID)
		}
		r.tests[test.TestID] = &test

		for _, name := range append([]string{test.DisplayName}, test.Aliases...) {
			if err := r.addAlias(name, test.TestID); err != nil {
				return nil, err
			}
		}

		for _, sr := range st.Ranges {
			rr := domain.ReferenceRange{
				TestID:        test.TestID,
				Applicability: sr.Applicability,
				Low:           sr.Low,
				High:          sr.High,
				Unit:          test.CanonicalUnit,
			}
			if err := rr.Validate(); err != nil {
				return nil, err
			}
			r.ranges[test.TestID] = append(r.ranges[test.TestID], rr)
		}
	}

	if logger != nil {
		logger.WithFields(logrus.Fields{
			"version": r.version,
			"tests":   len(r.tests),
			"aliases": len(r.aliasExact),
		}).Info("Canonical test registry loaded")
	}
	return r, nil
}

func (r *Registry) addAlias(name, testID string) error {
	exact := foldName(name)
	if exact == "" {
		return nil
	}
	if existing, ok := r.aliasExact[exact]; ok && existing != testID {
		return fmt.Errorf("registry seed: %w: %q maps to %s and %s",
			domain.ErrDuplicateAlias, name, existing, testID)
	}
	r.aliasExact[exact] = testID

	norm := normalizeName(name)
	if norm == "" {
		return nil
	}
	if existing, ok := r.aliasNorm[norm]; ok && existing != testID {
		return fmt.Errorf("registry seed: %w: %q normalizes onto %s and %s",
			domain.ErrDuplicateAlias, name, existing, testID)
	}
	r.aliasNorm[norm] = testID
	return nil
}

// Resolve maps a raw report test name to a canonical test ID. It tries three
// passes of decreasing strictness: exact case-folded alias match, normalized
// token match (punctuation stripped, "total" prefix dropped, plural
// suffixes trimmed), then substring containment against the normalized alias
// table. A miss returns an UnknownTestError carrying the raw name.
func (r *Registry) Resolve(rawName string) (string, error) {
	key := foldName(rawName)
	if key == "" {
		return "", &domain.UnknownTestError{RawName: rawName}
	}
	if id, ok := r.resolveCache.Get(key); ok {
		return id, nil
	}

	if id, ok := r.aliasExact[key]; ok {
		r.resolveCache.Add(key, id)
		return id, nil
	}

	norm := normalizeName(rawName)
	if id, ok := r.aliasNorm[norm]; ok {
		r.resolveCache.Add(key, id)
		return id, nil
	}

	if id, ok := r.resolveBySubstring(norm); ok {
		r.resolveCache.Add(key, id)
		return id, nil
	}

	return "", &domain.UnknownTestError{RawName: rawName}
}

// resolveBySubstring matches the normalized query against normalized aliases
// by containment in either direction. Short queries are excluded so that
// abbreviations like "K" cannot match unrelated names. When several aliases
// match, the longest one wins; ties break lexicographically so resolution
// stays deterministic.
func (r *Registry) resolveBySubstring(norm string) (string, bool) {
	if len(norm) < 4 {
		return "", false
	}
	bestKey, bestID := "", ""
	for alias, id := range r.aliasNorm {
		if len(alias) < 4 {
			continue
		}
		if !strings.Contains(alias, norm) && !strings.Contains(norm, alias) {
			continue
		}
		if len(alias) > len(bestKey) || (len(alias) == len(bestKey) && alias < bestKey) {
			bestKey, bestID = alias, id
		}
	}
	return bestID, bestID != ""
}

// Lookup returns the canonical test definition for a test ID.
func (r *Registry) Lookup(testID string) (*domain.CanonicalTest, bool) {
	t, ok := r.tests[testID]
	return t, ok
}

// Ranges returns the reference range entries for a test ID, in seed order.
func (r *Registry) Ranges(testID string) []domain.ReferenceRange {
	return r.ranges[testID]
}

// Tests returns all canonical test definitions sorted by test ID.
func (r *Registry) Tests() []*domain.CanonicalTest {
	out := make([]*domain.CanonicalTest, 0, len(r.tests))
	for _, t := range r.tests {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TestID < out[j].TestID })
	return out
}

// Version returns the seed data version string.
func (r *Registry) Version() string {
	return r.version
}

// foldName case-folds and collapses whitespace without touching punctuation.
func foldName(s string) string {
	return strings.Join(strings.Fields(strings.ToLower(s)), " ")
}

var punctReplacer = strings.NewReplacer(
	"(", " ", ")", " ", "-", " ", "_", " ", "/", " ",
	".", " ", ",", " ", "'", " ", ":", " ", "+", " ",
)

// normalizeName reduces a test name to comparable tokens: lowercase,
// punctuation to spaces, a leading "total" dropped, plural "s" trimmed from
// longer tokens.
func normalizeName(s string) string {
	fields := strings.Fields(punctReplacer.Replace(strings.ToLower(s)))
	if len(fields) > 1 && fields[0] == "total" {
		fields = fields[1:]
	}
	for i, f := range fields {
		if len(f) > 3 && strings.HasSuffix(f, "s") && !strings.HasSuffix(f, "ss") {
			fields[i] = strings.TrimSuffix(f, "s")
		}
	}
	return strings.Join(fields, " ")
}
