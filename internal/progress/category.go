package progress

import (
	"errors"
	"fmt"
	"math/bits"
	"sort"
	"strings"
	"sync"
)

// CategorySet is a fixed-width bit-set of application-defined categories.
type CategorySet uint64

// CategoryNone is the empty set. A subscriber filtering on it never matches.
const CategoryNone CategorySet = 0

// Named categories. Applications may define more bits through a
// CategoryRegistry.
const (
	CategoryData CategorySet = 1 << iota
	CategoryStyling
	CategoryAnalytics
	CategoryContent
	CategoryNetwork
)

// maxCategories is the width of CategorySet.
const maxCategories = 64

// Union combines sets with bitwise OR.
func Union(sets ...CategorySet) CategorySet {
	var out CategorySet
	for _, s := range sets {
		out |= s
	}
	return out
}

// Union returns c | other.
func (c CategorySet) Union(other CategorySet) CategorySet {
	return c | other
}

// Matches reports whether the two sets share at least one category.
func (c CategorySet) Matches(other CategorySet) bool {
	return c&other != 0
}

// Has reports whether every bit of other is set in c.
func (c CategorySet) Has(other CategorySet) bool {
	return other != 0 && c&other == other
}

// IsNone reports whether the set is empty.
func (c CategorySet) IsNone() bool {
	return c == CategoryNone
}

// Bits returns the indexes of the set bits in ascending order.
func (c CategorySet) Bits() []int {
	out := make([]int, 0, bits.OnesCount64(uint64(c)))
	for v := uint64(c); v != 0; v &= v - 1 {
		out = append(out, bits.TrailingZeros64(v))
	}
	return out
}

// String renders the set as a hex mask.
func (c CategorySet) String() string {
	return fmt.Sprintf("%#x", uint64(c))
}

// CategoryRegistry maps category names to bits so sets can be parsed from
// configuration and query strings.
type CategoryRegistry struct {
	mu     sync.RWMutex
	byName map[string]CategorySet
	byBit  map[int]string
	next   int
}

// NewCategoryRegistry returns a registry with the named categories defined.
func NewCategoryRegistry() *CategoryRegistry {
	r := &CategoryRegistry{
		byName: make(map[string]CategorySet),
		byBit:  make(map[int]string),
	}
	defaults := []struct {
		name string
		set  CategorySet
	}{
		{"data", CategoryData},
		{"styling", CategoryStyling},
		{"analytics", CategoryAnalytics},
		{"content", CategoryContent},
		{"network", CategoryNetwork},
	}
	for _, d := range defaults {
		bit := d.set.Bits()[0]
		r.byName[d.name] = d.set
		r.byBit[bit] = d.name
		if bit >= r.next {
			r.next = bit + 1
		}
	}
	return r
}

// Define registers a new category name and returns its bit. Defining an
// existing name returns the existing bit.
func (r *CategoryRegistry) Define(name string) (CategorySet, error) {
	key := normalizeCategory(name)
	if key == "" {
		return CategoryNone, errors.New("category name is required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if set, ok := r.byName[key]; ok {
		return set, nil
	}
	for r.next < maxCategories {
		if _, taken := r.byBit[r.next]; !taken {
			break
		}
		r.next++
	}
	if r.next >= maxCategories {
		return CategoryNone, fmt.Errorf("category %q: all %d bits are in use", name, maxCategories)
	}
	set := CategorySet(1) << r.next
	r.byName[key] = set
	r.byBit[r.next] = key
	r.next++
	return set, nil
}

// Lookup returns the bit for a single name.
func (r *CategoryRegistry) Lookup(name string) (CategorySet, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.byName[normalizeCategory(name)]
	return set, ok
}

// Parse converts a comma-separated list of names into a set. Unknown names are
// reported as an error; an empty string yields CategoryNone.
func (r *CategoryRegistry) Parse(list string) (CategorySet, error) {
	var out CategorySet
	for _, part := range strings.Split(list, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		set, ok := r.Lookup(part)
		if !ok {
			return CategoryNone, fmt.Errorf("unknown category %q", strings.TrimSpace(part))
		}
		out |= set
	}
	return out, nil
}

// Names lists the category names in set, ordered by bit. Bits without a name
// are rendered as "bitN".
func (r *CategoryRegistry) Names(set CategorySet) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	idx := set.Bits()
	out := make([]string, 0, len(idx))
	for _, bit := range idx {
		if name, ok := r.byBit[bit]; ok {
			out = append(out, name)
			continue
		}
		out = append(out, fmt.Sprintf("bit%d", bit))
	}
	return out
}

// All returns every defined name ordered alphabetically.
func (r *CategoryRegistry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.byName))
	for name := range r.byName {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func normalizeCategory(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
