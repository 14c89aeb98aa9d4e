package build

import (
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/jingkaihe/primforge/pkg/primitive"
	"github.com/pkg/errors"
)

// Selection is a set of primitive patterns. A pattern of the form
// category/id matches any kind; kind/category/id matches one kind. `*`
// matches within a single segment. An empty selection matches everything.
type Selection []string

// ParseSelection splits a comma separated pattern list and checks each pattern
func ParseSelection(s string) (Selection, error) {
	var sel Selection
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if !doublestar.ValidatePattern(part) {
			return nil, errors.Errorf("invalid selection pattern %q", part)
		}
		switch strings.Count(part, "/") {
		case 1, 2:
		default:
			return nil, errors.Errorf("invalid selection pattern %q: expected category/id or kind/category/id", part)
		}
		sel = append(sel, part)
	}
	return sel, nil
}

// Matches reports whether ref is selected
func (s Selection) Matches(ref primitive.Ref) bool {
	if len(s) == 0 {
		return true
	}
	for _, pattern := range s {
		subject := ref.Selector()
		if strings.Count(pattern, "/") == 2 {
			subject = ref.String()
		}
		if ok, _ := doublestar.Match(pattern, subject); ok {
			return true
		}
	}
	return false
}

// MatchesPath reports whether a manifest entry's primitive is selected.
// Entries without a single primitive (central documents) are selected
// whenever any of their sources is.
func (s Selection) MatchesPath(primitiveRef string, sources []string) bool {
	if len(s) == 0 {
		return true
	}
	refs := sources
	if primitiveRef != "" {
		refs = []string{primitiveRef}
	}
	for _, r := range refs {
		ref, err := primitive.ParseRef(r)
		if err != nil {
			continue
		}
		if s.Matches(ref) {
			return true
		}
	}
	return false
}
