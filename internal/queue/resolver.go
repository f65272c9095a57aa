package queue

import (
	"iter"
	"strings"

	"github.com/me/replay/pkg/model"
)

// EntrySource is a lazy sequence of entries. A non-nil error terminates
// consumption of the source.
type EntrySource = iter.Seq2[model.Entry, error]

// MatchEntriesByName resolves each name against the given sources in
// order. A name matches an entry when it is a prefix of the entry's stash
// revision or equals the entry's assigned name. The result maps every
// requested name to its entry, or to nil when nothing matched.
//
// Sources are consumed lazily: iteration stops as soon as every name has
// resolved, and later sources are never touched once earlier ones have
// satisfied all names. A name that matched in an earlier source is not
// rebound by later ones.
func MatchEntriesByName(names []string, sources ...EntrySource) (map[string]*model.Entry, error) {
	matched := make(map[string]*model.Entry, len(names))
	remaining := 0
	for _, n := range names {
		if _, ok := matched[n]; !ok {
			matched[n] = nil
			remaining++
		}
	}

	for _, src := range sources {
		if remaining == 0 {
			break
		}
		for e, err := range src {
			if err != nil {
				return nil, err
			}
			for name, cur := range matched {
				if cur != nil {
					continue
				}
				if matchEntry(name, e) {
					bound := e
					matched[name] = &bound
					remaining--
				}
			}
			if remaining == 0 {
				break
			}
		}
	}
	return matched, nil
}

func matchEntry(name string, e model.Entry) bool {
	if name == "" {
		return false
	}
	return strings.HasPrefix(e.StashRev, name) || (e.Name != "" && e.Name == name)
}

// unresolved returns the requested names, in order, that did not match.
func unresolved(names []string, matched map[string]*model.Entry) []string {
	var missing []string
	seen := make(map[string]bool, len(names))
	for _, n := range names {
		if seen[n] {
			continue
		}
		seen[n] = true
		if matched[n] == nil {
			missing = append(missing, n)
		}
	}
	return missing
}
