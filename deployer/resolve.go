package deployer

import (
	"errors"
	"sort"
	"strings"
)

// ErrNoContracts is returned when a name is resolved against an empty candidate list.
var ErrNoContracts = errors.New("no contracts available")

// Resolution is the outcome of BestEffortResolve.
type Resolution struct {
	Name string
	// Exact is set when the requested name matched a contract directly.
	Exact bool
	// Fallback is set when nothing matched and the first candidate was picked.
	Fallback bool
}

// BestEffortResolve maps requested to one of known, the contracts of the current artifact
// set. An exact match always wins. Otherwise the longest deployed name contained in requested
// is used (so "Token2" finds "Token"), and failing that the first deployed name in lexical
// order. When nothing is deployed, known stands in for deployed.
func BestEffortResolve(requested string, known, deployed []string) (Resolution, error) {
	for _, name := range known {
		if name == requested {
			return Resolution{Name: name, Exact: true}, nil
		}
	}

	candidates := append([]string(nil), deployed...)
	if len(candidates) == 0 {
		candidates = append(candidates, known...)
	}
	if len(candidates) == 0 {
		return Resolution{}, ErrNoContracts
	}
	sort.Strings(candidates)

	best := ""
	for _, name := range candidates {
		if name != "" && strings.Contains(requested, name) && len(name) > len(best) {
			best = name
		}
	}
	if best != "" {
		return Resolution{Name: best}, nil
	}
	return Resolution{Name: candidates[0], Fallback: true}, nil
}
