package domain

import (
	"fmt"
	"strings"
)

// Pool is the closed set of semantic categories a knowledge entity belongs
// to. It is a typed enum with a strict parser: persistence and graph code
// switch on Pool values, never on free-form strings.
type Pool string

const (
	PoolIdea         Pool = "idea"
	PoolManifest     Pool = "manifest"
	PoolExperience   Pool = "experience"
	PoolRelational   Pool = "relational"
	PoolEvolutionary Pool = "evolutionary"
	PoolPractical    Pool = "practical"
	PoolEmanation    Pool = "emanation"
	PoolLexicon      Pool = "lexicon"
)

var allPools = []Pool{
	PoolIdea,
	PoolManifest,
	PoolExperience,
	PoolRelational,
	PoolEvolutionary,
	PoolPractical,
	PoolEmanation,
	PoolLexicon,
}

func Pools() []Pool {
	out := make([]Pool, len(allPools))
	copy(out, allPools)
	return out
}

// ParsePool rejects anything outside the closed set. Extraction services
// send capitalized names ("Idea"), so matching is case-insensitive.
func ParsePool(s string) (Pool, error) {
	p := Pool(strings.ToLower(strings.TrimSpace(s)))
	if !p.Valid() {
		return "", fmt.Errorf("unknown pool %q", s)
	}
	return p, nil
}

func (p Pool) Valid() bool {
	for _, q := range allPools {
		if p == q {
			return true
		}
	}
	return false
}

func (p Pool) String() string { return string(p) }

// GraphLabel is the node label used in the property graph.
func (p Pool) GraphLabel() string {
	switch p {
	case PoolIdea:
		return "Idea"
	case PoolManifest:
		return "Manifest"
	case PoolExperience:
		return "Experience"
	case PoolRelational:
		return "Relational"
	case PoolEvolutionary:
		return "Evolutionary"
	case PoolPractical:
		return "Practical"
	case PoolEmanation:
		return "Emanation"
	case PoolLexicon:
		return "Lexicon"
	default:
		return ""
	}
}
