package glossary

import (
	_ "embed"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/archivolt/mnemos/internal/domain"
)

//go:embed verbs.yaml
var verbsYAML []byte

// FallbackVerb is the low-information edge type unrecognized verbs map to.
// Callers may reject resolutions at or below FallbackConfidence.
const (
	FallbackVerb       = "connects_to"
	FallbackConfidence = 0.3
)

// Entry is one forward verb in the closed vocabulary. Reverse is empty when
// the verb has no reverse edge; Symmetric verbs use a single edge type for
// both directions. Empty pool fields are wildcards.
type Entry struct {
	Verb       string `yaml:"verb"`
	Reverse    string `yaml:"reverse"`
	Symmetric  bool   `yaml:"symmetric"`
	SourcePool string `yaml:"source_pool"`
	TargetPool string `yaml:"target_pool"`
}

type aliasDef struct {
	Verb       string  `yaml:"verb"`
	Confidence float64 `yaml:"confidence"`
}

type fileFormat struct {
	Verbs   []Entry             `yaml:"verbs"`
	Aliases map[string]aliasDef `yaml:"aliases"`
}

// Resolution is the outcome of mapping a raw extracted verb onto the closed
// vocabulary. Inverted means the raw verb was a reverse form, so the caller
// must swap endpoints before writing the forward edge.
type Resolution struct {
	Verb       string
	Reverse    string
	Symmetric  bool
	Inverted   bool
	Confidence float64
	Warning    string
}

// Glossary is the closed relationship vocabulary. Built once at process
// start, immutable afterwards.
type Glossary struct {
	entries map[string]Entry  // forward verb -> entry
	reverse map[string]string // reverse verb -> forward verb
	aliases map[string]aliasDef
}

func Load() (*Glossary, error) {
	var f fileFormat
	if err := yaml.Unmarshal(verbsYAML, &f); err != nil {
		return nil, fmt.Errorf("glossary: parse verbs.yaml: %w", err)
	}
	return build(f)
}

func build(f fileFormat) (*Glossary, error) {
	g := &Glossary{
		entries: make(map[string]Entry, len(f.Verbs)),
		reverse: make(map[string]string),
		aliases: make(map[string]aliasDef, len(f.Aliases)),
	}
	for _, e := range f.Verbs {
		v := normalize(e.Verb)
		if v == "" {
			return nil, fmt.Errorf("glossary: entry with empty verb")
		}
		if _, dup := g.entries[v]; dup {
			return nil, fmt.Errorf("glossary: duplicate verb %q", v)
		}
		if e.Symmetric && e.Reverse != "" {
			return nil, fmt.Errorf("glossary: %q is symmetric but declares a reverse", v)
		}
		if e.SourcePool != "" {
			if _, err := domain.ParsePool(e.SourcePool); err != nil {
				return nil, fmt.Errorf("glossary: %q: %w", v, err)
			}
		}
		if e.TargetPool != "" {
			if _, err := domain.ParsePool(e.TargetPool); err != nil {
				return nil, fmt.Errorf("glossary: %q: %w", v, err)
			}
		}
		e.Verb = v
		e.Reverse = normalize(e.Reverse)
		g.entries[v] = e
		if e.Reverse != "" {
			g.reverse[e.Reverse] = v
		}
	}
	if _, ok := g.entries[FallbackVerb]; !ok {
		return nil, fmt.Errorf("glossary: missing fallback verb %q", FallbackVerb)
	}
	for raw, def := range f.Aliases {
		target := normalize(def.Verb)
		if _, fwd := g.entries[target]; !fwd {
			if _, rev := g.reverse[target]; !rev {
				return nil, fmt.Errorf("glossary: alias %q targets unknown verb %q", raw, target)
			}
		}
		if def.Confidence <= 0 || def.Confidence > 1 {
			return nil, fmt.Errorf("glossary: alias %q has confidence %v", raw, def.Confidence)
		}
		g.aliases[normalize(raw)] = aliasDef{Verb: target, Confidence: def.Confidence}
	}
	return g, nil
}

// Contains reports membership of the closed set, forward or reverse form.
func (g *Glossary) Contains(verb string) bool {
	v := normalize(verb)
	if _, ok := g.entries[v]; ok {
		return true
	}
	_, ok := g.reverse[v]
	return ok
}

// Entry returns the forward entry for a forward verb.
func (g *Glossary) Entry(verb string) (Entry, bool) {
	e, ok := g.entries[normalize(verb)]
	return e, ok
}

// Resolve maps a raw verb onto the vocabulary. Resolution order: exact
// forward match, known reverse form, fuzzy alias with reduced confidence and
// an advisory warning, then the connects_to fallback with low confidence.
// Resolve never fails; callers enforce their own confidence floor.
func (g *Glossary) Resolve(rawVerb string, sourcePool, targetPool domain.Pool) Resolution {
	v := normalize(rawVerb)

	if e, ok := g.entries[v]; ok {
		return Resolution{Verb: e.Verb, Reverse: e.Reverse, Symmetric: e.Symmetric, Confidence: 1.0}
	}

	if fwd, ok := g.reverse[v]; ok {
		e := g.entries[fwd]
		return Resolution{Verb: e.Verb, Reverse: e.Reverse, Symmetric: e.Symmetric, Inverted: true, Confidence: 1.0}
	}

	if a, ok := g.aliases[v]; ok {
		res := Resolution{
			Confidence: a.Confidence,
			Warning:    fmt.Sprintf("verb %q mapped to %q", v, a.Verb),
		}
		if e, fwd := g.entries[a.Verb]; fwd {
			res.Verb, res.Reverse, res.Symmetric = e.Verb, e.Reverse, e.Symmetric
		} else {
			e := g.entries[g.reverse[a.Verb]]
			res.Verb, res.Reverse, res.Symmetric, res.Inverted = e.Verb, e.Reverse, e.Symmetric, true
		}
		res.Warning = fmt.Sprintf("verb %q mapped to %q", v, res.Verb)
		return res
	}

	return Resolution{
		Verb:       FallbackVerb,
		Symmetric:  g.entries[FallbackVerb].Symmetric,
		Confidence: FallbackConfidence,
		Warning:    fmt.Sprintf("verb %q not in glossary, falling back to %q", v, FallbackVerb),
	}
}

// Validate enforces glossary membership, pool constraints, and the self-loop
// prohibition for an edge about to be written. The verb may be a forward or
// reverse form; constraints flip for reverse forms.
func (g *Glossary) Validate(verb string, sourcePool, targetPool domain.Pool, sourceKey, targetKey string) error {
	v := normalize(verb)

	if sourcePool == targetPool && sourceKey == targetKey {
		return fmt.Errorf("self-loop rejected for %s/%s", sourcePool, sourceKey)
	}

	e, ok := g.entries[v]
	if !ok {
		fwd, rev := g.reverse[v]
		if !rev {
			return fmt.Errorf("verb %q not in glossary", v)
		}
		e = g.entries[fwd]
		sourcePool, targetPool = targetPool, sourcePool
	}

	if e.SourcePool != "" && string(sourcePool) != e.SourcePool {
		return fmt.Errorf("verb %q requires source pool %q, got %q", e.Verb, e.SourcePool, sourcePool)
	}
	if e.TargetPool != "" && string(targetPool) != e.TargetPool {
		return fmt.Errorf("verb %q requires target pool %q, got %q", e.Verb, e.TargetPool, targetPool)
	}
	return nil
}

// Verbs returns every forward verb, for report output.
func (g *Glossary) Verbs() []string {
	out := make([]string, 0, len(g.entries))
	for v := range g.entries {
		out = append(out, v)
	}
	return out
}

func normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Join(strings.FieldsFunc(s, func(r rune) bool {
		return r == ' ' || r == '-' || r == '\t'
	}), "_")
}
