package domain_test

import (
	"testing"

	"github.com/archivolt/mnemos/internal/domain"
)

func TestParsePoolCaseInsensitive(t *testing.T) {
	for _, in := range []string{"idea", "Idea", "IDEA", " Evolutionary "} {
		p, err := domain.ParsePool(in)
		if err != nil {
			t.Fatalf("parse %q: %v", in, err)
		}
		if !p.Valid() {
			t.Fatalf("parse %q: invalid pool %q", in, p)
		}
	}

	p, err := domain.ParsePool("Lexicon")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if p != domain.PoolLexicon {
		t.Fatalf("parse = %q, want %q", p, domain.PoolLexicon)
	}
}

func TestParsePoolRejectsUnknown(t *testing.T) {
	for _, in := range []string{"", "ideas", "graph", "idea pool"} {
		if _, err := domain.ParsePool(in); err == nil {
			t.Fatalf("parse %q: expected error", in)
		}
	}
}
