// Package mentions finds tarot card names in prose so renderers can place
// card images next to the paragraphs that mention them.
package mentions

import (
	_ "embed"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Catalog maps a lowercase card name to its image asset. Several names may
// share an asset.
type Catalog map[string]string

// Card is one catalog entry as written in YAML.
type Card struct {
	Name    string   `yaml:"name"`
	Asset   string   `yaml:"asset"`
	Aliases []string `yaml:"aliases"`
}

type catalogFile struct {
	Cards []Card `yaml:"cards"`
}

//go:embed catalog.yaml
var defaultCatalogYAML []byte

var (
	defaultOnce     sync.Once
	defaultCatalog  Catalog
	defaultDetector *Detector
)

// DefaultCatalog returns the built-in 78-card catalog. The returned map is
// shared and must not be modified.
func DefaultCatalog() Catalog {
	defaultOnce.Do(func() {
		c, err := ParseCatalog(defaultCatalogYAML)
		if err != nil {
			panic(fmt.Sprintf("mentions: embedded catalog: %v", err))
		}
		defaultCatalog = c
		defaultDetector = Compile(c)
	})
	return defaultCatalog
}

// ParseCatalog decodes a YAML catalog.
func ParseCatalog(data []byte) (Catalog, error) {
	var f catalogFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	c := make(Catalog, len(f.Cards))
	for i, card := range f.Cards {
		if card.Name == "" || card.Asset == "" {
			return nil, fmt.Errorf("catalog entry %d: name and asset are required", i)
		}
		for _, name := range append([]string{card.Name}, card.Aliases...) {
			key := strings.ToLower(strings.TrimSpace(name))
			if prev, ok := c[key]; ok && prev != card.Asset {
				return nil, fmt.Errorf("catalog name %q maps to both %s and %s", key, prev, card.Asset)
			}
			c[key] = card.Asset
		}
	}
	return c, nil
}

// LoadCatalog reads a YAML catalog from r.
func LoadCatalog(r io.Reader) (Catalog, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return ParseCatalog(data)
}

// Mention is one card reference found in text.
type Mention struct {
	Name     string `json:"name"`
	Asset    string `json:"asset"`
	Reversed bool   `json:"reversed"`
}

// DisplayName is the name with each word capitalised, plus " (Reversed)"
// for reversed mentions.
func (m Mention) DisplayName() string {
	words := strings.Split(m.Name, " ")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	name := strings.Join(words, " ")
	if m.Reversed {
		name += " (Reversed)"
	}
	return name
}

type pattern struct {
	name string
	re   *regexp.Regexp
}

// Detector holds the compiled patterns of a catalog. It is safe for
// concurrent use.
type Detector struct {
	catalog  Catalog
	patterns []pattern
}

// Compile prepares a Detector for c. Names are tried longest first so that
// "knight of cups" claims its span before "cups" can. Matching ignores case
// in both the names and the text.
func Compile(c Catalog) *Detector {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if len(names[i]) != len(names[j]) {
			return len(names[i]) > len(names[j])
		}
		return names[i] < names[j]
	})

	d := &Detector{catalog: c, patterns: make([]pattern, len(names))}
	for i, name := range names {
		d.patterns[i] = pattern{
			name: name,
			re:   regexp.MustCompile(`\b` + regexp.QuoteMeta(strings.ToLower(name)) + `(\s+reversed)?\b`),
		}
	}
	return d
}

type span struct {
	start, end int
}

func (s span) overlaps(o span) bool {
	return s.start < o.end && o.start < s.end
}

// Detect returns the cards mentioned in text in order of first appearance.
// Overlapping matches keep the longer name, and a card shown in the same
// orientation twice is reported once.
func (d *Detector) Detect(text string) []Mention {
	lower := strings.ToLower(text)

	type hit struct {
		Mention
		pos int
	}
	var (
		hits     []hit
		accepted []span
	)
	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(lower, -1) {
			s := span{start: loc[0], end: loc[1]}
			clash := false
			for _, a := range accepted {
				if s.overlaps(a) {
					clash = true
					break
				}
			}
			if clash {
				continue
			}
			accepted = append(accepted, s)
			hits = append(hits, hit{
				Mention: Mention{Name: p.name, Asset: d.catalog[p.name], Reversed: loc[2] >= 0},
				pos:     s.start,
			})
		}
	}

	sort.SliceStable(hits, func(i, j int) bool { return hits[i].pos < hits[j].pos })

	type key struct {
		asset    string
		reversed bool
	}
	seen := make(map[key]bool, len(hits))
	out := make([]Mention, 0, len(hits))
	for _, h := range hits {
		k := key{h.Asset, h.Reversed}
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, h.Mention)
	}
	return out
}

// Detect is Compile(c).Detect(text). The default catalog's detector is
// compiled once and reused.
func Detect(text string, c Catalog) []Mention {
	return detectorFor(c).Detect(text)
}

func detectorFor(c Catalog) *Detector {
	def := DefaultCatalog()
	if len(c) == len(def) && sameMap(c, def) {
		return defaultDetector
	}
	return Compile(c)
}

func sameMap(a, b Catalog) bool {
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// Paragraph is a blank-line separated block of text and the cards it
// mentions.
type Paragraph struct {
	Text     string    `json:"text"`
	Mentions []Mention `json:"mentions"`
}

// Annotate splits text into paragraphs on blank lines and detects mentions
// in each one independently, so a card reappearing in a later paragraph is
// reported again there.
func Annotate(text string, c Catalog) []Paragraph {
	d := detectorFor(c)
	parts := strings.Split(text, "\n\n")
	out := make([]Paragraph, 0, len(parts))
	for _, part := range parts {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		out = append(out, Paragraph{Text: part, Mentions: d.Detect(part)})
	}
	return out
}
