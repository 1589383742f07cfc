package export

import (
	_ "embed"
	"fmt"
	"io"

	"github.com/aymerick/raymond"

	"github.com/bbiangul/rhizome/mentions"
	"github.com/bbiangul/rhizome/reading"
)

// CardAssetPrefix is prepended to catalog assets to form image URLs.
const CardAssetPrefix = "cards/"

//go:embed html.hbs
var htmlSource string

const paragraphPartial = `{{#if separator}}<div class="reading-separator"><h4>Continued Exploration</h4></div>
{{else}}<p>{{text}}</p>
{{#each cards}}<div class="tarot-card-container"><img src="{{src}}" alt="{{name}}" class="tarot-card-image{{#if reversed}} reversed{{/if}}" loading="lazy"><div class="tarot-card-name">{{name}}</div></div>
{{/each}}{{/if}}`

var htmlTemplate = func() *raymond.Template {
	tpl := raymond.MustParse(htmlSource)
	tpl.RegisterPartial("paragraph", paragraphPartial)
	return tpl
}()

// HTML writes a standalone page. Paragraphs of the reading and synthesis
// are followed by the images of the cards they mention, in order of first
// mention. All text is escaped by the template.
func HTML(w io.Writer, doc Document, catalog mentions.Catalog) error {
	doc.normalize()

	cycles := make([]map[string]any, len(doc.Cycles))
	for i, c := range doc.Cycles {
		cycles[i] = map[string]any{
			"round":     c.Round,
			"nodeCount": c.NodeCount,
			"edgeCount": c.EdgeCount,
			"insights":  c.Insights,
		}
	}
	nodes := make([]map[string]any, len(doc.Nodes))
	for i, n := range doc.Nodes {
		nodes[i] = map[string]any{"label": n.Label, "type": string(n.Type)}
	}
	edges := make([]map[string]any, len(doc.Edges))
	for i, e := range doc.Edges {
		edges[i] = map[string]any{"from": string(e.From), "to": string(e.To), "relationship": e.Relationship}
	}

	ctx := map[string]any{
		"generated":   displayTime(doc.Timestamp),
		"readingType": doc.ReadingType,
		"mode":        doc.Mode,
		"question":    doc.Question,
		"reading":     paragraphs(doc.Reading, catalog),
		"synthesis":   paragraphs(doc.Synthesis, catalog),
		"cycles":      cycles,
		"nodes":       nodes,
		"edges":       edges,
	}

	out, err := htmlTemplate.Exec(ctx)
	if err != nil {
		return fmt.Errorf("rendering html export: %w", err)
	}
	_, err = io.WriteString(w, out)
	return err
}

func paragraphs(text string, catalog mentions.Catalog) []map[string]any {
	annotated := mentions.Annotate(text, catalog)
	out := make([]map[string]any, 0, len(annotated))
	for _, p := range annotated {
		if p.Text == reading.SeparatorToken {
			out = append(out, map[string]any{"separator": true})
			continue
		}
		cards := make([]map[string]any, len(p.Mentions))
		for i, m := range p.Mentions {
			cards[i] = map[string]any{
				"src":      CardAssetPrefix + m.Asset,
				"name":     m.DisplayName(),
				"reversed": m.Reversed,
			}
		}
		out = append(out, map[string]any{"text": p.Text, "cards": cards})
	}
	return out
}
