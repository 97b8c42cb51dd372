package ranking

import (
	"context"
	"fmt"
	"strings"

	"contentmill/internal/pipeline"
)

// GeneratorReorderer asks a text generator to reorder the top items.
type GeneratorReorderer struct {
	Generator pipeline.Generator
	// Audience is an optional line describing who the content is for.
	Audience string
}

func (g GeneratorReorderer) Reorder(ctx context.Context, top []Ranked) (string, error) {
	return g.Generator.Generate(ctx, BuildReorderPrompt(top, g.Audience))
}

// BuildReorderPrompt lists the candidates with their deterministic scores
// and asks for a JSON array of ids.
func BuildReorderPrompt(top []Ranked, audience string) string {
	var sb strings.Builder
	sb.WriteString("You are an editor choosing which drafts to publish first.\n\n")
	if audience != "" {
		sb.WriteString("Audience: " + audience + "\n\n")
	}
	sb.WriteString("### Drafts (current order)\n")
	for _, r := range top {
		sb.WriteString(fmt.Sprintf("- id=%s rank=%d score=%.1f title=%q reason=%s\n",
			r.Artifact.ID, r.Rank, r.Score, r.Artifact.Display, r.Reason))
	}
	sb.WriteString(`
## Instructions

Reorder the drafts by expected reader value. Use only the ids listed above.
Output a JSON array of id strings, best first.
`)
	return sb.String()
}
