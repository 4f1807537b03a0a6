package contextasm

import (
	"fmt"
	"strings"

	kmodels "github.com/BradA1878/model-exchange-framework-sub007/internal/knowledge/models"
)

// GraphContext wraps a knowledge-graph bundle for prompt rendering.
type GraphContext struct {
	Bundle *kmodels.ContextBundle
}

// Empty reports whether the bundle holds nothing worth rendering.
func (g *GraphContext) Empty() bool {
	return g == nil || g.Bundle == nil ||
		(len(g.Bundle.CentralEntities) == 0 && len(g.Bundle.RelatedEntities) == 0)
}

// Render formats the bundle as a compact text block for the system
// message. Entity names index the relationship lines.
func (g *GraphContext) Render() string {
	var b strings.Builder
	b.WriteString("## Knowledge Context\n")

	names := make(map[string]string)
	writeEntity := func(entity *kmodels.Entity) {
		names[entity.GetID()] = entity.Name
		fmt.Fprintf(&b, "- %s (%s", entity.Name, entity.Type)
		if len(entity.Aliases) > 0 {
			fmt.Fprintf(&b, ", aka %s", strings.Join(entity.Aliases, ", "))
		}
		b.WriteString(")\n")
	}

	if len(g.Bundle.CentralEntities) > 0 {
		b.WriteString("Central entities:\n")
		for _, entity := range g.Bundle.CentralEntities {
			writeEntity(entity)
		}
	}
	if len(g.Bundle.RelatedEntities) > 0 {
		b.WriteString("Related entities:\n")
		for _, entity := range g.Bundle.RelatedEntities {
			writeEntity(entity)
		}
	}
	if len(g.Bundle.Relationships) > 0 {
		b.WriteString("Relationships:\n")
		for _, rel := range g.Bundle.Relationships {
			from, to := rel.FromEntityID, rel.ToEntityID
			if name, ok := names[from]; ok {
				from = name
			}
			if name, ok := names[to]; ok {
				to = name
			}
			fmt.Fprintf(&b, "- %s -[%s]-> %s\n", from, rel.Type, to)
		}
	}

	return strings.TrimRight(b.String(), "\n")
}
