package narrative

import (
	"errors"
	"fmt"
	"strings"

	"github.com/pythagorakase/nexus-sub005/internal/budget"
)

var (
	ErrMissingPackage = errors.New("context package required for prompt assembly")
)

// AssemblePrompt renders a budgeted context package into the generation
// prompt. The package arrives already trimmed; assembly adds structure, not
// content.
func AssemblePrompt(pkg *budget.ContextPackage) (string, error) {
	if pkg == nil {
		return "", ErrMissingPackage
	}

	var b strings.Builder

	b.WriteString("You are the narrator of an ongoing serialized story. ")
	b.WriteString("Continue the narrative in response to the user's input, staying ")
	b.WriteString("consistent with the evidence and character state below.\n\n")

	b.WriteString("# User Input\n\n")
	b.WriteString(pkg.UserInput)
	b.WriteString("\n\n")

	if len(pkg.Entities) > 0 {
		b.WriteString("# Character State\n\n")
		for _, e := range pkg.Entities {
			fmt.Fprintf(&b, "**%s:** %s\n", e.Name, e.Summary)
			if e.Collapsed != "" {
				fmt.Fprintf(&b, "- %s\n", e.Collapsed)
			} else {
				for _, rel := range e.RelationshipDetail {
					fmt.Fprintf(&b, "- %s\n", rel)
				}
			}
			b.WriteString("\n")
		}
	}

	wroteHeader := false
	for _, sub := range pkg.Evidence {
		if len(sub.Items) == 0 {
			continue
		}
		if !wroteHeader {
			b.WriteString("# Retrieved Evidence\n\n")
			wroteHeader = true
		}
		fmt.Fprintf(&b, "## %s\n\n", sub.Query)
		for _, item := range sub.Items {
			fmt.Fprintf(&b, "- %s\n", item.Text)
		}
		b.WriteString("\n")
	}

	if pkg.RecentNarrative != "" {
		b.WriteString("# Recent Narrative\n\n")
		b.WriteString(pkg.RecentNarrative)
		b.WriteString("\n")
	}

	return b.String(), nil
}
