package assembler

import (
	"fmt"
	"strings"

	"github.com/viktorbezdek/mkb/internal/mkql"
)

// DefaultRenderer renders a row using only the fields already present
// on core.Document, with no external templating dependency: full is a
// `# id (type)` heading plus the body, summary is the same heading plus
// the first body paragraph, frontmatter is a four-line
// id/type/observed_at/confidence block, and snippet is the body
// flattened to one truncated line. This mirrors the teacher's own plain string-building
// style for note content (internal/indexer/frontmatter.go has no
// templating engine either).
type DefaultRenderer struct{}

const snippetMaxRunes = 200

func (DefaultRenderer) Render(row mkql.Row, format Format) (string, error) {
	doc := row.Doc
	switch format {
	case FormatFull:
		return fmt.Sprintf("# %s (%s)\n\n%s", doc.ID, doc.Type, doc.Body), nil
	case FormatSummary:
		return fmt.Sprintf("# %s (%s)\n\n%s", doc.ID, doc.Type, firstParagraph(doc.Body)), nil
	case FormatFrontmatter:
		return fmt.Sprintf("id: %s\ntype: %s\nobserved_at: %s\nconfidence: %.2f",
			doc.ID, doc.Type, doc.ObservedAt.Format("2006-01-02"), doc.Confidence), nil
	case FormatSnippet:
		return truncate(oneLine(doc.Body), snippetMaxRunes), nil
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}

func firstParagraph(body string) string {
	parts := strings.SplitN(strings.TrimSpace(body), "\n\n", 2)
	return strings.TrimSpace(parts[0])
}

func oneLine(body string) string {
	return strings.Join(strings.Fields(body), " ")
}

func truncate(s string, maxRunes int) string {
	runes := []rune(s)
	if len(runes) <= maxRunes {
		return s
	}
	return string(runes[:maxRunes]) + "…"
}
