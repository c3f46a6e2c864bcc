package answer

import (
	"maps"
	"slices"
	"strings"

	"github.com/poiesic/docqa/core"
)

// FormatPassages renders passages as the XML context block given to the
// model. Metadata becomes document attributes in key order. An empty list
// renders as "<documents></documents>".
func FormatPassages(passages []*core.Passage) string {
	if len(passages) == 0 {
		return "<documents></documents>"
	}

	var sb strings.Builder
	sb.WriteString("<documents>\n")
	for i, p := range passages {
		if i > 0 {
			sb.WriteByte('\n')
		}
		writeDocument(&sb, p)
	}
	sb.WriteString("\n</documents>")
	return sb.String()
}

func writeDocument(sb *strings.Builder, p *core.Passage) {
	sb.WriteString("<document")
	for _, k := range slices.Sorted(maps.Keys(p.Metadata)) {
		sb.WriteByte(' ')
		sb.WriteString(k)
		sb.WriteString("='")
		sb.WriteString(strings.ReplaceAll(p.Metadata[k], "'", `\'`))
		sb.WriteByte('\'')
	}
	sb.WriteString(">\n<content>\n")
	sb.WriteString(p.Content)
	sb.WriteString("\n</content>\n</document>")
}
