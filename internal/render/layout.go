package render

// Layout names how a response and its diagrams should be arranged.
type Layout string

const (
	LayoutTextOnly  Layout = "text_only"   // No diagrams
	LayoutCompact   Layout = "compact"     // Short text, single diagram side by side
	LayoutTwoColumn Layout = "two_column"  // Longer text, one or two diagrams
	LayoutStacked   Layout = "stacked"     // Many diagrams stacked under the text
)

// compactTextLimit bounds the text length for the compact side-by-side
// arrangement.
const compactTextLimit = 800

// ChooseLayout picks an arrangement from the response text and the number
// of diagrams generated for it.
func ChooseLayout(text string, diagramCount int) Layout {
	if diagramCount == 0 {
		return LayoutTextOnly
	}
	if diagramCount > 2 {
		return LayoutStacked
	}
	if diagramCount == 1 && len(text) <= compactTextLimit {
		return LayoutCompact
	}
	return LayoutTwoColumn
}

// ColumnRatio returns the text/diagram width ratio for the two column
// arrangement. Longer text gets more room.
func ColumnRatio(m Metrics) (text, diagram int) {
	if m.NeedsScrolling {
		return 3, 2
	}
	return 2, 1
}
