package graphrag

import "strings"

// Milestone is a fixed progress checkpoint inferred from a keyword match
// in streamed log text. The external tool offers no structured progress
// channel, so this heuristic is all there is.
type Milestone struct {
	Keywords []string // all must appear (case-insensitive) in the line
	Percent  int
	Label    string
}

// milestones are checked in order; the first match wins. The order mirrors
// the pipeline's stage sequence.
var milestones = []Milestone{
	{Keywords: []string{"load_input"}, Percent: 10, Label: "Loading documents"},
	{Keywords: []string{"text_units"}, Percent: 20, Label: "Creating text units"},
	{Keywords: []string{"extract_graph", "starting"}, Percent: 30, Label: "Extracting entities"},
	{Keywords: []string{"extract graph progress"}, Percent: 50, Label: "Extracting graph"},
	{Keywords: []string{"finalize_graph"}, Percent: 60, Label: "Finalizing graph"},
	{Keywords: []string{"communities"}, Percent: 70, Label: "Creating communities"},
	{Keywords: []string{"community_reports"}, Percent: 80, Label: "Generating reports"},
	{Keywords: []string{"embeddings"}, Percent: 90, Label: "Generating embeddings"},
	{Keywords: []string{"pipeline complete"}, Percent: 100, Label: "Complete"},
}

// Classify maps a log line to a progress milestone. The second return
// value is false when the line matches no milestone.
func Classify(line string) (Milestone, bool) {
	lower := strings.ToLower(line)
	for _, m := range milestones {
		matched := true
		for _, kw := range m.Keywords {
			if !strings.Contains(lower, kw) {
				matched = false
				break
			}
		}
		if matched {
			return m, true
		}
	}
	return Milestone{}, false
}
