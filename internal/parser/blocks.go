package parser

import (
	"regexp"
	"strings"

	"swot-insights/internal/models"
)

// Block is one display paragraph of a section.
type Block struct {
	Heading string   `json:"heading,omitempty"`
	Items   []string `json:"items,omitempty"`
	Raw     string   `json:"raw,omitempty"`
}

// Display is the presentation structure of a final result, one block list
// per section.
type Display struct {
	Matrix     []Block `json:"matrix"`
	Diagnostic []Block `json:"diagnostic"`
	ActionPlan []Block `json:"action_plan"`
}

// Sections splits every section of fr into display blocks.
func Sections(fr models.FinalResult) Display {
	return Display{
		Matrix:     Blocks(fr.MatrixText),
		Diagnostic: Blocks(fr.DiagnosticText),
		ActionPlan: Blocks(fr.ActionPlanText),
	}
}

var listMarker = regexp.MustCompile(`^\s*(?:[-*•+]|\d+[.)])\s+`)

// Blocks splits a section into blank-line separated paragraphs. A first line
// starting with '#' becomes the heading; the remaining lines become items with
// bullet and number markers removed. Input it cannot structure comes back as
// a single raw block.
func Blocks(text string) (blocks []Block) {
	defer func() {
		if r := recover(); r != nil {
			blocks = []Block{{Raw: text}}
		}
	}()

	for _, para := range paragraphs(text) {
		var b Block
		lines := para
		if strings.HasPrefix(lines[0], "#") {
			b.Heading = strings.TrimSpace(strings.TrimLeft(lines[0], "#"))
			lines = lines[1:]
		}
		for _, l := range lines {
			item := strings.TrimSpace(listMarker.ReplaceAllString(l, ""))
			if item != "" {
				b.Items = append(b.Items, item)
			}
		}
		if b.Heading == "" && len(b.Items) == 0 {
			continue
		}
		blocks = append(blocks, b)
	}

	if len(blocks) == 0 && strings.TrimSpace(text) != "" {
		return []Block{{Raw: text}}
	}
	return blocks
}

func paragraphs(text string) [][]string {
	var out [][]string
	var cur []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		if strings.TrimSpace(line) == "" {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
			continue
		}
		cur = append(cur, strings.TrimSpace(line))
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}
