package render

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"swot-insights/internal/models"
	"swot-insights/internal/parser"
)

func sampleResult() models.FinalResult {
	return models.FinalResult{
		MatrixText:         "#### Forças\n- Equipe experiente\n- Boa localização\n\n#### Fraquezas\n1. Caixa desorganizado",
		DiagnosticText:     "A empresa tem base sólida.",
		ActionPlanText:     "A) Organizar o caixa\nB) Investir em redes sociais",
		Ready:              true,
		PrioritizedActions: []string{"Organizar o caixa"},
	}
}

func TestMarkdown(t *testing.T) {
	md := Markdown(" Padaria Central ", sampleResult())

	assert.True(t, strings.HasPrefix(md, "# Análise SWOT: Padaria Central\n"))
	assert.Contains(t, md, "## Matriz SWOT\n\n### Forças\n\n- Equipe experiente\n- Boa localização\n")
	assert.Contains(t, md, "### Fraquezas\n\nCaixa desorganizado\n")
	assert.Contains(t, md, "## Diagnóstico Consultivo\n\nA empresa tem base sólida.\n")
	assert.Contains(t, md, "- A) Organizar o caixa\n")
	assert.Contains(t, md, "## Ações priorizadas\n\n- [x] Organizar o caixa\n")
	assert.NotContains(t, md, "não está pronta")
}

func TestMarkdown_NotReady(t *testing.T) {
	md := Markdown("", parser.Fallback("generate-swot", sampleResult().CreatedAt))
	assert.True(t, strings.HasPrefix(md, "# Análise SWOT\n"))
	assert.Contains(t, md, "não está pronta")
	assert.Contains(t, md, parser.MatrixPlaceholder)
	assert.NotContains(t, md, "Ações priorizadas")
}

func TestTerminal_Plain(t *testing.T) {
	out, err := Terminal(Markdown("Padaria Central", sampleResult()), Options{Plain: true, Width: 80})
	require.NoError(t, err)
	assert.Contains(t, out, "Padaria Central")
	assert.Contains(t, out, "Equipe experiente")
	assert.NotContains(t, out, "\x1b[")
}
