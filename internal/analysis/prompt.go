package analysis

import (
	"fmt"
	"sort"
	"strings"

	"swot-insights/internal/models"
	"swot-insights/internal/parser"
	"swot-insights/internal/survey"
)

const systemPrompt = "Você é um consultor empresarial sênior especializado em pequenas e médias empresas brasileiras. " +
	"Responda sempre em português do Brasil, com linguagem clara e objetiva."

func buildPrompt(answers models.Answers, companyName string) string {
	var parts []string

	parts = append(parts, fmt.Sprintf("Elabore uma análise SWOT consultiva para a empresa %q com base nas respostas do questionário abaixo.", companyName))

	for _, step := range survey.DefaultCatalog().Steps() {
		rec := answers.Step(step.Name)
		if len(rec) == 0 {
			continue
		}
		parts = append(parts, fmt.Sprintf("\n%s:", step.Title))
		keys := make([]string, 0, len(rec))
		for k := range rec {
			if k == step.Name.FlagKey() {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			parts = append(parts, fmt.Sprintf("- %s: %s", k, formatValue(rec[k])))
		}
	}

	parts = append(parts, "\nInstruções:")
	parts = append(parts, "- Use exatamente os três títulos abaixo, nesta ordem, cada um em sua própria linha:")
	for _, d := range parser.Delimiters {
		parts = append(parts, "  "+d)
	}
	parts = append(parts, fmt.Sprintf("- Em %q liste forças, fraquezas, oportunidades e ameaças em tópicos.", parser.MatrixDelimiter))
	parts = append(parts, fmt.Sprintf("- Em %q escreva um diagnóstico em parágrafos curtos.", parser.DiagnosticDelimiter))
	parts = append(parts, fmt.Sprintf("- Em %q proponha ações classificadas em A (urgente), B (importante) e C (desejável).", parser.ActionPlanDelimiter))
	parts = append(parts, "- Não escreva nada antes do primeiro título.")

	return strings.Join(parts, "\n")
}

func formatValue(v interface{}) string {
	switch val := v.(type) {
	case []interface{}:
		items := make([]string, 0, len(val))
		for _, item := range val {
			items = append(items, fmt.Sprint(item))
		}
		return strings.Join(items, ", ")
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	default:
		return fmt.Sprint(val)
	}
}
