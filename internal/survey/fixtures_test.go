package survey

import "swot-insights/internal/models"

// validInput holds one acceptable submission per step.
func validInput() map[models.StepName]map[string]interface{} {
	return map[models.StepName]map[string]interface{}{
		models.StepIdentification: {
			"company_name": "Padaria Central",
			"segment":      "Comércio",
		},
		models.StepStrengths: {
			"team_expertise": "Equipe experiente",
		},
		models.StepWeaknesses: {
			"management_skills":     5,
			"cash_control":          4,
			"marketing_presence":    3,
			"customer_service":      6,
			"staff_turnover":        "baixa",
			"process_documentation": "Parcial",
			"technology_gaps":       "sem ERP",
			"supplier_dependence":   No,
		},
		models.StepOpportunities: {
			"market_growth":       7,
			"new_segments":        "cafeteria",
			"partnerships":        "fornecedores locais",
			"digital_channels":    []interface{}{"Instagram", "WhatsApp"},
			"government_programs": No,
			"new_products":        "pães integrais",
			"export_potential":    No,
		},
		models.StepThreats: {
			"main_competitors":   "Rede Pão Bom",
			"market_risk_level":  5,
			"regulatory_changes": No,
			"economic_impact":    "Inflação de insumos alta",
			"supplier_risk":      No,
		},
		models.StepFinancialHealth: {
			"monthly_revenue":             "R$ 30-100 mil",
			"profit_margin":               "5-15%",
			"cash_reserve_months":         2,
			"debt_level":                  3,
			"has_overdue_taxes":           No,
			"separates_personal_finances": Yes,
			"uses_financial_software":     No,
			"receivables_days":            30,
			"payables_days":               45,
		},
		models.StepPriorities: {
			"main_priorities": []interface{}{"Aumentar vendas"},
			"time_horizon":    "6 meses",
		},
	}
}

func without(rec map[string]interface{}, keys ...string) map[string]interface{} {
	out := make(map[string]interface{}, len(rec))
	for k, v := range rec {
		out[k] = v
	}
	for _, k := range keys {
		delete(out, k)
	}
	return out
}

func with(rec map[string]interface{}, kv ...interface{}) map[string]interface{} {
	out := without(rec)
	for i := 0; i+1 < len(kv); i += 2 {
		out[kv[i].(string)] = kv[i+1]
	}
	return out
}
