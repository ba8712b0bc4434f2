package survey

import (
	"swot-insights/internal/common/validation"
	"swot-insights/internal/models"
)

// Minimum number of answered base fields per step. These are product tuning
// values, kept as named constants.
const (
	StrengthsMinFilled       = 1
	WeaknessesMinFilled      = 8
	OpportunitiesMinFilled   = 7
	FinancialHealthMinFilled = 9
)

// Sentinel answers used by yes/no questions.
const (
	Yes = "Sim"
	No  = "Não"
)

// DebtJustificationThreshold is the debt slider value from which a
// justification becomes mandatory.
const DebtJustificationThreshold = 7

var yesNo = []string{Yes, No}

func text(key string) validation.FieldSpec {
	return validation.FieldSpec{Key: key, Kind: validation.KindText}
}

func slider(key string) validation.FieldSpec {
	return validation.FieldSpec{Key: key, Kind: validation.KindNumber, Min: validation.Float(0), Max: validation.Float(10)}
}

func choice(key string, options ...string) validation.FieldSpec {
	return validation.FieldSpec{Key: key, Kind: validation.KindChoice, Enum: options}
}

func multi(key string, options ...string) validation.FieldSpec {
	return validation.FieldSpec{Key: key, Kind: validation.KindMulti, Enum: options}
}

func required(f validation.FieldSpec) validation.FieldSpec {
	f.Required = true
	return f
}

func minLen(f validation.FieldSpec, n int) validation.FieldSpec {
	f.MinLength = n
	return f
}

func whenYes(f validation.FieldSpec, controlling string) validation.FieldSpec {
	f.When = &validation.Condition{Field: controlling, Equals: Yes}
	return f
}

func whenAtLeast(f validation.FieldSpec, controlling string, threshold float64) validation.FieldSpec {
	f.When = &validation.Condition{Field: controlling, AtLeast: validation.Float(threshold)}
	return f
}

func identificationSchema() validation.StepSchema {
	return validation.StepSchema{
		Name: string(models.StepIdentification),
		Fields: []validation.FieldSpec{
			required(minLen(text(models.CompanyNameField), 2)),
			required(choice("segment", "Comércio", "Indústria", "Serviços", "Agronegócio", "Tecnologia", "Outro")),
			text("city"),
			choice("employees", "1-5", "6-20", "21-50", "51-100", "100+"),
			choice("years_in_business", "Menos de 1 ano", "1-3 anos", "3-5 anos", "5-10 anos", "Mais de 10 anos"),
			text("respondent_role"),
		},
	}
}

func strengthsSchema() validation.StepSchema {
	return validation.StepSchema{
		Name:      string(models.StepStrengths),
		MinFilled: StrengthsMinFilled,
		Fields: []validation.FieldSpec{
			text("team_expertise"),
			text("customer_relationships"),
			text("product_quality"),
			text("brand_reputation"),
			text("location_advantage"),
			text("technology_assets"),
			text("process_efficiency"),
			text("pricing_power"),
			text("innovation_capacity"),
			text("other_strengths"),
		},
	}
}

func weaknessesSchema() validation.StepSchema {
	return validation.StepSchema{
		Name:      string(models.StepWeaknesses),
		MinFilled: WeaknessesMinFilled,
		Fields: []validation.FieldSpec{
			slider("management_skills"),
			slider("cash_control"),
			slider("marketing_presence"),
			slider("customer_service"),
			text("staff_turnover"),
			choice("process_documentation", Yes, No, "Parcial"),
			text("technology_gaps"),
			choice("supplier_dependence", yesNo...),
			text("main_bottleneck"),
			text("other_weaknesses"),
			whenYes(minLen(text("supplier_dependence_detail"), 5), "supplier_dependence"),
		},
	}
}

func opportunitiesSchema() validation.StepSchema {
	return validation.StepSchema{
		Name:      string(models.StepOpportunities),
		MinFilled: OpportunitiesMinFilled,
		Fields: []validation.FieldSpec{
			slider("market_growth"),
			text("new_segments"),
			text("partnerships"),
			multi("digital_channels", "Instagram", "WhatsApp", "Site próprio", "Marketplace", "Google", "LinkedIn"),
			choice("government_programs", yesNo...),
			text("new_products"),
			choice("export_potential", yesNo...),
			text("competitor_gaps"),
			text("seasonal_trends"),
			text("other_opportunities"),
			whenYes(minLen(text("government_programs_detail"), 5), "government_programs"),
		},
	}
}

func threatsSchema() validation.StepSchema {
	return validation.StepSchema{
		Name: string(models.StepThreats),
		Fields: []validation.FieldSpec{
			required(minLen(text("main_competitors"), 3)),
			required(slider("market_risk_level")),
			required(choice("regulatory_changes", yesNo...)),
			required(minLen(text("economic_impact"), 10)),
			required(choice("supplier_risk", yesNo...)),
			text("technology_disruption"),
			text("other_threats"),
			whenYes(minLen(text("regulatory_changes_detail"), 5), "regulatory_changes"),
			whenYes(minLen(text("supplier_risk_detail"), 5), "supplier_risk"),
		},
	}
}

func financialHealthSchema() validation.StepSchema {
	debt := slider("debt_level")
	debt.Default = float64(0)
	return validation.StepSchema{
		Name:      string(models.StepFinancialHealth),
		MinFilled: FinancialHealthMinFilled,
		Fields: []validation.FieldSpec{
			choice("monthly_revenue", "Até R$ 30 mil", "R$ 30-100 mil", "R$ 100-500 mil", "Acima de R$ 500 mil"),
			choice("profit_margin", "Negativa", "0-5%", "5-15%", "15-30%", "Acima de 30%"),
			validation.FieldSpec{Key: "cash_reserve_months", Kind: validation.KindNumber, Min: validation.Float(0), Max: validation.Float(24)},
			debt,
			choice("has_overdue_taxes", yesNo...),
			choice("separates_personal_finances", yesNo...),
			choice("uses_financial_software", yesNo...),
			validation.FieldSpec{Key: "receivables_days", Kind: validation.KindNumber, Min: validation.Float(0), Max: validation.Float(365)},
			validation.FieldSpec{Key: "payables_days", Kind: validation.KindNumber, Min: validation.Float(0), Max: validation.Float(365)},
			choice("revenue_trend", "Crescendo", "Estável", "Caindo"),
			text("main_cost_driver"),
			choice("investment_capacity", "Nenhuma", "Baixa", "Média", "Alta"),
			whenAtLeast(minLen(text("debt_justification"), 10), "debt_level", DebtJustificationThreshold),
			whenYes(minLen(text("overdue_taxes_detail"), 5), "has_overdue_taxes"),
		},
	}
}

func prioritiesSchema() validation.StepSchema {
	return validation.StepSchema{
		Name: string(models.StepPriorities),
		Fields: []validation.FieldSpec{
			required(multi("main_priorities",
				"Aumentar vendas", "Reduzir custos", "Organizar finanças", "Melhorar gestão de pessoas",
				"Digitalizar o negócio", "Expandir para novos mercados", "Lançar novos produtos")),
			required(choice("time_horizon", "3 meses", "6 meses", "12 meses")),
			choice("investment_budget", "Nenhum", "Até R$ 10 mil", "R$ 10-50 mil", "Acima de R$ 50 mil"),
			text("additional_notes"),
		},
	}
}

// stepSchemas returns every step policy in survey order.
func stepSchemas() map[models.StepName]validation.StepSchema {
	return map[models.StepName]validation.StepSchema{
		models.StepIdentification:  identificationSchema(),
		models.StepStrengths:       strengthsSchema(),
		models.StepWeaknesses:      weaknessesSchema(),
		models.StepOpportunities:   opportunitiesSchema(),
		models.StepThreats:         threatsSchema(),
		models.StepFinancialHealth: financialHealthSchema(),
		models.StepPriorities:      prioritiesSchema(),
	}
}
