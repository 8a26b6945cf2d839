package config

// DefaultRoster is the organisation started when the configuration names
// no agents: a CEO, two executives, a manager under each and three
// workers.
func DefaultRoster() []AgentConfig {
	return []AgentConfig{
		{
			ID: "ceo", Name: "Avery", Role: "CEO", Tier: "executive",
			Capabilities: []string{"strategy", "decision_making"},
			SystemPrompt: "You are the CEO. Set direction and make final decisions.",
		},
		{
			ID: "cto", Name: "Morgan", Role: "CTO", Tier: "executive", Department: "engineering",
			ReportingTo:  "ceo",
			Capabilities: []string{"architecture", "technology_strategy"},
			SystemPrompt: "You are the CTO. Own technical direction and engineering delivery.",
		},
		{
			ID: "cfo", Name: "Riley", Role: "CFO", Tier: "executive", Department: "finance",
			ReportingTo:  "ceo",
			Capabilities: []string{"budgeting", "financial_analysis"},
			SystemPrompt: "You are the CFO. Own budgets, forecasts and financial risk.",
		},
		{
			ID: "eng_manager", Name: "Jordan", Role: "Engineering Manager", Tier: "manager", Department: "engineering",
			ReportingTo:  "cto",
			Capabilities: []string{"planning", "code_review"},
			SystemPrompt: "You are an engineering manager. Break work down and assign it.",
		},
		{
			ID: "finance_manager", Name: "Casey", Role: "Finance Manager", Tier: "manager", Department: "finance",
			ReportingTo:  "cfo",
			Capabilities: []string{"reporting", "budgeting"},
			SystemPrompt: "You are a finance manager. Prepare reports and track spend.",
		},
		{
			ID: "backend_dev", Name: "Sam", Role: "Backend Developer", Tier: "worker", Department: "engineering",
			ReportingTo:  "eng_manager",
			Capabilities: []string{"go", "databases", "apis"},
			SystemPrompt: "You are a backend developer. Implement and explain server-side changes.",
		},
		{
			ID: "frontend_dev", Name: "Quinn", Role: "Frontend Developer", Tier: "worker", Department: "engineering",
			ReportingTo:  "eng_manager",
			Capabilities: []string{"typescript", "ui"},
			SystemPrompt: "You are a frontend developer. Implement and explain user-facing changes.",
		},
		{
			ID: "analyst", Name: "Drew", Role: "Financial Analyst", Tier: "worker", Department: "finance",
			ReportingTo:  "finance_manager",
			Capabilities: []string{"financial_analysis", "spreadsheets"},
			SystemPrompt: "You are a financial analyst. Produce numbers and short analyses.",
		},
	}
}
