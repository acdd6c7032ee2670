package app

import (
	"arivara/pkg/domain"
)

// Credit cost model, shared with the research pipeline.
const (
	baseResearchCost        = 10
	creditsPerMillionTokens = 4500
	tokensPerMillion        = 1_000_000
)

var reportTypeMultipliers = map[string]float64{
	"research_report":        1.0,
	"resource_report":        1.0,
	"outline_report":         0.8,
	"custom_report":          1.2,
	"detailed_report":        2.0,
	"subtopic_report":        1.5,
	"deep":                   3.0,
	"multi_agents":           2.5,
	"quick_summary":          0.5,
	"comprehensive_analysis": 3.0,
}

// Balance returns the caller's current credit balance.
func (a *App) Balance(callerID, accountID string) (int, error) {
	account, err := a.Account(callerID, accountID)
	if err != nil {
		return 0, err
	}
	return account.Credits, nil
}

// ApplyTransaction applies a signed balance change and appends the matching
// ledger entry. Callers may operate only on their own ledger; the grant
// path used by operators goes through GrantCredits instead.
func (a *App) ApplyTransaction(callerID, accountID string, amount int, kind domain.TransactionKind, description string) (domain.CreditTransaction, error) {
	if err := requireOwner(callerID, accountID); err != nil {
		return domain.CreditTransaction{}, err
	}
	return a.store.ApplyTransaction(accountID, amount, kind, description)
}

// GrantCredits credits an account without an owner check. Reachable only
// through the service-token boundary (operator top-ups, promotional grants).
func (a *App) GrantCredits(accountID string, amount int, description string) (domain.CreditTransaction, error) {
	return a.store.ApplyTransaction(accountID, amount, domain.KindCredit, description)
}

// ListTransactions returns the caller's ledger entries, newest first.
func (a *App) ListTransactions(callerID, accountID string, limit, offset int) ([]domain.CreditTransaction, error) {
	if err := requireOwner(callerID, accountID); err != nil {
		return nil, err
	}
	if _, ok, err := a.store.GetAccount(accountID); err != nil {
		return nil, err
	} else if !ok {
		return nil, domain.ErrNotFound
	}
	return a.store.ListTransactions(accountID, normalizeLimit(limit), offset)
}

// EstimateResearchCost estimates the credit cost of a research request from
// its report type and query length: base cost, report-type multiplier, plus
// one credit per 500 characters of query, never below one credit.
func EstimateResearchCost(reportType string, queryLen int) int {
	multiplier, ok := reportTypeMultipliers[reportType]
	if !ok {
		multiplier = 1.0
	}
	lengthMultiplier := 1 + float64(queryLen)/500
	cost := int(float64(baseResearchCost) * multiplier * lengthMultiplier)
	if cost < 1 {
		return 1
	}
	return cost
}

// CreditsFromTokenUsage converts a token-usage payload to credits at 4500
// credits per million tokens, minimum one. It reads total_tokens when
// present and falls back to prompt+completion sums; the payload shape is
// otherwise treated as opaque.
func CreditsFromTokenUsage(usage map[string]any) int {
	total := usageNumber(usage, "total_tokens")
	if total == 0 {
		prompt := usageNumber(usage, "total_prompt_tokens")
		if prompt == 0 {
			prompt = usageNumber(usage, "prompt_tokens")
		}
		completion := usageNumber(usage, "total_completion_tokens")
		if completion == 0 {
			completion = usageNumber(usage, "completion_tokens")
		}
		total = prompt + completion
	}
	if total <= 0 {
		return 1
	}
	credits := int(total/tokensPerMillion*creditsPerMillionTokens + 0.5)
	if credits < 1 {
		return 1
	}
	return credits
}

func usageNumber(usage map[string]any, key string) float64 {
	switch v := usage[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	case int64:
		return float64(v)
	default:
		return 0
	}
}

func normalizeLimit(limit int) int {
	const defaultLimit = 50
	if limit <= 0 {
		return defaultLimit
	}
	return limit
}
