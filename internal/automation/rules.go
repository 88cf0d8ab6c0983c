package automation

import (
	"fmt"
	"slices"
	"sync"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

// RuleSet holds the administrator-configured settlement rules. Rules are
// read-only to the evaluator; the set itself may be updated at runtime.
type RuleSet struct {
	mu    sync.RWMutex
	rules []*domain.SettlementRule
}

// NewRuleSet creates an empty rule set.
func NewRuleSet() *RuleSet {
	return &RuleSet{}
}

// Add registers a rule. Later rules never shadow earlier ones: Match returns
// the first scoping hit in registration order.
func (r *RuleSet) Add(rule *domain.SettlementRule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, rule)
}

// Match returns the first rule whose scoping conditions cover the
// settlement, or nil.
func (r *RuleSet) Match(s *domain.Settlement) *domain.SettlementRule {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rule := range r.rules {
		if ruleApplies(rule, s) {
			return rule
		}
	}
	return nil
}

func ruleApplies(rule *domain.SettlementRule, s *domain.Settlement) bool {
	if len(rule.AssetTypes) > 0 && !slices.Contains(rule.AssetTypes, s.AssetType) {
		return false
	}
	if len(rule.PaymentMethods) > 0 && !slices.Contains(rule.PaymentMethods, s.PaymentMethod) {
		return false
	}
	if len(rule.Parties) > 0 &&
		!slices.Contains(rule.Parties, s.PartyA) && !slices.Contains(rule.Parties, s.PartyB) {
		return false
	}
	if rule.MinAmount > 0 && s.Amount < rule.MinAmount {
		return false
	}
	if rule.MaxAmount > 0 && s.Amount > rule.MaxAmount {
		return false
	}
	return true
}

// checkRisk applies a rule's risk limits to a settlement about to be placed
// under automation.
func checkRisk(rule *domain.SettlementRule, s *domain.Settlement, disputeCount int) error {
	if rule.RiskMaxAmount > 0 && s.TotalValue > rule.RiskMaxAmount {
		return fmt.Errorf("total value %d exceeds rule limit %d: %w",
			s.TotalValue, rule.RiskMaxAmount, domain.ErrValidation)
	}
	if rule.MaxDisputes > 0 && disputeCount > rule.MaxDisputes {
		return fmt.Errorf("dispute count %d exceeds rule limit %d: %w",
			disputeCount, rule.MaxDisputes, domain.ErrValidation)
	}
	for _, party := range []string{s.PartyA, s.PartyB} {
		if slices.Contains(rule.BlacklistedParties, party) {
			return fmt.Errorf("party %s is blacklisted: %w", party, domain.ErrValidation)
		}
	}
	return nil
}
