package automation

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

func testSettlement() *domain.Settlement {
	return &domain.Settlement{
		SettlementID:  "st1",
		PartyA:        "alice",
		PartyB:        "bob",
		Amount:        1000,
		TotalValue:    855_000,
		AssetType:     "USDT",
		PaymentMethod: "bank_transfer",
	}
}

func TestRuleSet_Match(t *testing.T) {
	rules := NewRuleSet()
	rules.Add(&domain.SettlementRule{RuleID: "btc-only", AssetTypes: []string{"BTC"}})
	rules.Add(&domain.SettlementRule{RuleID: "big", MinAmount: 10_000})
	rules.Add(&domain.SettlementRule{RuleID: "usdt", AssetTypes: []string{"USDT"}})
	rules.Add(&domain.SettlementRule{RuleID: "catch-all"})

	t.Run("first scoping hit wins", func(t *testing.T) {
		rule := rules.Match(testSettlement())
		require.NotNil(t, rule)
		assert.Equal(t, "usdt", rule.RuleID)
	})

	t.Run("party scoping", func(t *testing.T) {
		scoped := NewRuleSet()
		scoped.Add(&domain.SettlementRule{RuleID: "carol", Parties: []string{"carol"}})
		assert.Nil(t, scoped.Match(testSettlement()))

		scoped.Add(&domain.SettlementRule{RuleID: "bob", Parties: []string{"bob"}})
		rule := scoped.Match(testSettlement())
		require.NotNil(t, rule)
		assert.Equal(t, "bob", rule.RuleID)
	})

	t.Run("amount bounds", func(t *testing.T) {
		scoped := NewRuleSet()
		scoped.Add(&domain.SettlementRule{RuleID: "mid", MinAmount: 500, MaxAmount: 2000})
		require.NotNil(t, scoped.Match(testSettlement()))

		small := testSettlement()
		small.Amount = 100
		assert.Nil(t, scoped.Match(small))
	})

	t.Run("empty set", func(t *testing.T) {
		assert.Nil(t, NewRuleSet().Match(testSettlement()))
	})
}

func TestCheckRisk(t *testing.T) {
	s := testSettlement()

	t.Run("within limits", func(t *testing.T) {
		rule := &domain.SettlementRule{RiskMaxAmount: 1_000_000, MaxDisputes: 2}
		assert.NoError(t, checkRisk(rule, s, 1))
	})

	t.Run("value over limit", func(t *testing.T) {
		rule := &domain.SettlementRule{RiskMaxAmount: 100_000}
		assert.ErrorIs(t, checkRisk(rule, s, 0), domain.ErrValidation)
	})

	t.Run("too many disputes", func(t *testing.T) {
		rule := &domain.SettlementRule{MaxDisputes: 1}
		assert.ErrorIs(t, checkRisk(rule, s, 2), domain.ErrValidation)
	})

	t.Run("blacklisted party", func(t *testing.T) {
		rule := &domain.SettlementRule{BlacklistedParties: []string{"bob"}}
		assert.ErrorIs(t, checkRisk(rule, s, 0), domain.ErrValidation)
	})

	t.Run("zero limits mean unconstrained", func(t *testing.T) {
		assert.NoError(t, checkRisk(&domain.SettlementRule{}, s, 5))
	})
}
