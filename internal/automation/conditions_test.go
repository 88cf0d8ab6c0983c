package automation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

func TestValidateCondition(t *testing.T) {
	cases := []struct {
		name      string
		condition domain.Condition
		wantErr   bool
	}{
		{
			"time elapsed greater than",
			domain.Condition{Type: domain.ConditionTimeElapsed, Operator: domain.OperatorGreaterThan, Duration: time.Hour},
			false,
		},
		{
			"time elapsed without duration",
			domain.Condition{Type: domain.ConditionTimeElapsed, Operator: domain.OperatorGreaterThan},
			true,
		},
		{
			"time elapsed contains",
			domain.Condition{Type: domain.ConditionTimeElapsed, Operator: domain.OperatorContains, Duration: time.Hour},
			true,
		},
		{
			"amount equals",
			domain.Condition{Type: domain.ConditionAmount, Operator: domain.OperatorEquals, Number: 1000},
			false,
		},
		{
			"total value contains",
			domain.Condition{Type: domain.ConditionTotalValue, Operator: domain.OperatorContains, Number: 1000},
			true,
		},
		{
			"status equals",
			domain.Condition{Type: domain.ConditionStatus, Operator: domain.OperatorEquals, Text: "escrow"},
			false,
		},
		{
			"status without text",
			domain.Condition{Type: domain.ConditionStatus, Operator: domain.OperatorEquals},
			true,
		},
		{
			"payment method contains",
			domain.Condition{Type: domain.ConditionPaymentMethod, Operator: domain.OperatorContains, Text: "bank"},
			false,
		},
		{
			"unknown type",
			domain.Condition{Type: domain.ConditionType("moon_phase"), Operator: domain.OperatorEquals},
			true,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validateCondition(tc.condition)
			if tc.wantErr {
				assert.ErrorIs(t, err, domain.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestConditionMet(t *testing.T) {
	now := time.Now()
	s := &domain.Settlement{
		Amount:        1000,
		TotalValue:    855_000,
		Status:        domain.SettlementStatusEscrow,
		AssetType:     "USDT",
		PaymentMethod: "bank_transfer",
		CreatedAt:     now.Add(-25 * time.Hour),
	}

	cases := []struct {
		name      string
		condition domain.Condition
		want      bool
	}{
		{
			"elapsed greater than met",
			domain.Condition{Type: domain.ConditionTimeElapsed, Operator: domain.OperatorGreaterThan, Duration: 24 * time.Hour},
			true,
		},
		{
			"elapsed greater than unmet",
			domain.Condition{Type: domain.ConditionTimeElapsed, Operator: domain.OperatorGreaterThan, Duration: 48 * time.Hour},
			false,
		},
		{
			"elapsed less than",
			domain.Condition{Type: domain.ConditionTimeElapsed, Operator: domain.OperatorLessThan, Duration: 48 * time.Hour},
			true,
		},
		{
			"amount equals",
			domain.Condition{Type: domain.ConditionAmount, Operator: domain.OperatorEquals, Number: 1000},
			true,
		},
		{
			"total value less than",
			domain.Condition{Type: domain.ConditionTotalValue, Operator: domain.OperatorLessThan, Number: 1_000_000},
			true,
		},
		{
			"no dispute",
			domain.Condition{Type: domain.ConditionDisputeCount, Operator: domain.OperatorEquals, Number: 0},
			true,
		},
		{
			"status equals",
			domain.Condition{Type: domain.ConditionStatus, Operator: domain.OperatorEquals, Text: "escrow"},
			true,
		},
		{
			"payment method contains",
			domain.Condition{Type: domain.ConditionPaymentMethod, Operator: domain.OperatorContains, Text: "bank"},
			true,
		},
		{
			"asset type mismatch",
			domain.Condition{Type: domain.ConditionAssetType, Operator: domain.OperatorEquals, Text: "BTC"},
			false,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, conditionMet(tc.condition, s, now))
		})
	}

	t.Run("dispute count after filing", func(t *testing.T) {
		withDispute := *s
		withDispute.Dispute = &domain.Dispute{Status: domain.DisputeStatusOpen}
		cond := domain.Condition{Type: domain.ConditionDisputeCount, Operator: domain.OperatorGreaterThan, Number: 0}
		assert.True(t, conditionMet(cond, &withDispute, now))
	})
}
