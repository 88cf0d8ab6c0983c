package automation

import (
	"fmt"
	"strings"
	"time"

	"github.com/nathanyu/p2p-exchange/internal/domain"
)

// validateCondition rejects conditions whose operator makes no sense for
// their type, so tasks fail at registration rather than at runtime.
func validateCondition(c domain.Condition) error {
	switch c.Type {
	case domain.ConditionTimeElapsed:
		if c.Duration <= 0 {
			return fmt.Errorf("time_elapsed requires a positive duration: %w", domain.ErrValidation)
		}
		return requireOperator(c, domain.OperatorGreaterThan, domain.OperatorLessThan)
	case domain.ConditionAmount, domain.ConditionTotalValue, domain.ConditionDisputeCount:
		return requireOperator(c, domain.OperatorEquals, domain.OperatorGreaterThan, domain.OperatorLessThan)
	case domain.ConditionStatus, domain.ConditionAssetType, domain.ConditionPaymentMethod:
		if c.Text == "" {
			return fmt.Errorf("%s requires a text value: %w", c.Type, domain.ErrValidation)
		}
		return requireOperator(c, domain.OperatorEquals, domain.OperatorContains)
	default:
		return fmt.Errorf("unknown condition type %q: %w", c.Type, domain.ErrValidation)
	}
}

func requireOperator(c domain.Condition, allowed ...domain.Operator) error {
	for _, op := range allowed {
		if c.Operator == op {
			return nil
		}
	}
	return fmt.Errorf("operator %q not valid for %s: %w", c.Operator, c.Type, domain.ErrValidation)
}

// conditionMet evaluates one typed predicate against a settlement snapshot.
func conditionMet(c domain.Condition, s *domain.Settlement, now time.Time) bool {
	switch c.Type {
	case domain.ConditionTimeElapsed:
		return compareInt64(int64(now.Sub(s.CreatedAt)), int64(c.Duration), c.Operator)
	case domain.ConditionAmount:
		return compareInt64(s.Amount, c.Number, c.Operator)
	case domain.ConditionTotalValue:
		return compareInt64(s.TotalValue, c.Number, c.Operator)
	case domain.ConditionDisputeCount:
		var count int64
		if s.Dispute != nil {
			count = 1
		}
		return compareInt64(count, c.Number, c.Operator)
	case domain.ConditionStatus:
		return compareText(string(s.Status), c.Text, c.Operator)
	case domain.ConditionAssetType:
		return compareText(s.AssetType, c.Text, c.Operator)
	case domain.ConditionPaymentMethod:
		return compareText(s.PaymentMethod, c.Text, c.Operator)
	}
	return false
}

func compareInt64(have, want int64, op domain.Operator) bool {
	switch op {
	case domain.OperatorEquals:
		return have == want
	case domain.OperatorGreaterThan:
		return have > want
	case domain.OperatorLessThan:
		return have < want
	}
	return false
}

func compareText(have, want string, op domain.Operator) bool {
	switch op {
	case domain.OperatorEquals:
		return have == want
	case domain.OperatorContains:
		return strings.Contains(have, want)
	}
	return false
}
