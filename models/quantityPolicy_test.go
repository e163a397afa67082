package models_test

import (
	"testing"
	"time"

	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
)

func dec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func TestApplyRoundingRules(t *testing.T) {
	cases := []struct {
		rule      models.RoundingRule
		precision int32
		in        string
		want      string
	}{
		{models.RoundingRuleHalfUp, 2, "1.005", "1.01"},
		{models.RoundingRuleHalfUp, 2, "1.004", "1.00"},
		{models.RoundingRuleHalfDown, 2, "1.005", "1.00"},
		{models.RoundingRuleHalfDown, 2, "1.006", "1.01"},
		{models.RoundingRuleCeiling, 2, "1.001", "1.01"},
		{models.RoundingRuleCeiling, 2, "1.00", "1.00"},
		{models.RoundingRuleFloor, 2, "1.009", "1.00"},
		{models.RoundingRuleHalfUp, 0, "2.5", "3"},
		{models.RoundingRuleHalfDown, 0, "2.5", "2"},
		{models.RoundingRuleHalfUp, 4, "0.00005", "0.0001"},
	}
	for _, tc := range cases {
		policy := models.ResolvedQuantityPolicy{Precision: tc.precision, Rounding: tc.rule}
		got := policy.ApplyRounding(dec(t, tc.in))
		if !got.Equal(dec(t, tc.want)) {
			t.Errorf("%s(%s, precision %d): expected %s, got %s", tc.rule, tc.in, tc.precision, tc.want, got)
		}
	}
}

func TestCheckBounds(t *testing.T) {
	min := dec(t, "1")
	max := dec(t, "100")
	policy := models.ResolvedQuantityPolicy{Precision: 4, Rounding: models.RoundingRuleHalfUp, MinQty: &min, MaxQty: &max}

	if !policy.CheckBounds(dec(t, "1")) {
		t.Error("min boundary should pass")
	}
	if !policy.CheckBounds(dec(t, "100")) {
		t.Error("max boundary should pass")
	}
	if policy.CheckBounds(dec(t, "0.9999")) {
		t.Error("below min should fail")
	}
	if policy.CheckBounds(dec(t, "100.0001")) {
		t.Error("above max should fail")
	}

	unbounded := models.GlobalDefaultQuantityPolicy()
	if !unbounded.CheckBounds(dec(t, "999999999")) {
		t.Error("unbounded policy rejects nothing")
	}
}

func TestPickQuantityPolicyMostSpecificWins(t *testing.T) {
	exact := models.QuantityPolicy{
		ID:            1,
		MaterialCode:  strPtr("RM-100"),
		OperationType: strPtr("CUT"),
		EquipmentType: strPtr("PRESS"),
	}
	materialOnly := models.QuantityPolicy{ID: 2, MaterialCode: strPtr("RM-100")}
	defaultRow := models.QuantityPolicy{ID: 3, IsDefault: utils.NewTrue()}

	got := models.PickQuantityPolicy([]models.QuantityPolicy{defaultRow, materialOnly, exact})
	if got == nil || got.ID != exact.ID {
		t.Fatalf("expected exact 3-field match to win, got %+v", got)
	}

	got = models.PickQuantityPolicy([]models.QuantityPolicy{defaultRow, materialOnly})
	if got == nil || got.ID != materialOnly.ID {
		t.Fatalf("expected material-specific policy to beat the default row, got %+v", got)
	}
}

func TestPickQuantityPolicyDefaultTierNeverWinsRanking(t *testing.T) {
	// Default rows and fully-wildcard rows belong to the fallback tier, so
	// the ranking pass skips them even when nothing else matches.
	defaultRow := models.QuantityPolicy{ID: 1, IsDefault: utils.NewTrue()}
	wildcard := models.QuantityPolicy{ID: 2, IsDefault: utils.NewFalse()}

	if got := models.PickQuantityPolicy([]models.QuantityPolicy{defaultRow, wildcard}); got != nil {
		t.Fatalf("expected no ranked winner, got %+v", got)
	}
	if got := models.PickQuantityPolicy(nil); got != nil {
		t.Fatalf("expected nil for empty candidates, got %+v", got)
	}
}

func TestPickQuantityPolicyUpdatedAtBreaksTies(t *testing.T) {
	older := models.QuantityPolicy{
		ID:           1,
		MaterialCode: strPtr("RM-100"),
		UpdatedAt:    time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
	}
	newer := models.QuantityPolicy{
		ID:           2,
		MaterialCode: strPtr("RM-100"),
		UpdatedAt:    time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC),
	}

	got := models.PickQuantityPolicy([]models.QuantityPolicy{older, newer})
	if got == nil || got.ID != newer.ID {
		t.Fatalf("expected most recently updated row to win the tie, got %+v", got)
	}
}

func TestGlobalDefaultQuantityPolicyValues(t *testing.T) {
	def := models.GlobalDefaultQuantityPolicy()
	if def.Precision != 4 {
		t.Errorf("expected precision 4, got %d", def.Precision)
	}
	if def.Rounding != models.RoundingRuleHalfUp {
		t.Errorf("expected HALF_UP, got %s", def.Rounding)
	}
	if def.MinQty != nil || def.MaxQty != nil {
		t.Error("built-in default carries no bounds")
	}
}
