package workflow

import (
	"testing"

	"github.com/mmdatafocus/mes_backend/models"
	"github.com/shopspring/decimal"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func decPtr(s string) *decimal.Decimal {
	d := dec(s)
	return &d
}

func defaultQtyPolicy() models.ResolvedQuantityPolicy {
	return models.GlobalDefaultQuantityPolicy()
}

func TestSplitQuantityFitsOneBatch(t *testing.T) {
	policy := models.ResolvedBatchSizePolicy{
		Min:          dec("10"),
		Max:          decPtr("50"),
		Preferred:    dec("40"),
		AllowPartial: true,
	}
	got, err := SplitQuantity(dec("50"), policy, defaultQtyPolicy())
	if err != nil {
		t.Fatalf("SplitQuantity: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(dec("50")) {
		t.Fatalf("expected [50], got %v", got)
	}
}

func TestSplitQuantityUnboundedPolicy(t *testing.T) {
	got, err := SplitQuantity(dec("12345.67"), models.UnboundedBatchSizePolicy(), defaultQtyPolicy())
	if err != nil {
		t.Fatalf("SplitQuantity: %v", err)
	}
	if len(got) != 1 || !got[0].Equal(dec("12345.67")) {
		t.Fatalf("expected one unsplit batch, got %v", got)
	}
}

func TestSplitQuantityExactMultiple(t *testing.T) {
	policy := models.ResolvedBatchSizePolicy{
		Min:          dec("5"),
		Max:          decPtr("25"),
		Preferred:    dec("25"),
		AllowPartial: true,
	}
	got, err := SplitQuantity(dec("100"), policy, defaultQtyPolicy())
	if err != nil {
		t.Fatalf("SplitQuantity: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("expected 4 batches, got %v", got)
	}
	for i, q := range got {
		if !q.Equal(dec("25")) {
			t.Fatalf("batch %d: expected 25, got %s", i, q)
		}
	}
}

func TestSplitQuantityPartialRemainder(t *testing.T) {
	policy := models.ResolvedBatchSizePolicy{
		Min:          dec("10"),
		Max:          decPtr("50"),
		Preferred:    dec("40"),
		AllowPartial: true,
	}
	got, err := SplitQuantity(dec("95"), policy, defaultQtyPolicy())
	if err != nil {
		t.Fatalf("SplitQuantity: %v", err)
	}
	want := []string{"40", "40", "15"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if !got[i].Equal(dec(want[i])) {
			t.Fatalf("batch %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestSplitQuantityRedistributesSmallRemainder(t *testing.T) {
	// Remainder 5 is below min 10 and partial batches are disallowed, so it
	// spreads across the full batches instead of forming a runt batch.
	policy := models.ResolvedBatchSizePolicy{
		Min:          dec("10"),
		Max:          decPtr("45"),
		Preferred:    dec("40"),
		AllowPartial: false,
	}
	got, err := SplitQuantity(dec("85"), policy, defaultQtyPolicy())
	if err != nil {
		t.Fatalf("SplitQuantity: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 batches, got %v", got)
	}
	sum := decimal.Zero
	for i, q := range got {
		if q.LessThan(policy.Min) {
			t.Fatalf("batch %d fell under min: %s", i, q)
		}
		sum = sum.Add(q)
	}
	if !sum.Equal(dec("85")) {
		t.Fatalf("batches sum to %s, expected 85", sum)
	}
}

func TestSplitQuantitySumInvariant(t *testing.T) {
	policy := models.ResolvedBatchSizePolicy{
		Min:          dec("3"),
		Max:          decPtr("7"),
		Preferred:    dec("7"),
		AllowPartial: false,
	}
	for _, total := range []string{"8", "15", "22.5", "100", "701.0001"} {
		got, err := SplitQuantity(dec(total), policy, defaultQtyPolicy())
		if err != nil {
			t.Fatalf("SplitQuantity(%s): %v", total, err)
		}
		sum := decimal.Zero
		for _, q := range got {
			sum = sum.Add(q)
		}
		if !sum.Equal(dec(total)) {
			t.Fatalf("total %s: batches %v sum to %s", total, got, sum)
		}
	}
}

func TestSplitQuantityRejectsNonPositive(t *testing.T) {
	if _, err := SplitQuantity(decimal.Zero, models.UnboundedBatchSizePolicy(), defaultQtyPolicy()); err == nil {
		t.Fatal("expected error for zero quantity")
	}
}

func TestApportionResidueOnLastEdge(t *testing.T) {
	splits := []decimal.Decimal{dec("3"), dec("3"), dec("4")}
	consumed := dec("10")
	total := dec("10")
	qtyPolicy := defaultQtyPolicy()

	sum := decimal.Zero
	for i, child := range splits {
		edge := apportion(consumed, child, total, i == len(splits)-1, splits, qtyPolicy)
		sum = sum.Add(edge)
	}
	if !sum.Equal(consumed) {
		t.Fatalf("edges sum to %s, expected %s", sum, consumed)
	}
}

func TestApportionUnevenShares(t *testing.T) {
	// 1/3 shares round at precision 4; the last edge absorbs the residue so
	// genealogy edges re-sum to the consumed quantity exactly.
	splits := []decimal.Decimal{dec("10"), dec("10"), dec("10")}
	consumed := dec("1")
	total := dec("30")
	qtyPolicy := defaultQtyPolicy()

	sum := decimal.Zero
	for i, child := range splits {
		sum = sum.Add(apportion(consumed, child, total, i == len(splits)-1, splits, qtyPolicy))
	}
	if !sum.Equal(consumed) {
		t.Fatalf("edges sum to %s, expected 1", sum)
	}
}

func TestApportionSingleChildTakesAll(t *testing.T) {
	splits := []decimal.Decimal{dec("17")}
	got := apportion(dec("9.5"), splits[0], dec("17"), true, splits, defaultQtyPolicy())
	if !got.Equal(dec("9.5")) {
		t.Fatalf("expected 9.5, got %s", got)
	}
}
