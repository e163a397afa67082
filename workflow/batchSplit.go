package workflow

import (
	"errors"

	"github.com/mmdatafocus/mes_backend/models"
	"github.com/shopspring/decimal"
)

// SplitQuantity divides a produced quantity into output batch sizes according
// to the resolved batch-size policy. The emitted quantities always re-sum to
// total exactly; rounding residue from the redistribution fallback lands on
// the last batch.
func SplitQuantity(total decimal.Decimal, sizePolicy models.ResolvedBatchSizePolicy, qtyPolicy models.ResolvedQuantityPolicy) ([]decimal.Decimal, error) {
	if !total.IsPositive() {
		return nil, errors.New("quantity to split must be positive")
	}

	// Unbounded policy, or the whole lot fits one batch.
	if sizePolicy.Max == nil || total.LessThanOrEqual(*sizePolicy.Max) {
		return []decimal.Decimal{total}, nil
	}

	preferred := sizePolicy.Preferred
	if !preferred.IsPositive() {
		preferred = *sizePolicy.Max
	}

	fullBatches := total.Div(preferred).Floor()
	n := int(fullBatches.IntPart())
	if n == 0 {
		// Q exceeds max but is below preferred; a single batch violates max,
		// so a lone partial batch is the only shape left.
		return []decimal.Decimal{total}, nil
	}
	remainder := total.Sub(preferred.Mul(fullBatches))

	batches := make([]decimal.Decimal, 0, n+1)
	for i := 0; i < n; i++ {
		batches = append(batches, preferred)
	}

	if remainder.IsZero() {
		return batches, nil
	}

	if remainder.GreaterThanOrEqual(sizePolicy.Min) || sizePolicy.AllowPartial {
		batches = append(batches, remainder)
		return batches, nil
	}

	// Remainder below min and partial batches disallowed: redistribute it
	// evenly so no batch falls under min. Share rounding follows the
	// quantity policy; the residue goes to the last batch.
	share := qtyPolicy.ApplyRounding(remainder.Div(fullBatches))
	running := decimal.Zero
	for i := 0; i < n-1; i++ {
		batches[i] = preferred.Add(share)
		running = running.Add(batches[i])
	}
	batches[n-1] = total.Sub(running)
	return batches, nil
}
