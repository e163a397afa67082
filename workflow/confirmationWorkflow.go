package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"gorm.io/gorm"
)

var tracer = otel.Tracer("mes-confirmation")

// ConfirmProduction executes the whole confirmation as one all-or-nothing
// posting transaction: consume inputs, split and create output batches, link
// genealogy, credit outputs, record scrap, persist the aggregate, advance the
// operation/process state machine and emit the audit record. Any failure in
// any step rolls back every write, including batch creation and the consumed
// sequence value.
func ConfirmProduction(ctx context.Context, logger *logrus.Logger, input *models.NewConfirmation) (*models.ProductionConfirmation, error) {
	plantId, ok := utils.GetPlantIdFromContext(ctx)
	if !ok || plantId == "" {
		return nil, errors.New("plant id missing from context")
	}

	// Step 1: request shape. Rejected before any write.
	if err := input.Validate(); err != nil {
		return nil, err
	}
	for _, equipmentId := range input.EquipmentIds {
		exists, err := models.EquipmentExists(ctx, plantId, equipmentId)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("equipment %d does not exist", equipmentId)
		}
	}
	for _, operatorId := range input.OperatorIds {
		exists, err := models.OperatorExists(ctx, plantId, operatorId)
		if err != nil {
			return nil, err
		}
		if !exists {
			return nil, fmt.Errorf("operator %d does not exist", operatorId)
		}
	}

	ctx, span := tracer.Start(ctx, "ConfirmProduction")
	defer span.End()
	started := time.Now()

	db := config.GetDB()
	var confirmation *models.ProductionConfirmation
	err := db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var txErr error
		confirmation, txErr = postConfirmation(ctx, tx, logger, plantId, input)
		return txErr
	})

	config.ConfirmationDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		if errors.Is(err, utils.ErrConflict) {
			config.ConfirmationsTotal.WithLabelValues("conflict").Inc()
		} else {
			config.ConfirmationsTotal.WithLabelValues("failed").Inc()
		}
		return nil, err
	}
	config.ConfirmationsTotal.WithLabelValues("confirmed").Inc()
	return confirmation, nil
}

func postConfirmation(ctx context.Context, tx *gorm.DB, logger *logrus.Logger, plantId string, input *models.NewConfirmation) (*models.ProductionConfirmation, error) {
	// Confirmations for different operations are fully independent; the
	// advisory lock only serializes postings against the same operation.
	if err := AcquireOperationPostingLock(tx, plantId, input.OperationId); err != nil {
		return nil, err
	}
	defer ReleaseOperationPostingLock(tx, plantId, input.OperationId)

	operation, err := models.GetOperationForUpdate(tx, plantId, input.OperationId)
	if err != nil {
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "GetOperationForUpdate", input.OperationId, err)
		return nil, err
	}
	if !IsConfirmable(operation.Status) {
		return nil, fmt.Errorf("operation %d is %s, confirmation requires READY or IN_PROGRESS", operation.ID, operation.Status)
	}

	material, err := models.GetMaterial(tx, plantId, operation.MaterialId)
	if err != nil {
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "GetMaterial", operation.MaterialId, err)
		return nil, err
	}
	process, err := models.GetProcess(tx, plantId, operation.ProcessId)
	if err != nil {
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "GetProcess", operation.ProcessId, err)
		return nil, err
	}
	product, err := models.GetProduct(tx, plantId, process.ProductSku)
	if err != nil {
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "GetProduct", process.ProductSku, err)
		return nil, err
	}
	if product.IsActive != nil && !*product.IsActive {
		return nil, fmt.Errorf("product %s is inactive", product.Sku)
	}
	equipmentType, err := models.GetEquipmentType(tx, plantId, input.EquipmentIds[0])
	if err != nil {
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "GetEquipmentType", input.EquipmentIds[0], err)
		return nil, err
	}

	qtyPolicy, err := models.ResolveQuantityPolicy(tx, plantId, material.Code, operation.OperationType, equipmentType)
	if err != nil {
		// PolicyNotFound is a configuration error: surface loudly, the
		// confirmation cannot proceed until configuration is fixed.
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "ResolveQuantityPolicy", material.Code, err)
		return nil, err
	}

	producedQty := qtyPolicy.ApplyRounding(input.ProducedQty)
	if !qtyPolicy.CheckBounds(producedQty) {
		return nil, fmt.Errorf("produced quantity %s outside policy bounds", producedQty.String())
	}

	// Persist the header first so every ledger row can reference its id.
	now := time.Now()
	userName, _ := utils.GetUserNameFromContext(ctx)
	confirmation := models.ProductionConfirmation{
		PlantId:       plantId,
		OperationId:   operation.ID,
		ProducedQty:   producedQty,
		ScrapQty:      input.ScrapQty,
		StartTime:     input.StartTime,
		EndTime:       input.EndTime,
		Status:        models.ConfirmationStatusConfirmed,
		Warnings:      "[]",
		CorrelationId: correlationIdFromContext(ctx),
		ConfirmedBy:   userName,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := tx.Create(&confirmation).Error; err != nil {
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "Create confirmation", input.OperationId, err)
		return nil, err
	}

	// Step 2: consume inputs. The first failing line aborts everything; the
	// transaction guarantees no partial consumption survives.
	type consumedParent struct {
		batchId int
		qty     decimal.Decimal
	}
	var parents []consumedParent
	consumedByMaterial := make(map[int]decimal.Decimal)
	for _, lineInput := range input.ConsumedLines {
		qty := qtyPolicy.ApplyRounding(lineInput.Quantity)
		line, err := ConsumeInventory(ctx, tx, logger, plantId, lineInput.InventoryLineId, qty, models.MovementDocConfirmation, confirmation.ID)
		if err != nil {
			config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "ConsumeInventory", lineInput.InventoryLineId, err)
			return nil, err
		}
		consumedByMaterial[line.MaterialId] = consumedByMaterial[line.MaterialId].Add(qty)
		if line.BatchId != nil {
			parents = append(parents, consumedParent{batchId: *line.BatchId, qty: qty})
		}
		consumedLine := models.ConfirmationConsumedLine{
			ConfirmationId:  confirmation.ID,
			InventoryLineId: line.ID,
			MaterialId:      line.MaterialId,
			BatchId:         line.BatchId,
			Quantity:        qty,
			CreatedAt:       now,
		}
		if err := tx.Create(&consumedLine).Error; err != nil {
			return nil, err
		}
	}

	// Step 3: BOM tolerance check. Violations are warnings unless the plant
	// runs strict.
	warnings, err := checkBomTolerance(tx, plantId, process.ProductSku, producedQty, consumedByMaterial)
	if err != nil {
		return nil, err
	}
	if len(warnings) > 0 {
		if config.StrictBomEnforcement() {
			return nil, fmt.Errorf("BOM violation: %s", warnings[0])
		}
		warningsJson, _ := json.Marshal(warnings)
		if err := tx.Model(&models.ProductionConfirmation{}).
			Where("id = ?", confirmation.ID).
			Update("warnings", string(warningsJson)).Error; err != nil {
			return nil, err
		}
		confirmation.Warnings = string(warningsJson)
	}

	// Step 4: split the produced quantity and create output batches.
	sizePolicy, err := models.ResolveBatchSizePolicy(tx, plantId, process.ProductSku, operation.MaterialId, operation.OperationType, equipmentType)
	if err != nil {
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "ResolveBatchSizePolicy", process.ProductSku, err)
		return nil, err
	}
	splits, err := SplitQuantity(producedQty, *sizePolicy, *qtyPolicy)
	if err != nil {
		return nil, err
	}

	relationType := models.RelationTypeTransform
	if len(splits) > 1 {
		relationType = models.RelationTypeSplit
	}

	for i, splitQty := range splits {
		number, err := GenerateBatchNumber(ctx, tx, plantId, process.ProductSku, operation.OperationType, operation.Code, now)
		if err != nil {
			config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "GenerateBatchNumber", operation.Code, err)
			return nil, err
		}
		batch, err := CreateBatch(ctx, tx, logger, plantId, operation.MaterialId, material.Unit, splitQty, operation.ID, number)
		if err != nil {
			return nil, err
		}

		for _, parent := range parents {
			edgeQty := apportion(parent.qty, splitQty, producedQty, i == len(splits)-1, splits, *qtyPolicy)
			if err := LinkConsumption(ctx, tx, logger, plantId, parent.batchId, batch.ID, edgeQty, relationType, operation.ID); err != nil {
				config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "LinkConsumption", parent.batchId, err)
				return nil, err
			}
		}

		line, err := ProduceInventory(ctx, tx, logger, plantId, operation.MaterialId, splitQty, batch.ID, input.OutputLocation, models.MovementDocConfirmation, confirmation.ID)
		if err != nil {
			return nil, err
		}

		batchId := batch.ID
		outputLine := models.ConfirmationOutputLine{
			ConfirmationId: confirmation.ID,
			Kind:           models.OutputLineKindOutput,
			MaterialId:     operation.MaterialId,
			BatchId:        &batchId,
			Quantity:       splitQty,
			LocationId:     line.LocationId,
			CreatedAt:      now,
		}
		if err := tx.Create(&outputLine).Error; err != nil {
			return nil, err
		}
		config.BatchesProduced.Inc()
	}

	// Step 5: scrap is recorded but never becomes a traceable batch.
	if input.ScrapQty.IsPositive() {
		scrapLine := models.ConfirmationOutputLine{
			ConfirmationId: confirmation.ID,
			Kind:           models.OutputLineKindScrap,
			MaterialId:     operation.MaterialId,
			Quantity:       input.ScrapQty,
			CreatedAt:      now,
		}
		if err := tx.Create(&scrapLine).Error; err != nil {
			return nil, err
		}
		if err := RecordScrapMovement(ctx, tx, plantId, operation.MaterialId, input.ScrapQty, confirmation.ID); err != nil {
			return nil, err
		}
	}

	// Equipment/operator usage and recorded process parameters.
	for _, equipmentId := range input.EquipmentIds {
		resourceLine := models.ConfirmationResourceLine{
			ConfirmationId: confirmation.ID,
			Kind:           models.ResourceLineKindEquipment,
			ResourceId:     equipmentId,
			CreatedAt:      now,
		}
		if err := tx.Create(&resourceLine).Error; err != nil {
			return nil, err
		}
	}
	for _, operatorId := range input.OperatorIds {
		resourceLine := models.ConfirmationResourceLine{
			ConfirmationId: confirmation.ID,
			Kind:           models.ResourceLineKindOperator,
			ResourceId:     operatorId,
			CreatedAt:      now,
		}
		if err := tx.Create(&resourceLine).Error; err != nil {
			return nil, err
		}
	}
	for _, param := range input.ParameterValues {
		value := models.ConfirmationParameterValue{
			ConfirmationId: confirmation.ID,
			Name:           param.Name,
			Value:          param.Value,
			Unit:           param.Unit,
			CreatedAt:      now,
		}
		if err := tx.Create(&value).Error; err != nil {
			return nil, err
		}
	}

	// Step 7: state machine.
	if err := TransitionOperation(tx, operation, models.OperationStatusConfirmed); err != nil {
		return nil, err
	}
	if err := AdvanceProcess(tx, plantId, operation); err != nil {
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "AdvanceProcess", operation.ProcessId, err)
		return nil, err
	}

	// Step 8: audit, via the transactional outbox.
	if err := models.EmitAudit(ctx, tx, plantId, models.AuditEventConfirmation, models.MovementDocConfirmation, confirmation.ID, &confirmation); err != nil {
		config.LogError(logger, "confirmationWorkflow.go", "postConfirmation", "EmitAudit", confirmation.ID, err)
		return nil, err
	}

	return &confirmation, nil
}

// apportion distributes a parent's consumed quantity across the output
// batches proportionally to each child's share of the produced quantity.
// The last edge takes the residue so the edge quantities re-sum to the
// consumed quantity exactly.
func apportion(consumed decimal.Decimal, childQty decimal.Decimal, totalProduced decimal.Decimal, isLast bool, splits []decimal.Decimal, qtyPolicy models.ResolvedQuantityPolicy) decimal.Decimal {
	if len(splits) == 1 {
		return consumed
	}
	if !isLast {
		return qtyPolicy.ApplyRounding(consumed.Mul(childQty).Div(totalProduced))
	}
	allocated := decimal.Zero
	for _, qty := range splits[:len(splits)-1] {
		allocated = allocated.Add(qtyPolicy.ApplyRounding(consumed.Mul(qty).Div(totalProduced)))
	}
	return consumed.Sub(allocated)
}

// checkBomTolerance compares actual consumption per material against the
// active BOM requirement for the produced quantity.
func checkBomTolerance(tx *gorm.DB, plantId string, productSku string, producedQty decimal.Decimal, consumedByMaterial map[int]decimal.Decimal) ([]string, error) {
	requirements, err := models.GetActiveRequirements(tx, plantId, productSku)
	if err != nil {
		return nil, err
	}
	var warnings []string
	hundred := decimal.NewFromInt(100)
	for _, req := range requirements {
		expected := req.QtyRequired.Mul(producedQty)
		if req.YieldLossRatio.IsPositive() {
			expected = expected.Mul(decimal.NewFromInt(1).Add(req.YieldLossRatio))
		}
		if expected.IsZero() {
			continue
		}
		actual := consumedByMaterial[req.MaterialId]
		deviation := actual.Sub(expected).Abs().Div(expected).Mul(hundred)
		if deviation.GreaterThan(req.TolerancePct) {
			warnings = append(warnings, fmt.Sprintf(
				"material %d: consumed %s, BOM expects %s (±%s%%)",
				req.MaterialId, actual.String(), expected.String(), req.TolerancePct.String()))
		}
	}
	return warnings, nil
}
