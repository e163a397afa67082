package workflow_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
	"github.com/mmdatafocus/mes_backend/workflow"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Full confirm -> reject lifecycle against real MySQL + Redis. Covers batch
// splitting, numbering, genealogy, the inventory ledger and the compensating
// rejection path end to end.
func TestConfirmationLifecycle(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx, plantId := setupIntegrationEnv(t)
	db := config.GetDB()
	logger := config.GetLogger()

	fx := seedPlantFixtures(t, plantId)

	input := &models.NewConfirmation{
		OperationId: fx.op1.ID,
		ProducedQty: decimal.NewFromInt(95),
		StartTime:   time.Now().Add(-time.Hour),
		EndTime:     time.Now(),
		ConsumedLines: []models.NewConsumedLine{
			{InventoryLineId: fx.rawLine.ID, Quantity: decimal.NewFromInt(190)},
		},
		EquipmentIds:   []int{fx.equipment.ID},
		OperatorIds:    []int{fx.operator.ID},
		OutputLocation: fx.location.ID,
	}

	confirmation, err := workflow.ConfirmProduction(ctx, logger, input)
	if err != nil {
		t.Fatalf("ConfirmProduction: %v", err)
	}
	if confirmation.Status != models.ConfirmationStatusConfirmed {
		t.Fatalf("expected CONFIRMED, got %s", confirmation.Status)
	}

	full, err := models.GetConfirmation(db, plantId, confirmation.ID)
	if err != nil {
		t.Fatalf("GetConfirmation: %v", err)
	}

	// 95 under policy {min 10, max 50, preferred 40} splits into 40/40/15.
	var outputBatchIds []int
	wantSizes := []string{"40", "40", "15"}
	outputIdx := 0
	for _, line := range full.OutputLines {
		if line.Kind != models.OutputLineKindOutput {
			continue
		}
		if outputIdx >= len(wantSizes) {
			t.Fatalf("too many output lines: %+v", full.OutputLines)
		}
		if !line.Quantity.Equal(mustDec(t, wantSizes[outputIdx])) {
			t.Fatalf("output %d: expected %s, got %s", outputIdx, wantSizes[outputIdx], line.Quantity)
		}
		if line.BatchId == nil {
			t.Fatalf("output line without batch: %+v", line)
		}
		outputBatchIds = append(outputBatchIds, *line.BatchId)
		outputIdx++
	}
	if outputIdx != len(wantSizes) {
		t.Fatalf("expected %d output batches, got %d", len(wantSizes), outputIdx)
	}

	// Numbering: minimal DAILY scheme renders BATCH-001..003.
	for i, id := range outputBatchIds {
		batch, err := models.GetBatch(db, plantId, id)
		if err != nil {
			t.Fatalf("GetBatch(%d): %v", id, err)
		}
		want := fmt.Sprintf("BATCH-%03d", i+1)
		if batch.Number != want {
			t.Fatalf("batch %d: expected number %s, got %s", id, want, batch.Number)
		}
		if batch.Status != models.BatchStatusAvailable {
			t.Fatalf("batch %d: expected AVAILABLE, got %s", id, batch.Status)
		}
	}

	// Genealogy: every output descends from the consumed raw batch via SPLIT,
	// and edge quantities re-sum to the consumed quantity.
	edgeSum := decimal.Zero
	for _, id := range outputBatchIds {
		relations, err := models.GetParentRelations(db, plantId, id)
		if err != nil {
			t.Fatalf("GetParentRelations(%d): %v", id, err)
		}
		if len(relations) != 1 {
			t.Fatalf("batch %d: expected 1 parent edge, got %d", id, len(relations))
		}
		rel := relations[0]
		if rel.ParentBatchId != fx.rawBatch.ID {
			t.Fatalf("batch %d: wrong parent %d", id, rel.ParentBatchId)
		}
		if rel.RelationType != models.RelationTypeSplit {
			t.Fatalf("batch %d: expected SPLIT, got %s", id, rel.RelationType)
		}
		edgeSum = edgeSum.Add(rel.QtyConsumed)
	}
	if !edgeSum.Equal(decimal.NewFromInt(190)) {
		t.Fatalf("genealogy edges sum to %s, expected 190", edgeSum)
	}

	// Ledger: the raw line was debited, the movements carry the PC doc.
	rawLine, err := models.GetInventoryLine(db, plantId, fx.rawLine.ID)
	if err != nil {
		t.Fatalf("GetInventoryLine: %v", err)
	}
	if !rawLine.Quantity.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected raw line balance 10, got %s", rawLine.Quantity)
	}
	movements, err := models.GetMovementsForDoc(db, plantId, models.MovementDocConfirmation, confirmation.ID)
	if err != nil {
		t.Fatalf("GetMovementsForDoc: %v", err)
	}
	consumes, produces := 0, 0
	for _, m := range movements {
		switch m.MovementType {
		case models.MovementTypeConsume:
			consumes++
		case models.MovementTypeProduce:
			produces++
		}
	}
	if consumes != 1 || produces != 3 {
		t.Fatalf("expected 1 CONSUME + 3 PRODUCE movements, got %d/%d", consumes, produces)
	}

	// State machine: op1 confirmed, op2 readied, process in progress.
	op1, _ := models.GetOperation(db, plantId, fx.op1.ID)
	if op1.Status != models.OperationStatusConfirmed {
		t.Fatalf("op1: expected CONFIRMED, got %s", op1.Status)
	}
	op2, _ := models.GetOperation(db, plantId, fx.op2.ID)
	if op2.Status != models.OperationStatusReady {
		t.Fatalf("op2: expected READY, got %s", op2.Status)
	}
	process, _ := models.GetProcess(db, plantId, fx.process.ID)
	if process.Status != models.ProcessStatusInProgress {
		t.Fatalf("process: expected IN_PROGRESS, got %s", process.Status)
	}

	// Audit outbox row written inside the posting transaction.
	var auditCount int64
	if err := db.Model(&models.AuditRecord{}).
		Where("plant_id = ? AND event_type = ? AND reference_id = ?", plantId, models.AuditEventConfirmation, confirmation.ID).
		Count(&auditCount).Error; err != nil || auditCount != 1 {
		t.Fatalf("expected 1 audit record, got %d (err=%v)", auditCount, err)
	}

	// Reject and verify every effect is compensated.
	rejected, err := workflow.RejectConfirmation(ctx, logger, confirmation.ID, "wrong raw batch")
	if err != nil {
		t.Fatalf("RejectConfirmation: %v", err)
	}
	if rejected.Status != models.ConfirmationStatusRejected {
		t.Fatalf("expected REJECTED, got %s", rejected.Status)
	}

	rawLine, _ = models.GetInventoryLine(db, plantId, fx.rawLine.ID)
	if !rawLine.Quantity.Equal(decimal.NewFromInt(200)) {
		t.Fatalf("expected raw line restored to 200, got %s", rawLine.Quantity)
	}
	for _, id := range outputBatchIds {
		batch, _ := models.GetBatch(db, plantId, id)
		if batch.Status != models.BatchStatusConsumed {
			t.Fatalf("batch %d: expected CONSUMED after rejection, got %s", id, batch.Status)
		}
		lines, _ := models.GetInventoryLinesForBatch(db, plantId, id)
		for _, l := range lines {
			if !l.Quantity.IsZero() {
				t.Fatalf("batch %d line %d: expected drained to 0, got %s", id, l.ID, l.Quantity)
			}
		}
	}
	op1, _ = models.GetOperation(db, plantId, fx.op1.ID)
	if op1.Status != models.OperationStatusReady {
		t.Fatalf("op1 after rejection: expected READY, got %s", op1.Status)
	}

	// Double rejection must fail.
	if _, err := workflow.RejectConfirmation(ctx, logger, confirmation.ID, "again"); err == nil {
		t.Fatal("expected error on double rejection")
	}
}

func TestAllocationAndAdjustment(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	ctx, plantId := setupIntegrationEnv(t)
	db := config.GetDB()
	logger := config.GetLogger()

	material := models.Material{PlantId: plantId, Code: "FG-1", Name: "Finished Good", Unit: "kg", IsActive: utils.NewTrue()}
	mustCreate(t, db, &material)
	batch := models.Batch{PlantId: plantId, Number: "B-ALLOC-1", MaterialId: material.ID, Quantity: decimal.NewFromInt(40), Unit: "kg", Status: models.BatchStatusAvailable}
	mustCreate(t, db, &batch)
	batchId := batch.ID
	line := models.InventoryLine{PlantId: plantId, MaterialId: material.ID, BatchId: &batchId, State: models.InventoryStateAvailable, Quantity: decimal.NewFromInt(40)}
	mustCreate(t, db, &line)
	orderLine := models.OrderLine{PlantId: plantId, OrderRef: "SO-1", LineNumber: 1}
	mustCreate(t, db, &orderLine)

	first, err := workflow.AllocateBatch(ctx, logger, batch.ID, orderLine.ID, decimal.NewFromInt(30))
	if err != nil {
		t.Fatalf("AllocateBatch: %v", err)
	}

	// 30 of 40 committed; 15 more must not fit.
	if _, err := workflow.AllocateBatch(ctx, logger, batch.ID, orderLine.ID, decimal.NewFromInt(15)); !errors.Is(err, utils.ErrInsufficientAvailable) {
		t.Fatalf("expected ErrInsufficientAvailable, got %v", err)
	}

	availability, err := workflow.GetBatchAvailability(ctx, batch.ID)
	if err != nil {
		t.Fatalf("GetBatchAvailability: %v", err)
	}
	if !availability.Available.Equal(decimal.NewFromInt(10)) {
		t.Fatalf("expected available 10, got %s", availability.Available)
	}

	if _, err := workflow.ReleaseAllocation(ctx, logger, first.ID); err != nil {
		t.Fatalf("ReleaseAllocation: %v", err)
	}
	availability, _ = workflow.GetBatchAvailability(ctx, batch.ID)
	if !availability.Available.Equal(decimal.NewFromInt(40)) {
		t.Fatalf("expected available 40 after release, got %s", availability.Available)
	}

	// Released allocations cannot be released twice.
	if _, err := workflow.ReleaseAllocation(ctx, logger, first.ID); err == nil {
		t.Fatal("expected error releasing a RELEASED allocation")
	}

	// Quantity adjustment with mandatory reason.
	adjustment, err := workflow.AdjustBatchQuantity(ctx, logger, batch.ID, decimal.NewFromInt(35), models.AdjustmentTypeDamage, "two units crushed in transit")
	if err != nil {
		t.Fatalf("AdjustBatchQuantity: %v", err)
	}
	if !adjustment.OldQuantity.Equal(decimal.NewFromInt(40)) || !adjustment.NewQuantity.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("adjustment snapshot wrong: %+v", adjustment)
	}
	updated, _ := models.GetBatch(db, plantId, batch.ID)
	if !updated.Quantity.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected batch quantity 35, got %s", updated.Quantity)
	}
	backing, _ := models.GetInventoryLine(db, plantId, line.ID)
	if !backing.Quantity.Equal(decimal.NewFromInt(35)) {
		t.Fatalf("expected backing line 35, got %s", backing.Quantity)
	}
	if _, err := workflow.AdjustBatchQuantity(ctx, logger, batch.ID, decimal.NewFromInt(-1), models.AdjustmentTypeCorrection, "negative"); !errors.Is(err, utils.ErrNegativeResult) {
		t.Fatalf("expected ErrNegativeResult, got %v", err)
	}
	if _, err := workflow.AdjustBatchQuantity(ctx, logger, batch.ID, decimal.NewFromInt(30), models.AdjustmentTypeCorrection, ""); err == nil {
		t.Fatal("expected error for missing reason")
	}
}

type plantFixtures struct {
	rawMaterial models.Material
	outMaterial models.Material
	product     models.Product
	process     models.Process
	op1         models.Operation
	op2         models.Operation
	equipment   models.Equipment
	operator    models.Operator
	location    models.Location
	rawBatch    models.Batch
	rawLine     models.InventoryLine
}

func seedPlantFixtures(t *testing.T, plantId string) *plantFixtures {
	t.Helper()
	db := config.GetDB()
	fx := &plantFixtures{}

	fx.rawMaterial = models.Material{PlantId: plantId, Code: "RAW-1", Name: "Steel Sheet", Unit: "kg", IsActive: utils.NewTrue()}
	mustCreate(t, db, &fx.rawMaterial)
	fx.outMaterial = models.Material{PlantId: plantId, Code: "OUT-1", Name: "Cut Blank", Unit: "kg", IsActive: utils.NewTrue()}
	mustCreate(t, db, &fx.outMaterial)
	fx.product = models.Product{PlantId: plantId, Sku: "SKU-1", Name: "Blank", IsActive: utils.NewTrue()}
	mustCreate(t, db, &fx.product)

	fx.process = models.Process{PlantId: plantId, ProductSku: "SKU-1", Status: models.ProcessStatusNotStarted}
	mustCreate(t, db, &fx.process)
	fx.op1 = models.Operation{PlantId: plantId, ProcessId: fx.process.ID, Sequence: 1, Code: "CUT", OperationType: "CUT", MaterialId: fx.outMaterial.ID, IsMandatory: utils.NewTrue(), Status: models.OperationStatusReady}
	mustCreate(t, db, &fx.op1)
	fx.op2 = models.Operation{PlantId: plantId, ProcessId: fx.process.ID, Sequence: 2, Code: "PACK", OperationType: "PACK", MaterialId: fx.outMaterial.ID, IsMandatory: utils.NewTrue(), Status: models.OperationStatusNotStarted}
	mustCreate(t, db, &fx.op2)

	fx.equipment = models.Equipment{PlantId: plantId, Code: "PRESS-1", EquipmentType: "PRESS", IsActive: utils.NewTrue()}
	mustCreate(t, db, &fx.equipment)
	fx.operator = models.Operator{PlantId: plantId, Badge: "OP-001", Name: "Line Operator", IsActive: utils.NewTrue()}
	mustCreate(t, db, &fx.operator)
	fx.location = models.Location{PlantId: plantId, Code: "WH-1", Name: "Main Store"}
	mustCreate(t, db, &fx.location)

	// BOM: 2 kg of raw per kg produced, 10% tolerance.
	mustCreate(t, db, &models.BomRequirement{
		PlantId: plantId, ProductSku: "SKU-1", MaterialId: fx.rawMaterial.ID,
		QtyRequired: decimal.NewFromInt(2), TolerancePct: decimal.NewFromInt(10), IsActive: utils.NewTrue(),
	})

	minSize := decimal.NewFromInt(10)
	maxSize := decimal.NewFromInt(50)
	preferred := decimal.NewFromInt(40)
	mustCreate(t, db, &models.BatchSizePolicy{
		PlantId: plantId, MinBatchSize: &minSize, MaxBatchSize: &maxSize, PreferredSize: &preferred,
		AllowPartial: utils.NewTrue(), IsActive: utils.NewTrue(),
	})
	mustCreate(t, db, &models.BatchNumberConfig{
		PlantId: plantId, Prefix: "BATCH", Separator: "-", SequenceLength: 3,
		SequenceReset: models.SequenceResetDaily, IsActive: utils.NewTrue(),
	})

	fx.rawBatch = models.Batch{PlantId: plantId, Number: "B-RAW-1", MaterialId: fx.rawMaterial.ID, Quantity: decimal.NewFromInt(200), Unit: "kg", Status: models.BatchStatusAvailable}
	mustCreate(t, db, &fx.rawBatch)
	rawBatchId := fx.rawBatch.ID
	fx.rawLine = models.InventoryLine{PlantId: plantId, MaterialId: fx.rawMaterial.ID, BatchId: &rawBatchId, State: models.InventoryStateAvailable, Quantity: decimal.NewFromInt(200), LocationId: fx.location.ID}
	mustCreate(t, db, &fx.rawLine)

	return fx
}

func mustCreate(t *testing.T, db *gorm.DB, v interface{}) {
	t.Helper()
	if err := db.Create(v).Error; err != nil {
		t.Fatalf("create %T: %v", v, err)
	}
}

var sharedEnvReady bool

func setupIntegrationEnv(t *testing.T) (context.Context, string) {
	t.Helper()

	if !sharedEnvReady {
		redisName, redisPort := startRedisContainer(t)
		t.Cleanup(func() { _ = dockerRmForce(redisName) })
		mysqlName, mysqlPort := startMySQLContainer(t)
		t.Cleanup(func() { _ = dockerRmForce(mysqlName) })

		t.Setenv("REDIS_ADDRESS", fmt.Sprintf("127.0.0.1:%s", redisPort))
		t.Setenv("DB_USER", "root")
		t.Setenv("DB_PASSWORD", "testpw")
		t.Setenv("DB_HOST", "127.0.0.1")
		t.Setenv("DB_PORT", mysqlPort)
		t.Setenv("DB_NAME", "mes_test")

		config.ConnectDatabaseWithRetry()
		config.ConnectRedisWithRetry()
		models.MigrateTable()
		sharedEnvReady = true
	}

	plantId := fmt.Sprintf("plant-%d", time.Now().UnixNano())
	ctx := context.Background()
	ctx = utils.SetPlantIdInContext(ctx, plantId)
	ctx = utils.SetUserIdInContext(ctx, 1)
	ctx = utils.SetUserNameInContext(ctx, "Test")
	return ctx, plantId
}

func mustDec(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("bad decimal %q: %v", s, err)
	}
	return d
}

func startRedisContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("mes-test-redis-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-p", "127.0.0.1:0:6379",
		"redis:7-alpine",
	)
	if err != nil {
		t.Fatalf("start redis container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "6379/tcp")
	if err != nil {
		t.Fatalf("redis docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "redis-cli", "ping")
		if err == nil {
			return name, port
		}
		time.Sleep(250 * time.Millisecond)
	}
	t.Fatalf("redis did not become ready")
	return "", ""
}

func startMySQLContainer(t *testing.T) (containerName, hostPort string) {
	t.Helper()
	name := fmt.Sprintf("mes-test-mysql-%d", time.Now().UnixNano())
	out, err := dockerRun(
		"run", "-d", "--name", name,
		"-e", "MYSQL_ROOT_PASSWORD=testpw",
		"-e", "MYSQL_DATABASE=mes_test",
		"-p", "127.0.0.1:0:3306",
		"mysql:8.0",
		"--default-authentication-plugin=mysql_native_password",
	)
	if err != nil {
		t.Fatalf("start mysql container: %v\n%s", err, out)
	}
	port, err := dockerHostPort(name, "3306/tcp")
	if err != nil {
		t.Fatalf("mysql docker port: %v", err)
	}
	// wait until ready
	deadline := time.Now().Add(120 * time.Second)
	for time.Now().Before(deadline) {
		_, err := dockerRun("exec", name, "mysqladmin", "ping", "-h", "127.0.0.1", "-ptestpw", "--silent")
		if err == nil {
			return name, port
		}
		time.Sleep(500 * time.Millisecond)
	}
	t.Fatalf("mysql did not become ready")
	return "", ""
}

func dockerHostPort(container, portProto string) (string, error) {
	out, err := dockerRun("port", container, portProto)
	if err != nil {
		return "", fmt.Errorf("docker port: %w: %s", err, out)
	}
	// Example: "127.0.0.1:49154\n"
	re := regexp.MustCompile(`:(\d+)`)
	m := re.FindStringSubmatch(out)
	if len(m) != 2 {
		return "", fmt.Errorf("unexpected docker port output: %q", out)
	}
	return m[1], nil
}

func dockerRmForce(container string) error {
	if strings.TrimSpace(container) == "" {
		return nil
	}
	_, err := dockerRun("rm", "-f", container)
	return err
}

func dockerRun(args ...string) (string, error) {
	cmd := exec.Command("docker", args...)
	b, err := cmd.CombinedOutput()
	return string(b), err
}
