package workflow_test

import (
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/mmdatafocus/mes_backend/config"
	"github.com/mmdatafocus/mes_backend/models"
	"github.com/mmdatafocus/mes_backend/utils"
)

// A material-specific policy beats the plant default row; deactivating it
// falls back to the default row, then to the built-in global default, and a
// strict plant with no default row is a configuration error.
func TestQuantityPolicyResolutionFallback(t *testing.T) {
	if strings.TrimSpace(os.Getenv("INTEGRATION_TESTS")) == "" {
		t.Skip("set INTEGRATION_TESTS=1 to run integration tests (requires docker)")
	}

	_, plantId := setupIntegrationEnv(t)
	db := config.GetDB()

	matCode := "RM-QP"
	specific := models.QuantityPolicy{
		PlantId:      plantId,
		MaterialCode: &matCode,
		Precision:    1,
		Rounding:     models.RoundingRuleFloor,
		Unit:         "kg",
		IsDefault:    utils.NewFalse(),
		IsActive:     utils.NewTrue(),
	}
	mustCreate(t, db, &specific)
	defaultRow := models.QuantityPolicy{
		PlantId:   plantId,
		Precision: 2,
		Rounding:  models.RoundingRuleCeiling,
		Unit:      "kg",
		IsDefault: utils.NewTrue(),
		IsActive:  utils.NewTrue(),
	}
	mustCreate(t, db, &defaultRow)

	resolved, err := models.ResolveQuantityPolicy(db, plantId, matCode, "CUT", "PRESS")
	if err != nil {
		t.Fatalf("ResolveQuantityPolicy: %v", err)
	}
	if resolved.Precision != 1 || resolved.Rounding != models.RoundingRuleFloor {
		t.Fatalf("expected material-specific policy, got %+v", resolved)
	}

	// Deactivate the specific row; the plant default row takes over.
	if err := db.Model(&models.QuantityPolicy{}).Where("id = ?", specific.ID).
		Update("is_active", 0).Error; err != nil {
		t.Fatalf("deactivate specific policy: %v", err)
	}
	resolved, err = models.ResolveQuantityPolicy(db, plantId, matCode, "CUT", "PRESS")
	if err != nil {
		t.Fatalf("ResolveQuantityPolicy after deactivation: %v", err)
	}
	if resolved.Precision != 2 || resolved.Rounding != models.RoundingRuleCeiling {
		t.Fatalf("expected plant default row, got %+v", resolved)
	}

	// No rows at all: built-in global default, value for value.
	if err := db.Model(&models.QuantityPolicy{}).Where("id = ?", defaultRow.ID).
		Update("is_active", 0).Error; err != nil {
		t.Fatalf("deactivate default policy: %v", err)
	}
	resolved, err = models.ResolveQuantityPolicy(db, plantId, matCode, "CUT", "PRESS")
	if err != nil {
		t.Fatalf("ResolveQuantityPolicy with no rows: %v", err)
	}
	want := models.GlobalDefaultQuantityPolicy()
	if resolved.Precision != want.Precision || resolved.Rounding != want.Rounding ||
		resolved.MinQty != nil || resolved.MaxQty != nil {
		t.Fatalf("expected built-in global default %+v, got %+v", want, resolved)
	}

	// Strict plants refuse to run without a configured default.
	t.Setenv("QUANTITY_POLICY_STRICT", "true")
	_, err = models.ResolveQuantityPolicy(db, plantId, matCode, "CUT", "PRESS")
	if !errors.Is(err, utils.ErrPolicyNotFound) {
		t.Fatalf("expected ErrPolicyNotFound under strict config, got %v", err)
	}
}
