package config

import (
	"os"
	"strings"
)

// StrictBomEnforcement turns BOM consumption-tolerance violations into hard
// failures instead of warnings recorded on the confirmation.
//
// Set via env:
// - BOM_STRICT=true
func StrictBomEnforcement() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("BOM_STRICT")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// StrictQuantityPolicy makes a missing default quantity policy fatal for a
// plant instead of falling back to the built-in global default.
//
// Set via env:
// - QUANTITY_POLICY_STRICT=true
func StrictQuantityPolicy() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("QUANTITY_POLICY_STRICT")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
