package config

import (
	"os"
	"strconv"
	"strings"
)

// LegacyMirrorEnabled controls whether lifecycle writes are mirrored back
// into the meta store under legacy keys. Keep enabled while any consumer
// still reads the legacy fields.
//
// Set via env:
// - LEGACY_MIRROR_ENABLED=false (default true)
func LegacyMirrorEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("LEGACY_MIRROR_ENABLED")))
	if v == "" {
		return true
	}
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// VerificationSampleSize is the number of already-migrated records the
// integrity check re-decodes from the meta store per run.
//
// Set via env:
// - MIGRATION_VERIFY_SAMPLE (default 25)
func VerificationSampleSize() int {
	v := strings.TrimSpace(os.Getenv("MIGRATION_VERIFY_SAMPLE"))
	if v == "" {
		return 25
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 25
	}
	return n
}
