// Package fips reports the FIPS 140-3 status of the running binary and
// enforces it when FILEZ_REQUIRE_FIPS=true.
package fips

import (
	"crypto/fips140"
	"errors"
	"os"
)

// EnvRequire makes Check fail when the binary is not in FIPS mode.
const EnvRequire = "FILEZ_REQUIRE_FIPS"

// ErrNotEnabled is returned by Check when FIPS mode is required but off.
var ErrNotEnabled = errors.New("FIPS 140-3 mode is required but not active: rebuild with GOFIPS140=latest or run with GODEBUG=fips140=on")

// Enabled reports whether FIPS 140-3 mode is active after Check has been called.
var Enabled bool

// Check records the FIPS status. It returns ErrNotEnabled only when
// FILEZ_REQUIRE_FIPS is "true" and the Go cryptographic module is not
// running in FIPS mode.
func Check() error {
	Enabled = fips140.Enabled()
	if Enabled || os.Getenv(EnvRequire) != "true" {
		return nil
	}
	return ErrNotEnabled
}
