// Package all registers every bundled driver module with registry.Default.
package all

import (
	// Registered for their init side effects.
	_ "github.com/labkit/instrumental/internal/drivers/funcgenerators/tektronix"
	_ "github.com/labkit/instrumental/internal/drivers/powermeters/thorlabs"
)
