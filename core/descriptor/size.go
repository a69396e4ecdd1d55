package descriptor

import (
	"fmt"
	"math"
)

var binaryUnits = []string{"KiB", "MiB", "GiB", "TiB", "PiB", "EiB"}

// FormatSize renders n bytes in 1024-based units with one decimal.
func FormatSize(n int64) string {
	if n < 1024 {
		return fmt.Sprintf("%d B", n)
	}
	value := float64(n) / 1024
	unit := 0
	for unit < len(binaryUnits)-1 && math.Round(value*10)/10 >= 1024 {
		value /= 1024
		unit++
	}
	return fmt.Sprintf("%.1f %s", value, binaryUnits[unit])
}
