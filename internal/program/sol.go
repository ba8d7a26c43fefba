package program

import (
	"strconv"
	"strings"
)

const LamportsPerSOL uint64 = 1_000_000_000

// FormatSOL renders lamports as a decimal SOL amount without trailing zeros.
func FormatSOL(lamports uint64) string {
	whole := strconv.FormatUint(lamports/LamportsPerSOL, 10)
	frac := lamports % LamportsPerSOL
	if frac == 0 {
		return whole
	}
	f := strconv.FormatUint(frac, 10)
	f = strings.Repeat("0", 9-len(f)) + f
	return whole + "." + strings.TrimRight(f, "0")
}
