package extension

import (
	"math"

	"github.com/fyrsmithlabs/ptw/internal/settings"
)

// StoredTimeout converts a value read from synced storage to minutes. The
// options page stores numbers; strings are accepted the way the options
// form accepts them. It reports false for anything else, including
// fractional or non-positive numbers.
func StoredTimeout(v interface{}) (int, bool) {
	switch n := v.(type) {
	case float64:
		if n < 1 || n != math.Trunc(n) || n > math.MaxInt32 {
			return 0, false
		}
		return int(n), true
	case int:
		if n < 1 {
			return 0, false
		}
		return n, true
	case string:
		minutes, err := settings.ParseTimeoutInput(n)
		if err != nil {
			return 0, false
		}
		return minutes, true
	default:
		return 0, false
	}
}
