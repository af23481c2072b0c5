// Package version compares dotted semantic version strings
// (major.minor.patch). Missing components are treated as zero and a leading
// "v" is tolerated.
package version

import (
	"strconv"
	"strings"
)

// Compare returns -1 when a < b, 0 when equal, 1 when a > b.
// Non-numeric components are treated as zero.
func Compare(a, b string) int {
	pa := parse(a)
	pb := parse(b)

	for i := 0; i < 3; i++ {
		if pa[i] < pb[i] {
			return -1
		}
		if pa[i] > pb[i] {
			return 1
		}
	}
	return 0
}

// Newer reports whether a is strictly newer than b.
func Newer(a, b string) bool {
	return Compare(a, b) > 0
}

func parse(v string) [3]int {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")

	var out [3]int
	parts := strings.SplitN(v, ".", 3)
	for i := 0; i < len(parts) && i < 3; i++ {
		// Strip pre-release/build suffixes like "3-rc1" or "3+meta"
		num := parts[i]
		if idx := strings.IndexAny(num, "-+"); idx >= 0 {
			num = num[:idx]
		}
		n, err := strconv.Atoi(num)
		if err != nil {
			continue
		}
		out[i] = n
	}
	return out
}
