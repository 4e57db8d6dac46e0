// File: internal/engine/diff.go
package engine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/google/go-cmp/cmp"
)

// promptDiff renders a line-oriented diff between two instruction texts.
func promptDiff(before, after string) string {
	if before == after {
		return ""
	}
	return cmp.Diff(strings.Split(before, "\n"), strings.Split(after, "\n"))
}

// nextVersion bumps the minor component of a semver-style version string.
// Unparseable versions restart at 1.1.0 rather than failing the promotion.
func nextVersion(version string) string {
	parts := strings.SplitN(version, ".", 3)
	if len(parts) != 3 {
		return "1.1.0"
	}
	major, err1 := strconv.Atoi(parts[0])
	minor, err2 := strconv.Atoi(parts[1])
	if err1 != nil || err2 != nil {
		return "1.1.0"
	}
	return fmt.Sprintf("%d.%d.0", major, minor+1)
}
