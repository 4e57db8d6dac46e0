// File: internal/structcompare/compare.go
//
// Package structcompare decides whether two action outputs are structurally
// equivalent. Outputs produced by language models carry volatile fields
// (timestamps, generated IDs) that must not count as differences when a
// candidate prompt is scored against an expected answer.
package structcompare

import (
	"bytes"
	"regexp"
	"sort"
	"strings"

	"github.com/google/go-cmp/cmp"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Placeholder substituted for values recognized as volatile.
const placeholderVolatile = "__VOLATILE__"

// volatileKeyPatterns identify object keys whose values vary between
// otherwise-identical runs.
var volatileKeyPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(^|_)(id|uuid)$`),
	regexp.MustCompile(`(?i)(timestamp|created_at|updated_at|generated_at)$`),
	regexp.MustCompile(`(?i)(trace|request|session)_?id`),
}

// uuidPattern matches canonical UUID strings appearing as values.
var uuidPattern = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)

// Result reports the outcome of one comparison.
type Result struct {
	Equivalent bool
	IsJSON     bool
	Diff       string
}

// Comparer normalizes and compares outputs.
type Comparer struct {
	logger *zap.Logger
}

// New creates a Comparer.
func New(logger *zap.Logger) *Comparer {
	return &Comparer{logger: logger.Named("structcompare")}
}

// Compare reports whether got matches want. JSON inputs are compared
// structurally after normalization; anything else falls back to a trimmed
// text comparison.
func (c *Comparer) Compare(got, want []byte) *Result {
	if bytes.Equal(got, want) {
		return &Result{Equivalent: true, IsJSON: json.Valid(got) && len(got) > 0}
	}

	var dataGot, dataWant interface{}
	errGot := json.Unmarshal(got, &dataGot)
	errWant := json.Unmarshal(want, &dataWant)

	if errGot != nil || errWant != nil {
		// Mixed or plain-text outputs: compare whitespace-insensitively.
		equivalent := strings.TrimSpace(string(got)) == strings.TrimSpace(string(want))
		diff := ""
		if !equivalent {
			diff = "text outputs differ"
		}
		return &Result{Equivalent: equivalent, IsJSON: false, Diff: diff}
	}

	normGot := normalize(dataGot)
	normWant := normalize(dataWant)

	diff := cmp.Diff(normWant, normGot)
	if diff != "" {
		c.logger.Debug("Structural comparison found differences", zap.Int("diff_len", len(diff)))
	}

	return &Result{Equivalent: diff == "", IsJSON: true, Diff: diff}
}

// normalize recursively replaces volatile keys/values with placeholders and
// sorts string slices whose order carries no meaning in JSON object context.
func normalize(data interface{}) interface{} {
	switch v := data.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(v))
		for key, val := range v {
			if isVolatileKey(key) {
				out[key] = placeholderVolatile
				continue
			}
			out[key] = normalize(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(v))
		allStrings := true
		for i, item := range v {
			out[i] = normalize(item)
			if _, ok := out[i].(string); !ok {
				allStrings = false
			}
		}
		if allStrings && len(out) > 1 {
			sorted := make([]interface{}, len(out))
			copy(sorted, out)
			sort.Slice(sorted, func(i, j int) bool {
				return sorted[i].(string) < sorted[j].(string)
			})
			return sorted
		}
		return out
	case string:
		if uuidPattern.MatchString(v) {
			return placeholderVolatile
		}
		return v
	default:
		return data
	}
}

func isVolatileKey(key string) bool {
	for _, p := range volatileKeyPatterns {
		if p.MatchString(key) {
			return true
		}
	}
	return false
}
