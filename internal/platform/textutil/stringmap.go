// Package textutil holds small string helpers shared by request decoding and free-text fields.
package textutil

import "strings"

// NormalizeKeys trims every value and folds keys to trimmed lower case. Blank keys are
// dropped, and a later duplicate of a folded key wins over an earlier one only when the
// earlier value is blank. Nil is returned when nothing survives.
func NormalizeKeys(values map[string]string) map[string]string {
	if len(values) == 0 {
		return nil
	}
	result := make(map[string]string, len(values))
	for key, value := range values {
		folded := strings.ToLower(strings.TrimSpace(key))
		if folded == "" {
			continue
		}
		value = strings.TrimSpace(value)
		if existing, ok := result[folded]; ok && existing != "" {
			continue
		}
		result[folded] = value
	}
	if len(result) == 0 {
		return nil
	}
	return result
}
