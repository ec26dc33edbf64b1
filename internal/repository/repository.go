package repository

import "strings"

// prefixColumns rewrites a comma-separated column list so every column is
// qualified with the given table alias.
func prefixColumns(columns, alias string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = alias + "." + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}
