package graphtools

import (
	"fmt"
	"strings"
)

// writeClauses are Cypher clauses that mutate the graph or escape a pure
// pattern match. Matching is keyword-boundary aware so property names like
// "created_at" do not trip the guard.
var writeClauses = []string{
	"CREATE",
	"MERGE",
	"DELETE",
	"DETACH",
	"SET",
	"REMOVE",
	"DROP",
	"FOREACH",
	"LOAD CSV",
	"CALL",
}

// ValidateReadOnlyCypher rejects queries that are not read-only pattern
// matches. The raw-query tool feeds rejections back to the model as
// error-tagged results, so the message names the offending clause.
func ValidateReadOnlyCypher(cypher string) error {
	trimmed := strings.TrimSpace(cypher)
	if trimmed == "" {
		return fmt.Errorf("query is empty")
	}

	upper := strings.ToUpper(trimmed)
	for _, clause := range writeClauses {
		if containsKeyword(upper, clause) {
			return fmt.Errorf("query contains forbidden clause %s; only read-only MATCH queries are allowed", clause)
		}
	}
	return nil
}

// containsKeyword reports whether the keyword appears in the query bounded
// by non-identifier characters on both sides.
func containsKeyword(upper, keyword string) bool {
	for start := 0; ; {
		idx := strings.Index(upper[start:], keyword)
		if idx < 0 {
			return false
		}
		idx += start
		end := idx + len(keyword)
		beforeOK := idx == 0 || !isIdentChar(upper[idx-1])
		afterOK := end == len(upper) || !isIdentChar(upper[end])
		if beforeOK && afterOK {
			return true
		}
		start = idx + 1
	}
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= '0' && c <= '9') || (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z')
}
