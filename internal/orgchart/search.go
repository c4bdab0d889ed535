package orgchart

import (
	"strings"
	"unicode/utf8"
)

// MinQueryLength is the shortest query Search will run.
const MinQueryLength = 2

// DefaultSearchLimit caps search results served over HTTP.
const DefaultSearchLimit = 10

// Search returns up to limit nodes, in pre-order, whose name, title or
// department contains query case-insensitively. Queries shorter than
// MinQueryLength return no results. A limit of zero or less means no cap.
func Search(root *Node, query string, limit int) []*Node {
	results := []*Node{}
	if root == nil || utf8.RuneCountInString(query) < MinQueryLength {
		return results
	}
	q := strings.ToLower(query)
	for n := range root.All() {
		if matches(n, q) {
			results = append(results, n)
			if limit > 0 && len(results) >= limit {
				break
			}
		}
	}
	return results
}

func matches(n *Node, q string) bool {
	return strings.Contains(strings.ToLower(n.Name), q) ||
		strings.Contains(strings.ToLower(n.Title), q) ||
		strings.Contains(strings.ToLower(n.Department), q)
}
