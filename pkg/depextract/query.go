package depextract

import "regexp"

// queryPlaceholder matches a "{identifier}" template placeholder inside a
// QUERY cell. QUERY cells only ever read — they never write into the
// notebook namespace.
var queryPlaceholder = regexp.MustCompile(`\{(\w+)\}`)

// ExtractQuery computes the read set for a QUERY cell: every distinct
// "{name}" placeholder appearing in the cell's source, in sorted order.
// QUERY cells never produce writes.
func ExtractQuery(source string) (reads, writes []string) {
	matches := queryPlaceholder.FindAllStringSubmatch(source, -1)
	if len(matches) == 0 {
		return nil, nil
	}
	seen := make(map[string]bool, len(matches))
	for _, m := range matches {
		seen[m[1]] = true
	}
	return sortedKeys(seen), nil
}
