package delivery

// Limit is the maximum message length, in characters.
const Limit = 2000

// Split breaks s into chunks of at most Limit characters. Concatenating the
// chunks reproduces s exactly.
func Split(s string) []string {
	return SplitLimit(s, Limit)
}

// SplitLimit breaks s into chunks of at most limit runes, preferring a
// paragraph break past half the limit, then a line break or sentence end
// past 70%, then a space past 80%, and otherwise cutting hard at the limit.
func SplitLimit(s string, limit int) []string {
	r := []rune(s)
	if limit <= 0 || len(r) <= limit {
		return []string{s}
	}
	var chunks []string
	for len(r) > limit {
		cut := cutPoint(r[:limit])
		chunks = append(chunks, string(r[:cut]))
		r = r[cut:]
	}
	if len(r) > 0 {
		chunks = append(chunks, string(r))
	}
	return chunks
}

// cutPoint returns where to end a chunk taken from window.
func cutPoint(window []rune) int {
	limit := float64(len(window))
	if i := lastIndex(window, "\n\n"); float64(i) > limit*0.5 {
		return i + 2
	}
	if i := lastIndex(window, "\n"); float64(i) > limit*0.7 {
		return i + 1
	}
	if i := lastIndex(window, ". "); float64(i) > limit*0.7 {
		return i + 2
	}
	if i := lastIndex(window, " "); float64(i) > limit*0.8 {
		return i + 1
	}
	return len(window)
}

// lastIndex is strings.LastIndex over runes: the rune offset of the last
// occurrence of sep in r, or -1.
func lastIndex(r []rune, sep string) int {
	s := []rune(sep)
outer:
	for i := len(r) - len(s); i >= 0; i-- {
		for j := range s {
			if r[i+j] != s[j] {
				continue outer
			}
		}
		return i
	}
	return -1
}
