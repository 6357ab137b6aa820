package fetcher

// planChunks greedily packs items into request chunks, capping both the item
// count and the estimated URL length. urlLen must report the full request
// URL length for a candidate item set; using the same builder that issues
// the request keeps the estimate exact. An item too long to fit a chunk by
// itself still gets one; the upstream's rejection handles it from there.
func planChunks(items []string, maxItems int, maxURLLen int, urlLen func(items []string) int) [][]string {
	if len(items) == 0 {
		return nil
	}

	var (
		out  [][]string
		cur  []string
		flip = func() {
			if len(cur) > 0 {
				out = append(out, cur)
				cur = nil
			}
		}
	)
	for _, item := range items {
		candidate := append(cur, item)
		if len(cur) > 0 && (len(candidate) > maxItems || urlLen(candidate) > maxURLLen) {
			flip()
			candidate = []string{item}
		}
		cur = candidate
	}
	flip()
	return out
}

// splitChunk halves a chunk for the too-large retry path. Callers guarantee
// len(chunk) > 1.
func splitChunk(chunk []string) ([]string, []string) {
	mid := len(chunk) / 2
	return chunk[:mid], chunk[mid:]
}
