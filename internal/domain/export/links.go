package export

import (
	"fmt"
	"strings"
)

// linkSize is the number of bytes formatLinks writes for l.
func linkSize(l Link) int {
	return len(l.Filename) + len(": ") + len(l.URL) + len("\n")
}

// chunkLinks groups links so no group exceeds maxLinks entries or
// maxBytes of formatted links. A single link larger than maxBytes still gets
// its own group.
func chunkLinks(links []Link, maxLinks, maxBytes int) [][]Link {
	var (
		out   [][]Link
		cur   []Link
		bytes int
	)
	for _, l := range links {
		size := linkSize(l)
		full := maxLinks > 0 && len(cur) >= maxLinks
		tooBig := maxBytes > 0 && len(cur) > 0 && bytes+size > maxBytes
		if full || tooBig {
			out = append(out, cur)
			cur, bytes = nil, 0
		}
		cur = append(cur, l)
		bytes += size
	}
	if len(cur) > 0 {
		out = append(out, cur)
	}
	return out
}

func formatLinks(links []Link) string {
	var b strings.Builder
	for _, l := range links {
		fmt.Fprintf(&b, "%s: %s\n", l.Filename, l.URL)
	}
	return b.String()
}
