package scheduler

import (
	"strconv"
	"strings"
	"unicode"
)

// ParseAccountingOutput scans the block-structured text an accounting query
// emits: blocks separated by a fixed delimiter line, each block holding
// `key <whitespace> value` lines. The header segment before the first
// delimiter is discarded. A block matches when its taskid is "undefined" or
// numerically equal to taskIdx; the first matching block is returned whole.
// No match returns an empty map: accounting data may simply not be
// available yet.
func ParseAccountingOutput(out string, taskIdx int) map[string]string {
	info := map[string]string{}
	blocks := strings.Split(strings.TrimSpace(out), statsDelim)
	if len(blocks) < 2 {
		return info
	}
	for _, block := range blocks[1:] {
		keep := false
		for _, ln := range strings.Split(block, "\n") {
			key, val, ok := splitKeyValue(ln)
			if !ok {
				continue
			}
			info[key] = val
			if key == "taskid" {
				if val == "undefined" {
					keep = true
				} else if n, err := strconv.Atoi(val); err == nil && n == taskIdx {
					keep = true
				}
			}
		}
		if keep {
			break
		}
		info = map[string]string{}
	}
	return info
}

// splitKeyValue splits a block line at its first whitespace run, trimming
// the remainder as the value.
func splitKeyValue(ln string) (string, string, bool) {
	ln = strings.TrimSpace(ln)
	cut := strings.IndexFunc(ln, unicode.IsSpace)
	if cut < 0 {
		return "", "", false
	}
	return ln[:cut], strings.TrimSpace(ln[cut:]), true
}
