package diff

import (
	"sort"
	"strings"

	"github.com/cespare/xxhash/v2"

	"github.com/codeready-toolchain/reviewd/pkg/models"
)

func splitLines(content string) []string {
	return strings.Split(content, "\n")
}

// newLineRanges returns the 1-based ranges of lines in current whose
// content does not appear in prior, consecutive lines grouped into one
// range. Membership is a multiset set-difference over line hashes: a
// current line matches prior as long as unconsumed copies of its content
// remain, so moved lines are not re-reviewed while edited and inserted
// lines are.
func newLineRanges(prior, current []string) []models.LineRange {
	remaining := make(map[uint64]int, len(prior))
	for _, line := range prior {
		remaining[xxhash.Sum64String(line)]++
	}

	var (
		ranges []models.LineRange
		open   bool
		start  int
	)
	for i, line := range current {
		h := xxhash.Sum64String(line)
		if remaining[h] > 0 {
			remaining[h]--
			if open {
				ranges = append(ranges, models.LineRange{Start: start, End: i})
				open = false
			}
			continue
		}
		if !open {
			start = i + 1
			open = true
		}
	}
	if open {
		ranges = append(ranges, models.LineRange{Start: start, End: len(current)})
	}
	return ranges
}

// widen expands every range by context lines on both sides, clamps to
// [1, max], and merges ranges that overlap or touch after expansion.
func widen(ranges []models.LineRange, context, max int) []models.LineRange {
	if len(ranges) == 0 || max < 1 {
		return nil
	}
	expanded := make([]models.LineRange, 0, len(ranges))
	for _, r := range ranges {
		start := r.Start - context
		end := r.End + context
		if start < 1 {
			start = 1
		}
		if end > max {
			end = max
		}
		if start > end {
			continue
		}
		expanded = append(expanded, models.LineRange{Start: start, End: end})
	}
	if len(expanded) == 0 {
		return nil
	}
	sort.Slice(expanded, func(i, j int) bool { return expanded[i].Start < expanded[j].Start })

	merged := expanded[:1]
	for _, r := range expanded[1:] {
		last := &merged[len(merged)-1]
		if r.Start <= last.End+1 {
			if r.End > last.End {
				last.End = r.End
			}
			continue
		}
		merged = append(merged, r)
	}
	return merged
}
