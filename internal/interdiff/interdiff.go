// Package interdiff reconstructs two full file bodies from a shared base
// and two independent hunk sets, then computes the grouped line diff
// between those two bodies (spec.md §4.4). It is how the service shows
// "what changed between revision N and revision M" for a file that exists
// in both, without ever re-invoking git.
package interdiff

import (
	"strings"

	"github.com/pmezard/go-difflib/difflib"

	"github.com/preflight/preflight/internal/domain"
)

const contextWindow = 3

// Reconstruct rebuilds the file body a hunk set transforms a base into.
// base is split into physical lines (no trailing terminators). hunks must
// be ordered by OldStart ascending, each relative to base's line numbers.
func Reconstruct(base []string, hunks []domain.Hunk) []string {
	var out []string
	baseIdx := 0

	for _, h := range hunks {
		upto := h.OldStart - 1
		if upto > len(base) {
			upto = len(base)
		}
		if upto > baseIdx {
			out = append(out, base[baseIdx:upto]...)
		}

		for _, l := range h.Lines {
			switch l.Kind {
			case domain.LineContext, domain.LineAdded:
				out = append(out, l.Content)
			}
		}

		baseIdx = upto + h.OldCount
	}

	if baseIdx < len(base) {
		out = append(out, base[baseIdx:]...)
	}

	return out
}

// Diff computes the hunks transforming fromBody into toBody using a
// grouped line diff with a fixed 3-line context window. Two identical
// bodies yield an empty slice.
func Diff(fromBody, toBody []string) []domain.Hunk {
	matcher := difflib.NewMatcher(fromBody, toBody)
	groups := matcher.GetGroupedOpCodes(contextWindow)

	hunks := make([]domain.Hunk, 0, len(groups))
	for _, group := range groups {
		if len(group) == 0 {
			continue
		}
		hunks = append(hunks, buildHunk(group, fromBody, toBody))
	}
	return hunks
}

func buildHunk(group []difflib.OpCode, fromBody, toBody []string) domain.Hunk {
	first := group[0]
	oldStart := first.I1 + 1
	newStart := first.J1 + 1

	var lines []domain.DiffLine
	oldCount, newCount := 0, 0
	oldLine, newLine := oldStart, newStart

	for _, op := range group {
		switch op.Tag {
		case 'e':
			for i := op.I1; i < op.I2; i++ {
				lines = append(lines, domain.DiffLine{
					Kind:      domain.LineContext,
					Content:   fromBody[i],
					OldLineNo: intPtr(oldLine),
					NewLineNo: intPtr(newLine),
				})
				oldLine++
				newLine++
				oldCount++
				newCount++
			}
		case 'd':
			for i := op.I1; i < op.I2; i++ {
				lines = append(lines, domain.DiffLine{
					Kind:      domain.LineRemoved,
					Content:   fromBody[i],
					OldLineNo: intPtr(oldLine),
				})
				oldLine++
				oldCount++
			}
		case 'i':
			for j := op.J1; j < op.J2; j++ {
				lines = append(lines, domain.DiffLine{
					Kind:      domain.LineAdded,
					Content:   toBody[j],
					NewLineNo: intPtr(newLine),
				})
				newLine++
				newCount++
			}
		case 'r':
			for i := op.I1; i < op.I2; i++ {
				lines = append(lines, domain.DiffLine{
					Kind:      domain.LineRemoved,
					Content:   fromBody[i],
					OldLineNo: intPtr(oldLine),
				})
				oldLine++
				oldCount++
			}
			for j := op.J1; j < op.J2; j++ {
				lines = append(lines, domain.DiffLine{
					Kind:      domain.LineAdded,
					Content:   toBody[j],
					NewLineNo: intPtr(newLine),
				})
				newLine++
				newCount++
			}
		}
	}

	return domain.Hunk{
		OldStart: oldStart,
		OldCount: oldCount,
		NewStart: newStart,
		NewCount: newCount,
		Lines:    lines,
	}
}

// SplitBody splits a file's text content into physical lines with
// terminators stripped, mirroring the convention used throughout the diff
// and interdiff packages.
func SplitBody(content string) []string {
	content = strings.TrimSuffix(content, "\n")
	if content == "" {
		return nil
	}
	return strings.Split(content, "\n")
}

func intPtr(n int) *int {
	return &n
}
