package diff

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/preflight/preflight/internal/domain"
)

// ParseError reports a malformed hunk header or range spec, carrying the
// 1-based line number within the original diff text.
type ParseError struct {
	Line int
	Msg  string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("diff parse error at line %d: %s", e.Line, e.Msg)
}

var hunkHeaderRe = regexp.MustCompile(`^@@ -(\d+)(?:,(\d+))? \+(\d+)(?:,(\d+))? @@(.*)$`)

// Parse parses unified diff text (as produced by `git diff`) into an ordered
// list of FileDiff. It splits the input at every "diff --git " line and
// parses each block independently, per spec §4.1.
func Parse(diffText string) ([]domain.FileDiff, error) {
	if diffText == "" {
		return nil, nil
	}

	// Drop the final newline so it does not produce a trailing empty line,
	// which would otherwise be parsed as an extra Context line.
	lines := strings.Split(strings.TrimSuffix(diffText, "\n"), "\n")

	var starts []int
	for i, l := range lines {
		if strings.HasPrefix(l, "diff --git ") {
			starts = append(starts, i)
		}
	}
	if len(starts) == 0 {
		return nil, nil
	}

	results := make([]domain.FileDiff, 0, len(starts))
	for bi, start := range starts {
		end := len(lines)
		if bi+1 < len(starts) {
			end = starts[bi+1]
		}
		fd, err := parseFileBlock(lines[start:end], start+1)
		if err != nil {
			return nil, err
		}
		results = append(results, fd)
	}
	return results, nil
}

// parseFileBlock parses one "diff --git ..." block. startLineNo is the
// 1-based line number of the block's first line, used for error reporting.
func parseFileBlock(block []string, startLineNo int) (domain.FileDiff, error) {
	fd := domain.FileDiff{Status: domain.FileModified}

	i := 0
	n := len(block)

	for i < n && !strings.HasPrefix(block[i], "@@ ") {
		line := block[i]
		switch {
		case strings.HasPrefix(line, "--- "):
			if p := stripDiffPrefix(strings.TrimPrefix(line, "--- ")); p != nil {
				fd.OldPath = p
			}
		case strings.HasPrefix(line, "+++ "):
			if p := stripDiffPrefix(strings.TrimPrefix(line, "+++ ")); p != nil {
				fd.NewPath = p
			}
		case strings.HasPrefix(line, "new file mode"):
			fd.Status = domain.FileAdded
		case strings.HasPrefix(line, "deleted file mode"):
			fd.Status = domain.FileDeleted
		case strings.HasPrefix(line, "rename from "):
			old := strings.TrimPrefix(line, "rename from ")
			fd.Status = domain.FileRenamed
			fd.OldPath = &old
		case strings.HasPrefix(line, "rename to "):
			nw := strings.TrimPrefix(line, "rename to ")
			fd.Status = domain.FileRenamed
			fd.NewPath = &nw
		case strings.HasPrefix(line, "Binary files "):
			fd.Status = domain.FileBinary
			return fd, nil
		}
		i++
	}

	for i < n {
		line := block[i]
		if !strings.HasPrefix(line, "@@ ") {
			i++
			continue
		}

		hunk, err := parseHunkHeader(line, startLineNo+i)
		if err != nil {
			return domain.FileDiff{}, err
		}
		i++

		oldLine := hunk.OldStart
		newLine := hunk.NewStart

		for i < n {
			l := block[i]
			if strings.HasPrefix(l, "@@ ") {
				break
			}

			stop := false
			switch {
			case l == "":
				hunk.Lines = append(hunk.Lines, domain.DiffLine{
					Kind:      domain.LineContext,
					Content:   "",
					OldLineNo: intPtr(oldLine),
					NewLineNo: intPtr(newLine),
				})
				oldLine++
				newLine++
			case l[0] == ' ':
				hunk.Lines = append(hunk.Lines, domain.DiffLine{
					Kind:      domain.LineContext,
					Content:   l[1:],
					OldLineNo: intPtr(oldLine),
					NewLineNo: intPtr(newLine),
				})
				oldLine++
				newLine++
			case l[0] == '+':
				hunk.Lines = append(hunk.Lines, domain.DiffLine{
					Kind:      domain.LineAdded,
					Content:   l[1:],
					NewLineNo: intPtr(newLine),
				})
				newLine++
			case l[0] == '-':
				hunk.Lines = append(hunk.Lines, domain.DiffLine{
					Kind:      domain.LineRemoved,
					Content:   l[1:],
					OldLineNo: intPtr(oldLine),
				})
				oldLine++
			case l[0] == '\\':
				// "\ No newline at end of file" marker; skip.
			default:
				stop = true
			}

			i++
			if stop {
				break
			}
		}

		fd.Hunks = append(fd.Hunks, hunk)
	}

	return fd, nil
}

// parseHunkHeader parses "@@ -OLD[,OCOUNT] +NEW[,NCOUNT] @@ [context]".
// Missing counts default to 1.
func parseHunkHeader(line string, lineNo int) (domain.Hunk, error) {
	m := hunkHeaderRe.FindStringSubmatch(line)
	if m == nil {
		return domain.Hunk{}, &ParseError{Line: lineNo, Msg: fmt.Sprintf("malformed hunk header: %q", line)}
	}

	oldStart, err := strconv.Atoi(m[1])
	if err != nil {
		return domain.Hunk{}, &ParseError{Line: lineNo, Msg: fmt.Sprintf("invalid old start: %v", err)}
	}
	oldCount := 1
	if m[2] != "" {
		if oldCount, err = strconv.Atoi(m[2]); err != nil {
			return domain.Hunk{}, &ParseError{Line: lineNo, Msg: fmt.Sprintf("invalid old count: %v", err)}
		}
	}
	newStart, err := strconv.Atoi(m[3])
	if err != nil {
		return domain.Hunk{}, &ParseError{Line: lineNo, Msg: fmt.Sprintf("invalid new start: %v", err)}
	}
	newCount := 1
	if m[4] != "" {
		if newCount, err = strconv.Atoi(m[4]); err != nil {
			return domain.Hunk{}, &ParseError{Line: lineNo, Msg: fmt.Sprintf("invalid new count: %v", err)}
		}
	}

	var ctx *string
	if trail := strings.TrimSpace(m[5]); trail != "" {
		ctx = &trail
	}

	return domain.Hunk{
		OldStart: oldStart,
		OldCount: oldCount,
		NewStart: newStart,
		NewCount: newCount,
		Context:  ctx,
	}, nil
}

// stripDiffPrefix strips a leading "a/" or "b/" from a --- / +++ path,
// returning nil for "/dev/null".
func stripDiffPrefix(path string) *string {
	if path == "/dev/null" {
		return nil
	}
	path = strings.TrimPrefix(path, "a/")
	path = strings.TrimPrefix(path, "b/")
	return &path
}

func intPtr(n int) *int {
	return &n
}
