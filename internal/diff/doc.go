// Package diff parses unified diff text (as produced by `git diff`) into the
// typed FileDiff/Hunk/DiffLine tree defined in internal/domain.
package diff
