package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFileDiff_EffectivePath(t *testing.T) {
	newPath := "new.go"
	oldPath := "old.go"

	tests := []struct {
		name string
		fd   FileDiff
		want string
	}{
		{"new path present", FileDiff{NewPath: &newPath}, "new.go"},
		{"only old path", FileDiff{OldPath: &oldPath}, "old.go"},
		{"both present prefers new", FileDiff{OldPath: &oldPath, NewPath: &newPath}, "new.go"},
		{"neither present", FileDiff{}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.fd.EffectivePath())
		})
	}
}

func TestServiceError_Unwrap(t *testing.T) {
	cause := assert.AnError
	err := Internal(cause, "write failed")

	assert.ErrorIs(t, err, cause)
	assert.True(t, IsKind(err, KindInternal))
	assert.False(t, IsKind(err, KindNotFound))
}

func TestNewID_Unique(t *testing.T) {
	a := NewID()
	b := NewID()
	assert.NotEqual(t, a, b)
}
