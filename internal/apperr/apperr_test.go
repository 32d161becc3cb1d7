package apperr

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	base := New(KindRemoteNotFound, "stat /Outbox/report.csv", fs.ErrNotExist)

	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{name: "nil", err: nil, want: ""},
		{name: "direct", err: base, want: KindRemoteNotFound},
		{name: "wrapped", err: fmt.Errorf("fetch: %w", base), want: KindRemoteNotFound},
		{name: "unclassified", err: errors.New("boom"), want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := Errorf(KindIO, "archive", "copy failed: %w", fs.ErrPermission)

	assert.True(t, errors.Is(err, fs.ErrPermission))
	assert.True(t, Is(err, KindIO))
	assert.False(t, Is(err, KindConnection))
	assert.Equal(t, "IO_ERROR: archive: copy failed: permission denied", err.Error())
}
