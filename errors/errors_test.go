package errors

import (
	"fmt"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{
			name: "classified error",
			err:  New(CodeInvalidSession, "session expired"),
			want: CodeInvalidSession,
		},
		{
			name: "classified error wrapped by pkg/errors",
			err:  pkgerrors.Wrap(New(CodeAccountNotFound, "no such account"), "loading shard"),
			want: CodeAccountNotFound,
		},
		{
			name: "raw error maps to internal",
			err:  fmt.Errorf("disk on fire"),
			want: CodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CodeOf(tt.err))
		})
	}
}

func TestWrapPreservesCode(t *testing.T) {
	inner := New(CodeKeystore, "write failed")
	wrapped := Wrap(inner, CodeInternal, "persisting shard")
	require.Error(t, wrapped)

	assert.Equal(t, CodeKeystore, CodeOf(wrapped))
	assert.Equal(t, "persisting shard", MessageOf(wrapped))
	assert.True(t, Is(wrapped, CodeKeystore))
	assert.False(t, Is(wrapped, CodeInternal))
}

func TestWrapNil(t *testing.T) {
	assert.NoError(t, Wrap(nil, CodeInternal, "nothing"))
}

func TestErrorString(t *testing.T) {
	err := Wrap(fmt.Errorf("eof"), CodeInvalidRequest, "decoding request")
	assert.Contains(t, err.Error(), "INVALID_REQUEST")
	assert.Contains(t, err.Error(), "eof")
}
