package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf_WalksWrapChain(t *testing.T) {
	base := New(NotFound, "principal_not_found", "principal not found")
	wrapped := fmt.Errorf("get principal u1: %w", base)

	assert.Equal(t, NotFound, KindOf(wrapped))
	assert.Equal(t, "principal_not_found", CodeOf(wrapped))
	assert.True(t, errors.Is(wrapped, base))
	assert.True(t, Is(wrapped, NotFound))
}

func TestKindOf_PlainErrorIsInternal(t *testing.T) {
	err := errors.New("connection reset")

	assert.Equal(t, Internal, KindOf(err))
	assert.Equal(t, "internal", CodeOf(err))
	assert.False(t, Is(nil, Internal))
}

func TestInternalf_KeepsCause(t *testing.T) {
	cause := errors.New("timeout")
	err := Internalf(cause, "set claims for %s", "u1")

	assert.Equal(t, Internal, KindOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "set claims for u1: timeout", err.Error())
	assert.Nil(t, Internalf(nil, "noop"))
	assert.Nil(t, Wrap(Conflict, "x", nil))
}

func TestKindString(t *testing.T) {
	tests := map[Kind]string{
		Internal:         "internal",
		Unauthenticated:  "unauthenticated",
		PermissionDenied: "permission_denied",
		InvalidArgument:  "invalid_argument",
		NotFound:         "not_found",
		Conflict:         "conflict",
	}
	for kind, want := range tests {
		assert.Equal(t, want, kind.String())
	}
}
