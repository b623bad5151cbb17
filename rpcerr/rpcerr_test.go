package rpcerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"mini-bridge/value"
)

func TestErrorIs(t *testing.T) {
	err := fmt.Errorf("call: %w", New(KindTimeout, "sleep", errors.New("after 100ms")))
	assert.True(t, errors.Is(err, ErrTimeout))
	assert.False(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, KindTimeout, KindOf(err))
	assert.Contains(t, err.Error(), "[sleep]")
}

func TestRemoteDetail(t *testing.T) {
	detail := value.Mapping(map[string]value.Value{"message": value.String("boom")})
	err := Remote(KindRemote, "explode", detail)

	assert.True(t, errors.Is(err, ErrRemoteInvocation))
	assert.Equal(t, "bridge: remote invocation error [explode]: boom", err.Error())

	var re *Error
	assert.True(t, errors.As(err, &re))
	assert.True(t, value.Equal(detail, re.Detail))
}

func TestKindNames(t *testing.T) {
	for k := KindNone; k <= KindRateLimited; k++ {
		assert.Equal(t, k, ParseKind(k.String()))
	}
	assert.Equal(t, KindRemote, ParseKind("from_the_future"))
	assert.Equal(t, KindRemote, KindOf(errors.New("plain")))
	assert.Equal(t, KindNone, KindOf(nil))
}

func TestDetailOf(t *testing.T) {
	plain := DetailOf(errors.New("nope"))
	assert.Equal(t, "nope", DetailMessage(plain))

	custom := value.String("custom")
	assert.True(t, value.Equal(custom, DetailOf(Remote(KindRemote, "", custom))))
}

func TestErrorWithoutSentinel(t *testing.T) {
	var err error = New(KindNone, "cmd", errors.New("odd"))
	assert.NotPanics(t, func() { _ = err.Error() })
	assert.Equal(t, "bridge: none [cmd]: odd", err.Error())
	assert.Equal(t, "bridge: none", (&Error{Kind: KindNone}).Error())
}
