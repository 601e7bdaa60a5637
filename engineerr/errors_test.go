package engineerr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewErrorFormatsWithoutCause(t *testing.T) {
	err := New(InvalidArgument, "comp", "bad value")
	assert.Equal(t, "InvalidArgument[comp]: bad value", err.Error())
	assert.Nil(t, err.Unwrap())
}

func TestWrapErrorFormatsWithCause(t *testing.T) {
	cause := errors.New("underlying")
	err := Wrap(DatabaseError, "store", "insert failed", cause)
	assert.Equal(t, "DatabaseError[store]: insert failed: underlying", err.Error())
	assert.Equal(t, cause, err.Unwrap())
}

func TestKindOfExtractsWrappedKind(t *testing.T) {
	err := New(RiskLimitExceeded, "risk", "over limit")
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, RiskLimitExceeded, kind)

	_, ok = KindOf(errors.New("plain"))
	assert.False(t, ok)
}

func TestIsMatchesKind(t *testing.T) {
	err := New(Network, "broker", "timeout")
	assert.True(t, Is(err, Network))
	assert.False(t, Is(err, DatabaseError))
}

func TestIsRetryableOnlyForTransportAndDatabase(t *testing.T) {
	assert.True(t, New(Network, "c", "m").IsRetryable())
	assert.True(t, New(DatabaseError, "c", "m").IsRetryable())
	assert.False(t, New(InvalidArgument, "c", "m").IsRetryable())
	assert.False(t, New(RiskLimitExceeded, "c", "m").IsRetryable())
}

func TestKindStringCoversEveryEnumerator(t *testing.T) {
	kinds := []Kind{
		InvalidArgument, InvalidData, NotInitialized, StrategyError,
		InvalidStateTransition, RiskLimitExceeded, DatabaseError, FileIoError,
		Network, NotConnected, UnknownInstrument, ConvergenceFailure,
	}
	for _, k := range kinds {
		assert.NotEqual(t, "Unknown", k.String())
	}
}
