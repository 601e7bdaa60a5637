package logging

import (
	"bytes"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestLReturnsSameLoggerOnRepeatedCalls(t *testing.T) {
	first := L()
	second := L()
	assert.Same(t, first, second)
}

func TestComponentTagsComponentField(t *testing.T) {
	l := Component("risk")
	assert.NotNil(t, l.GetLevel())

	var buf bytes.Buffer
	out := l.Output(&buf).Level(zerolog.InfoLevel)
	out.Info().Msg("x")
	assert.Contains(t, buf.String(), `"component":"risk"`)
}

func TestSetForTestInstallsNopLogger(t *testing.T) {
	SetForTest()
	assert.Equal(t, zerolog.Disabled, logger.GetLevel())
}
