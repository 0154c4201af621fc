package logging

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractStack(t *testing.T) {
	tests := map[string]struct {
		err           error
		expectedStack bool
	}{
		"nil":                {err: nil},
		"plain":              {err: fmt.Errorf("plain")},
		"with stack":         {err: errors.New("stack"), expectedStack: true},
		"wrapped with stack": {err: errors.WithMessage(errors.New("stack"), "wrapped"), expectedStack: true},
		"fmt wrapped stack":  {err: fmt.Errorf("outer: %w", errors.New("stack")), expectedStack: true},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			stack := ExtractStack(tc.err)
			if tc.expectedStack {
				assert.NotNil(t, stack)
			} else {
				assert.Nil(t, stack)
			}
		})
	}
}

func TestWithStacktrace(t *testing.T) {
	logger := logrus.New()
	entry := WithStacktrace(logrus.NewEntry(logger), errors.New("boom"))
	assert.Contains(t, entry.Data, logrus.ErrorKey)
	assert.Contains(t, entry.Data, Stacktrace)

	entry = WithStacktrace(logrus.NewEntry(logger), fmt.Errorf("boom"))
	assert.NotContains(t, entry.Data, Stacktrace)
}

func TestConfigure(t *testing.T) {
	logger := logrus.New()
	var buf bytes.Buffer
	require.NoError(t, configure(logger, "debug", &buf))
	assert.Equal(t, logrus.DebugLevel, logger.GetLevel())
	logger.Debug("hello")
	assert.Contains(t, buf.String(), "hello")

	assert.Error(t, configure(logger, "not-a-level", &buf))
}
