package errors

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorClass_String(t *testing.T) {
	tests := []struct {
		class    ErrorClass
		expected string
	}{
		{ErrorTransient, "transient"},
		{ErrorInvalid, "invalid"},
		{ErrorFatal, "fatal"},
		{ErrorClass(999), "unknown"},
	}

	for _, test := range tests {
		t.Run(test.expected, func(t *testing.T) {
			assert.Equal(t, test.expected, test.class.String())
		})
	}
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected bool
	}{
		{"nil error", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"connection lost", ErrConnectionLost, true},
		{"no connection", ErrNoConnection, true},
		{"context deadline exceeded", context.DeadlineExceeded, true},
		{"invalid data", ErrInvalidData, false},
		{"timeout in message", fmt.Errorf("read timeout on socket"), true},
		{"classified transient", &ClassifiedError{Class: ErrorTransient, Err: fmt.Errorf("x")}, true},
		{"classified fatal", &ClassifiedError{Class: ErrorFatal, Err: fmt.Errorf("x")}, false},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, IsTransient(test.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrRequestFrozen))
	assert.True(t, IsInvalid(ErrInvalidState))
	assert.True(t, IsInvalid(ErrUnsupported))
	assert.False(t, IsInvalid(ErrConnectionLost))
	assert.False(t, IsInvalid(nil))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(ErrInvalidConfig))
	assert.True(t, IsFatal(ErrDataCorrupted))
	assert.True(t, IsFatal(fmt.Errorf("disk full while writing")))
	assert.False(t, IsFatal(ErrConnectionTimeout))
}

func TestWrap_Format(t *testing.T) {
	err := Wrap(ErrNotFound, "Manager", "AddRequest", "source lookup")
	assert.EqualError(t, err, "Manager.AddRequest: source lookup failed: not found")
	assert.True(t, Is(err, ErrNotFound))
	assert.Nil(t, Wrap(nil, "a", "b", "c"))
}

func TestWrapClassified_PreservesChain(t *testing.T) {
	err := WrapInvalid(ErrRequestFrozen, "Request", "SetOrder", "option update")

	var ce *ClassifiedError
	assert.True(t, As(err, &ce))
	assert.Equal(t, ErrorInvalid, ce.Class)
	assert.Equal(t, "Request", ce.Component)
	assert.Equal(t, "SetOrder", ce.Operation)
	assert.True(t, Is(err, ErrRequestFrozen))
	assert.Equal(t, ErrorInvalid, Classify(err))

	assert.Equal(t, ErrorTransient, Classify(WrapTransient(fmt.Errorf("x"), "a", "b", "c")))
	assert.Equal(t, ErrorFatal, Classify(WrapFatal(fmt.Errorf("x"), "a", "b", "c")))
}

func TestClassify_UnknownDefaultsTransient(t *testing.T) {
	assert.Equal(t, ErrorTransient, Classify(fmt.Errorf("something odd")))
}
