package spacesync

import (
	"errors"
	"fmt"
	"testing"

	"github.com/go-playground/assert/v2"
)

func TestHandleError(t *testing.T) {
	// a panicking callback is contained
	r := HandleError(func() {
		panic(errors.New("boom"))
	})
	assert.NotEqual(t, r, nil)

	// handlers run on recovery
	var handled error
	HandleError(
		func() {
			panic(fmt.Errorf("boom"))
		},
		func(err error) {
			handled = err
		},
	)
	assert.NotEqual(t, handled, nil)

	// no recovery means no handler invocation
	handled = nil
	r = HandleError(
		func() {},
		func(err error) {
			handled = err
		},
	)
	assert.Equal(t, r, nil)
	assert.Equal(t, handled, nil)
}

func TestTraceWithReturnError(t *testing.T) {
	result, err := TraceWithReturnError("test", func() (int, error) {
		return 42, nil
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, result, 42)

	_, err = TraceWithReturnError("test", func() (int, error) {
		return 0, errors.New("nope")
	})
	assert.NotEqual(t, err, nil)
}
