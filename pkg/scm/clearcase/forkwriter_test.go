package clearcase_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clearci/pkg/scm/clearcase"
)

type failingWriter struct {
	err error
}

func (w *failingWriter) Write(p []byte) (int, error) {
	return 0, w.err
}

func TestForkWriter_DuplicatesWritesInOrder(t *testing.T) {
	var a, b bytes.Buffer
	w := clearcase.NewForkWriter(&a, &b)

	for _, chunk := range []string{"first ", "second ", "third"} {
		n, err := w.Write([]byte(chunk))
		require.NoError(t, err)
		assert.Equal(t, len(chunk), n)
	}

	assert.Equal(t, "first second third", a.String())
	assert.Equal(t, a.String(), b.String())
}

func TestForkWriter_FailingDestinationDoesNotStarveOthers(t *testing.T) {
	boom := errors.New("pipe closed")
	var healthy bytes.Buffer
	w := clearcase.NewForkWriter(&failingWriter{err: boom}, &healthy)

	n, err := w.Write([]byte("keep me"))

	assert.Equal(t, len("keep me"), n)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, "keep me", healthy.String(), "second destination must still receive the bytes")
}

func TestForkWriter_FirstErrorWins(t *testing.T) {
	first := errors.New("first failure")
	second := errors.New("second failure")
	w := clearcase.NewForkWriter(&failingWriter{err: first}, &failingWriter{err: second})

	_, err := w.Write([]byte("x"))

	assert.ErrorIs(t, err, first)
	assert.NotErrorIs(t, err, second)
}
