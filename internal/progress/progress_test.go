package progress

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFunc(t *testing.T) {
	var got []string
	n := Func(func(msg string) { got = append(got, msg) })
	n.Notify("a")
	n.Notify("b")
	assert.Equal(t, []string{"a", "b"}, got)
}

func TestOrNop(t *testing.T) {
	assert.NotPanics(t, func() { OrNop(nil).Notify("x") })

	l := &Latest{}
	assert.Same(t, l, OrNop(l))
}

func TestWriter(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriter(&buf)
	w.Notify("inserted 1 records")
	w.Notify("waiting for next round")
	assert.Equal(t, "inserted 1 records\nwaiting for next round\n", buf.String())
}

func TestLatest(t *testing.T) {
	l := &Latest{}
	assert.Empty(t, l.Message())
	l.Notify("one")
	l.Notify("two")
	assert.Equal(t, "two", l.Message())
}

func TestLog_DefaultLogger(t *testing.T) {
	assert.NotPanics(t, func() { Log{}.Notify("hello") })
}

func TestTee(t *testing.T) {
	var buf bytes.Buffer
	l := &Latest{}
	n := Tee(NewWriter(&buf), nil, l)
	n.Notify("round 1 started")
	n.Notify("round 1 finished: 3 stored")

	assert.Equal(t, "round 1 started\nround 1 finished: 3 stored\n", buf.String())
	assert.Equal(t, "round 1 finished: 3 stored", l.Message())
}
