package logging

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTailWriteSplitsLinesAndKeepsHistory(t *testing.T) {
	tail := NewTail(3)

	n, err := tail.Write([]byte("one\ntwo\r\n\nthree\nfour\n"))
	require.NoError(t, err)
	assert.Equal(t, len("one\ntwo\r\n\nthree\nfour\n"), n)

	assert.Equal(t, []string{"two", "three", "four"}, tail.History())
}

func TestTailJoinsLinesSplitAcrossWrites(t *testing.T) {
	tail := NewTail(4)

	_, _ = tail.Write([]byte("hel"))
	assert.Empty(t, tail.History(), "unterminated fragment is held back")

	_, _ = tail.Write([]byte("lo\nwor"))
	_, _ = tail.Write([]byte("ld\r\n"))

	assert.Equal(t, []string{"hello", "world"}, tail.History())
}

func TestTailEmitsOversizedFragment(t *testing.T) {
	tail := NewTail(2)
	long := strings.Repeat("x", maxPendingBytes+1)

	_, _ = tail.Write([]byte(long))

	assert.Equal(t, []string{long}, tail.History())
}

func TestTailSubscribeReturnsHistoryAndReceivesLines(t *testing.T) {
	tail := NewTail(4)
	_, _ = tail.Write([]byte("before\n"))

	id, ch, history := tail.Subscribe()
	require.NotEmpty(t, id)
	assert.Equal(t, []string{"before"}, history)

	_, _ = tail.Write([]byte("after\n"))

	select {
	case line := <-ch:
		assert.Equal(t, "after", line)
	case <-time.After(time.Second):
		t.Fatal("expected subscriber to receive line")
	}

	tail.Unsubscribe(id)
	_, open := <-ch
	assert.False(t, open, "unsubscribe closes the channel")

	// Unknown ids are ignored.
	tail.Unsubscribe("missing")
}

func TestTailDropsForBlockedSubscriber(t *testing.T) {
	tail := NewTail(1)
	_, ch, _ := tail.Subscribe()

	_, _ = tail.Write([]byte("first\nsecond\nthird\n"))

	assert.Equal(t, "first", <-ch)
	assert.Equal(t, uint64(2), tail.Dropped())
	assert.Equal(t, []string{"third"}, tail.History())
}

func TestNewTailDefaultsSize(t *testing.T) {
	tail := NewTail(0)
	assert.Equal(t, DefaultTailSize, tail.size)
}
