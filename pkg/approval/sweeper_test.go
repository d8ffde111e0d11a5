package approval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSweeperRemovesExpiredRecords(t *testing.T) {
	s := NewStore().WithRemoveOnExpiry(true)
	now := time.Now()
	s.Add(testRecord("approval-stale", now, 10*time.Millisecond))

	sw := NewSweeper(s, 20*time.Millisecond, nil)
	sw.Start()
	defer sw.Stop()

	assert.Eventually(t, func() bool { return s.Size() == 0 }, time.Second, 10*time.Millisecond)
}

func TestSweeperZeroIntervalDisabled(t *testing.T) {
	s := NewStore()
	sw := NewSweeper(s, 0, nil)
	sw.Start()
	sw.Stop() // returns immediately
	assert.Equal(t, 0, s.Size())
}
