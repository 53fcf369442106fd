package syncgroup

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestGroup_WaitForAll(t *testing.T) {
	g := New()
	release := make(chan struct{})
	g.Go("feed", func() { <-release })
	g.Go("catalog", func() { <-release })

	assert.Equal(t, map[string]int{"feed": 1, "catalog": 1}, g.Running())
	assert.False(t, g.WaitTimeout(20*time.Millisecond), "任务未结束时应超时")

	close(release)
	g.Wait()
	assert.Empty(t, g.Running())
}

func TestGroup_NilFunc(t *testing.T) {
	g := New()
	g.Go("noop", nil)
	assert.True(t, g.WaitTimeout(time.Second))
	assert.Empty(t, g.Running())
}
