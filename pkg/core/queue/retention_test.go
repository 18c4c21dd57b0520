package queue

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionScheduler_InvalidConfig(t *testing.T) {
	history := newFakeHistory()

	// 保留天数非法
	rs := NewRetentionScheduler(history, 0)
	assert.Error(t, rs.Start("0 0 3 * * *"))

	// Cron表达式非法
	rs = NewRetentionScheduler(history, 30)
	assert.Error(t, rs.Start("not a cron"))
}

func TestRetentionScheduler_StartStop(t *testing.T) {
	history := newFakeHistory()

	rs := NewRetentionScheduler(history, 30)
	require.NoError(t, rs.Start("0 0 3 * * *"))
	rs.Stop()
}
