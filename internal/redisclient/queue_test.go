package redisclient

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestQueueKeysShareQueuePrefix(t *testing.T) {
	assert.Equal(t, "queue:notifications:jobs", jobsKey("notifications"))
	assert.Equal(t, "queue:notifications:wait", waitKey("notifications"))
	assert.Equal(t, "queue:notifications:delayed", delayedKey("notifications"))
	assert.Equal(t, "queue:notifications:failed", failedKey("notifications"))
}

func TestEmbeddedScriptsLoaded(t *testing.T) {
	assert.Contains(t, restoreStockScript, "HINCRBY")
	assert.Contains(t, promoteDelayedScript, "ZRANGEBYSCORE")
	assert.Contains(t, cancelDelayedScript, "ZREM")
}
