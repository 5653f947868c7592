package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector(t *testing.T) {
	c := New(prometheus.NewRegistry())

	c.ConversationStarted()
	c.MessageAppended("user")
	c.MessageAppended("user")
	c.MessageAppended("assistant")
	c.Skipped("message")
	c.StorageError("create_file")
	c.SetLoaded(3)

	assert.Equal(t, 1.0, testutil.ToFloat64(c.started))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.appended.WithLabelValues("user")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.appended.WithLabelValues("assistant")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.skipped.WithLabelValues("message")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.storageErrors.WithLabelValues("create_file")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.loaded))
}

func TestNilCollector(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.ConversationStarted()
		c.MessageAppended("user")
		c.Skipped("folder")
		c.StorageError("read_file")
		c.SetLoaded(1)
	})
}
