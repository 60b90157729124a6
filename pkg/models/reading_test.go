package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolutionBucketWidth(t *testing.T) {
	assert.Equal(t, time.Minute, Resolution1m.BucketWidth())
	assert.Equal(t, 15*time.Minute, Resolution15m.BucketWidth())
	assert.Equal(t, time.Hour, Resolution1h.BucketWidth())
	assert.Equal(t, 24*time.Hour, Resolution1d.BucketWidth())
	assert.Equal(t, time.Duration(0), Resolution("5m").BucketWidth())
}

func TestResolutionValid(t *testing.T) {
	for _, r := range []Resolution{Resolution1m, Resolution15m, Resolution1h, Resolution1d} {
		assert.True(t, r.Valid(), "resolution %s", r)
	}
	assert.False(t, Resolution("5m").Valid())
	assert.False(t, Resolution("").Valid())
}
