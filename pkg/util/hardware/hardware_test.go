package hardware

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetCPUNum(t *testing.T) {
	assert.GreaterOrEqual(t, GetCPUNum(), 1)
	assert.Equal(t, GetCPUNum(), GetCPUNum())
}

func TestGetMemoryCount(t *testing.T) {
	assert.GreaterOrEqual(t, GetMemoryCount(), uint64(0))
}
