package classify

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyTransientReprepareCodes(t *testing.T) {
	t.Parallel()

	for _, number := range []int32{586, 8144, 8178, 8179} {
		assert.Equal(t, TransientReprepare, Classify(number), "error %d should be transient", number)
	}
}

func TestClassifyEverythingElseIsFatal(t *testing.T) {
	t.Parallel()

	for _, number := range []int32{208, 2627, 1205, 0} {
		assert.Equal(t, Fatal, Classify(number), "error %d should be fatal", number)
	}
}
