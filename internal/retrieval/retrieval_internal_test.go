package retrieval

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamespaceFilterEmptyBecomesNil(t *testing.T) {
	assert.Nil(t, namespaceFilter(nil))
	assert.Nil(t, namespaceFilter([]string{}))
}

func TestNamespaceFilterPassesThroughNonEmpty(t *testing.T) {
	in := []string{"docs", "code"}
	assert.Equal(t, in, namespaceFilter(in))
}
