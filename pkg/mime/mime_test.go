// $ go test -v pkg/mime/*.go

package mime

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDetect(t *testing.T) {
	assert.True(t, IsJSON([]byte(`{"id":"heavy-north","priority":10}`)))
	assert.True(t, IsJSON([]byte(`[{"id":"a"}]`)))
	assert.False(t, IsJSON([]byte("id: heavy-north\npriority: 10\n")))
	assert.Equal(t, "text/plain", Detect([]byte("id: heavy-north\n")))
}

func TestDetectReader(t *testing.T) {
	body := `{"version":1,"rules":[]}`
	mtype, r, err := DetectReader(strings.NewReader(body))
	assert.NoError(t, err)
	assert.Equal(t, JSON, mtype)

	all, err := io.ReadAll(r)
	assert.NoError(t, err)
	assert.Equal(t, body, string(all))
}
