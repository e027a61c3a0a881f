package banner

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrintAlignsLabels(t *testing.T) {
	var buf bytes.Buffer
	Print(&buf, "rtpcontrol", []ConfigLine{
		{Label: "Listen", Value: "127.0.0.1:9002"},
		{Label: "Request timeout", Value: "1.5s"},
	})

	out := buf.String()
	assert.Contains(t, out, "rtpcontrol\n")
	assert.Contains(t, out, "  Listen          : 127.0.0.1:9002\n")
	assert.Contains(t, out, "  Request timeout : 1.5s\n")
	assert.True(t, strings.HasSuffix(out, footer+"\n\n"))
}
