package mime

import (
	"bytes"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

const sniffLen = 3072

const (
	JSON = "application/json"
	YAML = "application/yaml"
)

// returns the MIME type of input and a new reader containing the whole data from input
func DetectReader(input io.Reader) (string, io.Reader, error) {
	header := new(bytes.Buffer)
	_, err := io.CopyN(header, input, sniffLen)
	// io.EOF means input is smaller than sniffLen, it's not an error in this case
	if err != nil && err != io.EOF {
		return "", nil, err
	}

	mtype := mimetype.Detect(header.Bytes())
	return mtype.String(), io.MultiReader(header, input), nil
}

// Detect returns the MIME type of data without parameters, "application/json" for
// JSON documents and "text/plain" for anything textual it cannot name.
func Detect(data []byte) string {
	m := mimetype.Detect(data)
	for p := m; p != nil; p = p.Parent() {
		if p.Is(JSON) {
			return JSON
		}
	}
	return bareType(m.String())
}

func IsJSON(data []byte) bool {
	return Detect(data) == JSON
}

func bareType(s string) string {
	if i := strings.IndexByte(s, ';'); i > -1 {
		return s[:i]
	}
	return s
}
