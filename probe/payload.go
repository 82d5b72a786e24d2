package probe

import (
	"bytes"
	"remoteuser-probe/shared"
	"strings"

	gojson "github.com/coreos/go-json"
)

// Payload is the decoded last line of the response.
type Payload struct {
	Raw      []byte      // the line without its terminator
	Document interface{} // decoded value
	Pretty   []byte      // Raw re-indented, key order preserved
}

// DecodePayload parses line as JSON. Anything that is not a single valid
// JSON value is a decode error.
func DecodePayload(line string) (*Payload, error) {
	raw := []byte(strings.TrimRight(line, "\r\n"))

	var doc interface{}
	if err := gojson.Unmarshal(raw, &doc); err != nil {
		return nil, shared.NewProbeError(shared.KindDecode, "decode payload", err)
	}

	var pretty bytes.Buffer
	if err := gojson.Indent(&pretty, raw, "", "  "); err != nil {
		return nil, shared.NewProbeError(shared.KindDecode, "indent payload", err)
	}
	// Indent keeps surrounding whitespace from the source line.
	return &Payload{
		Raw:      raw,
		Document: doc,
		Pretty:   bytes.TrimSpace(pretty.Bytes()),
	}, nil
}
