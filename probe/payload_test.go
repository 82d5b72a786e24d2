package probe

import (
	"remoteuser-probe/shared"
	"testing"

	gojson "github.com/coreos/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodePayloadPreservesContent(t *testing.T) {
	lines := []string{
		`{"items":[]}`,
		`{"kind":"PodMetricsList","items":[{"metadata":{"name":"a"},"window":"30s"}]}` + "\r\n",
		`[1,2.5,-3e2,true,false,null,"x"]`,
		`{"nested":{"deeper":{"deepest":[{"k":"v"}]}},"unicode":"héllo ☃"}`,
		`"just a string"`,
		`42`,
		`  {"padded" : true}  `,
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			p, err := DecodePayload(line)
			require.NoError(t, err)

			var again interface{}
			require.NoError(t, gojson.Unmarshal(p.Pretty, &again))
			assert.Equal(t, p.Document, again)
		})
	}
}

func TestDecodePayloadKeepsKeyOrder(t *testing.T) {
	p, err := DecodePayload(`{"zeta":1,"alpha":{"b":2,"a":3}}` + "\r\n")
	require.NoError(t, err)

	assert.Equal(t, "{\n  \"zeta\": 1,\n  \"alpha\": {\n    \"b\": 2,\n    \"a\": 3\n  }\n}", string(p.Pretty))
	assert.Equal(t, `{"zeta":1,"alpha":{"b":2,"a":3}}`, string(p.Raw))
}

func TestDecodePayloadRejectsMalformed(t *testing.T) {
	lines := []string{
		`{"items":[`,
		`{"items":[]}}`,
		`{'single':'quotes'}`,
		"",
		"\r\n",
		"HTTP/1.1 200 OK",
	}

	for _, line := range lines {
		t.Run(line, func(t *testing.T) {
			p, err := DecodePayload(line)
			require.Error(t, err)
			assert.Nil(t, p)
			assert.ErrorIs(t, err, shared.ErrDecode)
		})
	}
}
