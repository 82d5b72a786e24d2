package probe

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// VerdictKind says whether the target acted on the asserted identity.
type VerdictKind string

const (
	VerdictTrusted VerdictKind = "trusted" // a resource list came back
	VerdictDenied  VerdictKind = "denied"
	VerdictUnknown VerdictKind = "unknown"
)

// Verdict summarises one exchange.
type Verdict struct {
	Kind       VerdictKind
	StatusCode int // 0 when the status line did not parse
	Reason     string
}

// A metav1.Status with status Failure, as returned for 401/403/404.
const statusFailureSchema = `{
  "type": "object",
  "required": ["kind", "status"],
  "properties": {
    "kind": {"enum": ["Status"]},
    "status": {"enum": ["Failure"]},
    "reason": {"type": "string"},
    "message": {"type": "string"},
    "code": {"type": "integer"}
  }
}`

// Any list kind: PodMetricsList, PodList, ...
const listSchema = `{
  "type": "object",
  "required": ["items"],
  "properties": {
    "kind": {"type": "string"},
    "items": {"type": "array"}
  }
}`

var (
	schemaOnce     sync.Once
	statusSchema   *gojsonschema.Schema
	listOnlySchema *gojsonschema.Schema
	schemaErr      error
)

func compileSchemas() error {
	schemaOnce.Do(func() {
		statusSchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(statusFailureSchema))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile status schema: %w", schemaErr)
			return
		}
		listOnlySchema, schemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(listSchema))
		if schemaErr != nil {
			schemaErr = fmt.Errorf("failed to compile list schema: %w", schemaErr)
		}
	})
	return schemaErr
}

// Classify decides what the exchange tells us about the target.
func Classify(result *Result) (Verdict, error) {
	v := Verdict{Kind: VerdictUnknown}
	if result == nil {
		v.Reason = "no response"
		return v, nil
	}
	if _, code, _, ok := ParseStatusLine(result.StatusLine()); ok {
		v.StatusCode = code
	}
	if result.Payload == nil {
		v.Reason = "no payload"
		return v, nil
	}
	if err := compileSchemas(); err != nil {
		return v, err
	}

	doc := gojsonschema.NewBytesLoader(result.Payload.Raw)

	res, err := statusSchema.Validate(doc)
	if err != nil {
		return v, fmt.Errorf("status validation failed: %w", err)
	}
	if res.Valid() {
		v.Kind = VerdictDenied
		v.Reason = statusReason(result.Payload.Document)
		return v, nil
	}

	res, err = listOnlySchema.Validate(doc)
	if err != nil {
		return v, fmt.Errorf("list validation failed: %w", err)
	}
	if res.Valid() {
		if v.StatusCode == 0 || v.StatusCode/100 == 2 {
			v.Kind = VerdictTrusted
			v.Reason = fmt.Sprintf("list with %d items returned for asserted identity", countItems(result.Payload.Document))
			return v, nil
		}
		v.Reason = fmt.Sprintf("list returned with status %d", v.StatusCode)
		return v, nil
	}

	if v.StatusCode == 401 || v.StatusCode == 403 {
		v.Kind = VerdictDenied
		v.Reason = fmt.Sprintf("status %d", v.StatusCode)
		return v, nil
	}

	var b strings.Builder
	for _, e := range res.Errors() {
		if b.Len() > 0 {
			b.WriteString("; ")
		}
		b.WriteString(e.String())
	}
	v.Reason = "payload is neither a list nor a Status: " + b.String()
	return v, nil
}

// ParseStatusLine splits an HTTP/1.x status line such as "HTTP/1.1 200 OK".
func ParseStatusLine(line string) (proto string, code int, reason string, ok bool) {
	line = strings.TrimRight(line, "\r\n")
	parts := strings.SplitN(line, " ", 3)
	if len(parts) < 2 || !strings.HasPrefix(parts[0], "HTTP/1.") {
		return "", 0, "", false
	}
	code, err := strconv.Atoi(parts[1])
	if err != nil || len(parts[1]) != 3 {
		return "", 0, "", false
	}
	if len(parts) == 3 {
		reason = parts[2]
	}
	return parts[0], code, reason, true
}

func statusReason(doc interface{}) string {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return ""
	}
	reason, _ := m["reason"].(string)
	message, _ := m["message"].(string)
	switch {
	case reason != "" && message != "":
		return reason + ": " + message
	case message != "":
		return message
	default:
		return reason
	}
}

func countItems(doc interface{}) int {
	m, ok := doc.(map[string]interface{})
	if !ok {
		return 0
	}
	items, _ := m["items"].([]interface{})
	return len(items)
}
