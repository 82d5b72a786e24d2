package probe

import (
	"fmt"
	"strconv"
	"strings"

	gojson "github.com/coreos/go-json"
	jp "github.com/reclaimprotocol/jsonpathplus-go"
)

// Selection is one JSONPath match with its exact source text.
type Selection struct {
	Path string
	Raw  []byte
}

// Select evaluates a JSONPath expression over the payload and returns each
// match as the byte range it occupies in doc, so values print exactly as the
// server sent them. Matches come from jsonpathplus-go; their offsets come
// from the positioned go-json tree.
func Select(doc []byte, expr string) ([]Selection, error) {
	results, err := jp.Query(expr, string(doc))
	if err != nil {
		return nil, fmt.Errorf("JSONPath query failed: %v", err)
	}
	if len(results) == 0 {
		return nil, nil
	}

	var root gojson.Node
	if err := gojson.Unmarshal(doc, &root); err != nil {
		return nil, fmt.Errorf("failed to parse JSON for offsets: %v", err)
	}

	selections := make([]Selection, 0, len(results))
	for _, r := range results {
		steps, err := parsePath(r.Path)
		if err != nil {
			return nil, err
		}
		n, err := locate(&root, steps)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve path %q: %v", r.Path, err)
		}
		// Node.End is inclusive.
		start, end := n.Start, n.End+1
		if start < 0 || end > len(doc) || start > end {
			return nil, fmt.Errorf("invalid range computed for path %q: [%d,%d)", r.Path, start, end)
		}
		selections = append(selections, Selection{Path: r.Path, Raw: doc[start:end]})
	}
	return selections, nil
}

// pathStep is one hop of a normalized match path: an object member or an
// array element.
type pathStep struct {
	key     string
	index   int
	isIndex bool
}

func (s pathStep) String() string {
	if s.isIndex {
		return "[" + strconv.Itoa(s.index) + "]"
	}
	return "['" + s.key + "']"
}

// parsePath splits a match path such as $['items'][0].metadata into steps.
// Quoted members run to the closing quote that is followed by ']', so keys
// may contain '.', '[' and ']'.
func parsePath(path string) ([]pathStep, error) {
	rest := strings.TrimPrefix(path, "$")
	var steps []pathStep

	for rest != "" {
		switch rest[0] {
		case '.':
			rest = rest[1:]
			end := strings.IndexAny(rest, ".[")
			if end < 0 {
				end = len(rest)
			}
			if end == 0 {
				return nil, fmt.Errorf("empty member name in path %q", path)
			}
			steps = append(steps, pathStep{key: rest[:end]})
			rest = rest[end:]

		case '[':
			if len(rest) > 1 && (rest[1] == '\'' || rest[1] == '"') {
				quote := rest[1]
				closing := string([]byte{quote, ']'})
				end := strings.Index(rest[2:], closing)
				if end < 0 {
					return nil, fmt.Errorf("unterminated quoted member in path %q", path)
				}
				steps = append(steps, pathStep{key: rest[2 : 2+end]})
				rest = rest[2+end+len(closing):]
				continue
			}
			end := strings.IndexByte(rest, ']')
			if end < 0 {
				return nil, fmt.Errorf("unterminated index in path %q", path)
			}
			idx, err := strconv.Atoi(rest[1:end])
			if err != nil {
				return nil, fmt.Errorf("invalid array index %q in path %q", rest[1:end], path)
			}
			steps = append(steps, pathStep{index: idx, isIndex: true})
			rest = rest[end+1:]

		default:
			return nil, fmt.Errorf("unexpected %q in path %q", rest[0], path)
		}
	}
	return steps, nil
}

// locate walks the positioned tree along steps.
func locate(root *gojson.Node, steps []pathStep) (*gojson.Node, error) {
	n := root
	for depth, step := range steps {
		switch v := n.Value.(type) {
		case map[string]gojson.Node:
			if step.isIndex {
				return nil, fmt.Errorf("%s applied to an object at depth %d", step, depth)
			}
			member, ok := v[step.key]
			if !ok {
				return nil, fmt.Errorf("no member %s at depth %d", step, depth)
			}
			n = &member
		case []gojson.Node:
			if !step.isIndex {
				return nil, fmt.Errorf("%s applied to an array at depth %d", step, depth)
			}
			if step.index < 0 || step.index >= len(v) {
				return nil, fmt.Errorf("%s out of range for %d elements at depth %d", step, len(v), depth)
			}
			n = &v[step.index]
		default:
			return nil, fmt.Errorf("%s applied to a scalar at depth %d", step, depth)
		}
	}
	return n, nil
}
