package execute

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Result is the outcome of one execution: either Output or Detail is set.
type Result struct {
	OK     bool
	Output string
	Detail string
}

// Text returns the success text or the failure detail.
func (r Result) Text() string {
	if r.OK {
		return r.Output
	}

	return r.Detail
}

func success(text string) Result {
	return Result{OK: true, Output: text}
}

func failure(detail string) Result {
	return Result{Detail: detail}
}

// Normalize turns a successful response body into a Result.
//
// A body that is not JSON is the output itself. A JSON string is parsed a
// second time, since the service sometimes double-encodes. For an object, a
// truthy "error" field or a "statusCode" other than 200 is a failure whose
// detail is the whole object; otherwise a non-empty "output" field is the
// output, and anything else is returned serialized.
func Normalize(body []byte) Result {
	var value any
	if err := json.Unmarshal(body, &value); err != nil {
		return success(string(body))
	}

	if s, ok := value.(string); ok {
		var inner any
		if err := json.Unmarshal([]byte(s), &inner); err != nil {
			return success(s)
		}

		value = inner
	}

	obj, ok := value.(map[string]any)
	if !ok {
		return success(pretty(value))
	}

	if truthy(obj["error"]) || !statusOK(obj) {
		return failure(pretty(obj))
	}

	if out, ok := obj["output"].(string); ok && out != "" {
		return success(out)
	}

	if out, ok := obj["output"]; ok && out != nil && out != "" {
		return success(pretty(out))
	}

	return success(pretty(obj))
}

// transportDetail describes a failed call from whatever the service sent.
func transportDetail(body []byte, err error) string {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) > 0 {
		var value any
		if json.Unmarshal(trimmed, &value) == nil {
			return pretty(value)
		}

		return string(trimmed)
	}

	if err != nil {
		return err.Error()
	}

	return "unknown error"
}

// statusOK applies the status rule: an absent or null statusCode passes, and
// a present one must equal 200, either as a number or as a numeric string.
// Bodies that are not objects never reach here and carry no status.
func statusOK(obj map[string]any) bool {
	code, ok := obj["statusCode"]
	if !ok || code == nil {
		return true
	}

	switch v := code.(type) {
	case float64:
		return v == 200
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(v))

		return err == nil && n == 200
	default:
		return false
	}
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	default:
		return true
	}
}

func pretty(v any) string {
	if s, ok := v.(string); ok {
		return s
	}

	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return ""
	}

	return string(out)
}
