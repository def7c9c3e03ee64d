package support

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// lookupJSON walks a dotted path such as "predictions.0.text" through a JSON
// document and returns the value rendered as a string.
func lookupJSON(doc, path string) (string, error) {
	var v any
	if err := json.Unmarshal([]byte(strings.TrimSpace(doc)), &v); err != nil {
		return "", fmt.Errorf("invalid JSON: %w\n%s", err, doc)
	}
	for _, key := range strings.Split(path, ".") {
		switch node := v.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return "", fmt.Errorf("field %q not found in path %q", key, path)
			}
			v = next
		case []any:
			i, err := strconv.Atoi(key)
			if err != nil || i < 0 || i >= len(node) {
				return "", fmt.Errorf("index %q out of range in path %q", key, path)
			}
			v = node[i]
		default:
			return "", fmt.Errorf("cannot descend into %T at %q", v, key)
		}
	}

	switch val := v.(type) {
	case string:
		return val, nil
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), nil
	case nil:
		return "null", nil
	default:
		b, err := json.Marshal(val)
		return string(b), err
	}
}

func jsonFieldShouldEqual(doc, path, expected string) error {
	actual, err := lookupJSON(doc, path)
	if err != nil {
		return err
	}
	if actual != expected {
		return fmt.Errorf("field %q is %q, expected %q", path, actual, expected)
	}
	return nil
}

// jsonFieldShouldBeNear compares a numeric field within tolerance.
func jsonFieldShouldBeNear(doc, path string, expected, tolerance float64) error {
	actual, err := lookupJSON(doc, path)
	if err != nil {
		return err
	}
	f, err := strconv.ParseFloat(actual, 64)
	if err != nil {
		return fmt.Errorf("field %q is not a number: %q", path, actual)
	}
	if diff := f - expected; diff > tolerance || diff < -tolerance {
		return fmt.Errorf("field %q is %v, expected %v", path, f, expected)
	}
	return nil
}
