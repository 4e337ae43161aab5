package runs

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/openctemio/qualitygate/pkg/domain/run"
)

//go:embed schema/result.schema.json
var resultSchemaJSON string

var resultSchema = jsonschema.MustCompileString("result.schema.json", resultSchemaJSON)

// ErrMalformedResult is returned for result documents that do not declare a
// usable overall status.
var ErrMalformedResult = errors.New("malformed result document")

// ExtractOverallResult validates a result document and returns its
// declared overall status.
func ExtractOverallResult(doc []byte) (run.OverallResult, error) {
	var raw any
	if err := yaml.Unmarshal(doc, &raw); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}

	encoded, err := json.Marshal(jsonCompatible(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	value, err := jsonschema.UnmarshalJSON(bytes.NewReader(encoded))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}
	if err := resultSchema.Validate(value); err != nil {
		return "", fmt.Errorf("%w: %w", ErrMalformedResult, err)
	}

	status, _ := value.(map[string]any)["overallStatus"].(string)
	result, ok := run.ParseOverallResult(status)
	if !ok {
		return "", fmt.Errorf("%w: unknown overall status %q", ErrMalformedResult, status)
	}
	return result, nil
}

// jsonCompatible converts YAML mappings with non-string keys so the value can
// be encoded as JSON.
func jsonCompatible(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = jsonCompatible(val)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[fmt.Sprint(k)] = jsonCompatible(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, val := range t {
			out[i] = jsonCompatible(val)
		}
		return out
	default:
		return v
	}
}
