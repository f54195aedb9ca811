package schemas

import (
	jsoniter "github.com/json-iterator/go"
)

// json is the shared serializer for all wire shapes. jsoniter keeps large
// result payloads (hundred-thousand-line files produce sizeable finding and
// event sets) cheap to encode while staying drop-in compatible.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// MarshalJSON renders any wire shape with the shared serializer.
func MarshalJSON(v any) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndentJSON renders a human-readable form for CLI output.
func MarshalIndentJSON(v any) ([]byte, error) {
	return json.MarshalIndent(v, "", "  ")
}

// UnmarshalJSON parses a wire shape produced by MarshalJSON.
func UnmarshalJSON(data []byte, v any) error {
	return json.Unmarshal(data, v)
}
