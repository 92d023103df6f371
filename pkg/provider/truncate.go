package provider

import (
	"encoding/json"
	"fmt"
)

// MaxOutputSize is the largest serialized result returned to the caller unchanged.
const MaxOutputSize = 10 * 1024

const truncatedSuffix = "\n... [output truncated]"

// Truncate caps the serialized form of data at limit bytes. When the output is
// cut, the returned value is the truncated text and the second result is true.
func Truncate(data any, limit int) (any, bool) {
	if data == nil || limit <= 0 {
		return data, false
	}

	var str string
	switch v := data.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			str = fmt.Sprintf("%v", v)
		} else {
			str = string(b)
		}
	}

	if len(str) <= limit {
		return data, false
	}
	return str[:limit] + truncatedSuffix, true
}
