package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Int decodes integers the backend sends either as JSON numbers or as numeric strings.
type Int int64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Int) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		str = strings.TrimSpace(str)
		if str == "" {
			*n = 0
			return nil
		}
		data = []byte(str)
	}
	if v, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*n = Int(v)
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return err
	}
	if math.IsNaN(v) || v < -(1<<63) || v >= 1<<63 {
		return fmt.Errorf("backend: integer %s out of range", data)
	}
	*n = Int(v)
	return nil
}

// Succeeded decodes the backend's operation markers, which arrive as booleans or as status words.
type Succeeded bool

// UnmarshalJSON implements json.Unmarshaler.
func (s *Succeeded) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = false
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*s = Succeeded(b)
		return nil
	}
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}
	*s = Succeeded(IsSuccessWord(str))
	return nil
}

// IsSuccessWord reports whether a backend status string means the operation went through.
func IsSuccessWord(status string) bool {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "true", "ok", "success", "succeeded", "done", "created", "added", "deleted":
		return true
	default:
		return false
	}
}
