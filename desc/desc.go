// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 2 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <http://www.gnu.org/licenses/>.

// Package desc gives typed access to board descriptors: flat key/value
// data where keys are slash-separated paths ("GROUP_4/GROUP_ID") and
// values are 32-bit words or byte arrays.
package desc

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrKeyNotFound reports an absent key. Callers treat it as "use the
	// default"; any other error is a malformed descriptor.
	ErrKeyNotFound = errors.New("descriptor key not found")
	// ErrBadValue reports a key whose value has the wrong type.
	ErrBadValue = errors.New("descriptor value has wrong type")
)

// Spec is a board descriptor. Values are uint32 (also accepted: int, for
// literal convenience) or []byte.
type Spec map[string]any

// Uint32 returns the word stored under key.
func (s Spec) Uint32(key string) (uint32, error) {
	v, ok := s[key]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	switch n := v.(type) {
	case uint32:
		return n, nil
	case int:
		if n < 0 {
			return 0, fmt.Errorf("%w: %s is negative", ErrBadValue, key)
		}
		return uint32(n), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T, want uint32", ErrBadValue, key, v)
	}
}

// Uint32Or returns the word stored under key, or def if the key is absent.
// A present but malformed value is still an error.
func (s Spec) Uint32Or(key string, def uint32) (uint32, error) {
	v, err := s.Uint32(key)
	if errors.Is(err, ErrKeyNotFound) {
		return def, nil
	}
	return v, err
}

// Binary returns the byte array stored under key.
func (s Spec) Binary(key string) ([]byte, error) {
	v, ok := s[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, key)
	}
	b, ok := v.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: %s is %T, want []byte", ErrBadValue, key, v)
	}
	return b, nil
}

// BinaryOr returns the byte array stored under key, or def if absent.
func (s Spec) BinaryOr(key string, def []byte) ([]byte, error) {
	v, err := s.Binary(key)
	if errors.Is(err, ErrKeyNotFound) {
		return def, nil
	}
	return v, err
}

// FromJSON loads a descriptor from a JSON document. Nested objects are
// flattened with "/" separators; numbers and "0x"-prefixed strings become
// words, arrays of numbers become byte arrays.
func FromJSON(data []byte) (Spec, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("descriptor: %w", err)
	}
	s := Spec{}
	if err := flatten(s, "", raw); err != nil {
		return nil, err
	}
	return s, nil
}

func flatten(s Spec, prefix string, raw map[string]any) error {
	for k, v := range raw {
		key := k
		if prefix != "" {
			key = prefix + "/" + k
		}
		switch val := v.(type) {
		case map[string]any:
			if err := flatten(s, key, val); err != nil {
				return err
			}
		case []any:
			b := make([]byte, len(val))
			for i, e := range val {
				n, err := toUint32(key, e)
				if err != nil {
					return err
				}
				if n > 0xFF {
					return fmt.Errorf("%w: %s[%d]=0x%x exceeds a byte",
						ErrBadValue, key, i, n)
				}
				b[i] = byte(n)
			}
			s[key] = b
		default:
			n, err := toUint32(key, v)
			if err != nil {
				return err
			}
			s[key] = n
		}
	}
	return nil
}

func toUint32(key string, v any) (uint32, error) {
	switch n := v.(type) {
	case float64:
		if n < 0 || n != float64(uint32(n)) {
			return 0, fmt.Errorf("%w: %s=%v not a 32-bit word", ErrBadValue, key, n)
		}
		return uint32(n), nil
	case string:
		t := strings.TrimPrefix(strings.ToLower(n), "0x")
		u, err := strconv.ParseUint(t, 16, 32)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q: %v", ErrBadValue, key, n, err)
		}
		return uint32(u), nil
	default:
		return 0, fmt.Errorf("%w: %s is %T", ErrBadValue, key, v)
	}
}
