package payload

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/upb/llm-gateway/services/providers"
)

// CircularSentinel replaces a value that refers back to one of its ancestors
const CircularSentinel = "[Circular]"

// Canonical serializes v as JSON with sorted object keys. Numbers are written
// in their shortest form so 100 and 100.0 serialize identically. Cycles are
// replaced with CircularSentinel instead of failing.
func Canonical(v any) string {
	var b strings.Builder
	c := canonicalizer{b: &b, visiting: make(map[container]bool)}
	c.write(reflect.ValueOf(v))
	return b.String()
}

// Fingerprint identifies a request by provider, model and payload
func Fingerprint(provider, model string, body any) string {
	sum := sha256.Sum256([]byte(Canonical(map[string]any{
		"provider": strings.ToLower(strings.TrimSpace(provider)),
		"model":    model,
		"payload":  body,
	})))
	return hex.EncodeToString(sum[:])
}

// container identifies a map, pointer or slice on the current path. Slices
// that share a backing array are told apart by length, so a[:1] stored inside
// a is a distinct value and not a cycle.
type container struct {
	ptr uintptr
	len int
}

type canonicalizer struct {
	b        *strings.Builder
	visiting map[container]bool
}

func (c *canonicalizer) write(v reflect.Value) {
	if !v.IsValid() {
		c.b.WriteString("null")
		return
	}

	switch v.Kind() {
	case reflect.Interface, reflect.Pointer:
		if v.IsNil() {
			c.b.WriteString("null")
			return
		}
		if v.Kind() == reflect.Pointer {
			key := container{ptr: v.Pointer(), len: -1}
			if c.enter(key) {
				return
			}
			defer c.leave(key)
		}
		c.write(v.Elem())
	case reflect.String:
		c.writeString(v.String())
	case reflect.Bool:
		c.b.WriteString(strconv.FormatBool(v.Bool()))
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		c.b.WriteString(strconv.FormatInt(v.Int(), 10))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		c.b.WriteString(strconv.FormatUint(v.Uint(), 10))
	case reflect.Float32, reflect.Float64:
		c.writeFloat(v.Float())
	case reflect.Map:
		c.writeMap(v)
	case reflect.Slice, reflect.Array:
		c.writeSlice(v)
	default:
		c.writeFallback(v)
	}
}

func (c *canonicalizer) writeMap(v reflect.Value) {
	if v.IsNil() {
		c.b.WriteString("null")
		return
	}
	if v.Type().Key().Kind() != reflect.String {
		c.writeFallback(v)
		return
	}
	key := container{ptr: v.Pointer(), len: -1}
	if c.enter(key) {
		return
	}
	defer c.leave(key)

	keys := make([]string, 0, v.Len())
	for _, k := range v.MapKeys() {
		keys = append(keys, k.String())
	}
	sort.Strings(keys)

	c.b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			c.b.WriteByte(',')
		}
		c.writeString(k)
		c.b.WriteByte(':')
		c.write(v.MapIndex(reflect.ValueOf(k).Convert(v.Type().Key())))
	}
	c.b.WriteByte('}')
}

func (c *canonicalizer) writeSlice(v reflect.Value) {
	if v.Kind() == reflect.Slice {
		if v.IsNil() {
			c.b.WriteString("null")
			return
		}
		if v.Type().Elem().Kind() == reflect.Uint8 {
			c.writeString(string(v.Bytes()))
			return
		}
		if v.Len() > 0 {
			key := container{ptr: v.Pointer(), len: v.Len()}
			if c.enter(key) {
				return
			}
			defer c.leave(key)
		}
	}

	c.b.WriteByte('[')
	for i := 0; i < v.Len(); i++ {
		if i > 0 {
			c.b.WriteByte(',')
		}
		c.write(v.Index(i))
	}
	c.b.WriteByte(']')
}

func (c *canonicalizer) writeString(s string) {
	data, _ := json.Marshal(s)
	c.b.Write(data)
}

func (c *canonicalizer) writeFloat(f float64) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		c.writeString(strconv.FormatFloat(f, 'g', -1, 64))
		return
	}
	c.b.WriteString(strconv.FormatFloat(f, 'f', -1, 64))
}

// writeFallback handles structs and other kinds by round-tripping through encoding/json
func (c *canonicalizer) writeFallback(v reflect.Value) {
	generic, err := toGeneric(v)
	if err != nil {
		c.writeString(fmt.Sprint(v))
		return
	}
	c.write(reflect.ValueOf(generic))
}

func toGeneric(v reflect.Value) (any, error) {
	if !v.CanInterface() {
		return nil, &providers.SerializationError{Cause: fmt.Errorf("unexported value of type %s", v.Type())}
	}
	data, err := json.Marshal(v.Interface())
	if err != nil {
		return nil, &providers.SerializationError{Cause: err}
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, &providers.SerializationError{Cause: err}
	}
	return generic, nil
}

// enter marks a container as on the current path; returns true when it already was
func (c *canonicalizer) enter(key container) bool {
	if c.visiting[key] {
		c.writeString(CircularSentinel)
		return true
	}
	c.visiting[key] = true
	return false
}

func (c *canonicalizer) leave(key container) {
	delete(c.visiting, key)
}
