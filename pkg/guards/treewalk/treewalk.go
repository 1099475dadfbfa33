// Package treewalk provides the generic depth-first traversal shared by the
// structural guards. Request bodies are heterogeneous trees of maps, sequences
// and scalars; the walker normalizes the bson and plain-interface shapes into
// one visitor callback carrying an explicit path accumulator.
package treewalk

import (
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
)

// Visit is invoked once per map entry before its value is descended into.
// Returning false stops the walk immediately.
type Visit func(path string, key string, value interface{}) bool

// Walk traverses body depth-first, visiting maps key-by-key and sequences
// element-by-element. Scalars and nil terminate recursion. Returns false when
// the visitor stopped the walk early.
func Walk(body interface{}, visit Visit) bool {
	return walk(body, "", visit)
}

func walk(value interface{}, path string, visit Visit) bool {
	if m, ok := AsMap(value); ok {
		for key, val := range m {
			childPath := ChildPath(path, key)
			if !visit(childPath, key, val) {
				return false
			}
			if !walk(val, childPath, visit) {
				return false
			}
		}
		return true
	}
	if seq, ok := AsSlice(value); ok {
		for i, item := range seq {
			if !walk(item, ElemPath(path, i), visit) {
				return false
			}
		}
		return true
	}
	return true
}

// AsMap normalizes the map shapes a request body can carry.
func AsMap(value interface{}) (map[string]interface{}, bool) {
	switch v := value.(type) {
	case bson.M:
		return v, true
	case map[string]interface{}:
		return v, true
	case bson.D:
		m := make(map[string]interface{}, len(v))
		for _, e := range v {
			m[e.Key] = e.Value
		}
		return m, true
	default:
		return nil, false
	}
}

// AsSlice normalizes the sequence shapes a request body can carry.
func AsSlice(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case bson.A:
		return v, true
	case []interface{}:
		return v, true
	case []bson.M:
		seq := make([]interface{}, len(v))
		for i, item := range v {
			seq[i] = item
		}
		return seq, true
	default:
		return nil, false
	}
}

// ChildPath appends a map key to a dotted path.
func ChildPath(path, key string) string {
	if path == "" {
		return key
	}
	return path + "." + key
}

// ElemPath appends a sequence index to a path.
func ElemPath(path string, i int) string {
	if path == "" {
		return fmt.Sprintf("[%d]", i)
	}
	return fmt.Sprintf("%s[%d]", path, i)
}
