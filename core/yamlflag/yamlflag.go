// Package yamlflag provides a command line flag that accepts a YAML document.
package yamlflag

import (
	"encoding/json"
	"os"
	"reflect"

	"github.com/ghodss/yaml"
)

// Value is a flag value that recognizes a YAML or JSON document.
// It satisfies flag.Getter and urfave/cli Generic.
//
// The document can be specified directly on the command line:
//
//	--flag="key: value"
//
// Or it can be read from a file, when the flag value starts with '@':
//
//	--flag=@file.yaml
type Value struct {
	ptr any
}

// New creates a Value that decodes into ptr.
// Panics if ptr is not a pointer.
func New(ptr any) *Value {
	if val := reflect.ValueOf(ptr); val.Kind() != reflect.Pointer {
		panic(val.Kind())
	}
	return &Value{ptr}
}

// Get returns the pointer passed to New.
func (v *Value) Get() any {
	return v.ptr
}

// Set decodes a document or @file.
func (v *Value) Set(s string) error {
	doc := []byte(s)
	if len(s) >= 1 && s[0] == '@' {
		file, e := os.ReadFile(s[1:])
		if e != nil {
			return e
		}
		doc = file
	}
	return yaml.Unmarshal(doc, v.ptr)
}

func (v *Value) String() string {
	if v == nil || v.ptr == nil {
		return ""
	}
	j, _ := json.Marshal(v.ptr)
	return string(j)
}
