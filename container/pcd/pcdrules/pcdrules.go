// Package pcdrules compiles declarative rule sets into classification nodes and trees.
package pcdrules

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/fmpcd/fmpcd/container/pcd"
	"github.com/fmpcd/fmpcd/container/pcd/netenv"
	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/jsonhelper"
	"github.com/fmpcd/fmpcd/core/logging"
	"github.com/ghodss/yaml"
	"github.com/xeipuuv/gojsonschema"
)

var logger = logging.New("pcdrules")

//go:embed schema.json
var schemaJSON []byte

var schema = func() *gojsonschema.Schema {
	s, e := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if e != nil {
		panic(e)
	}
	return s
}()

// ActionRule is an Action that refers to nodes and manipulations by name.
type ActionRule struct {
	Engine pcddef.Engine `json:"engine"`
	Drop   bool          `json:"drop,omitempty"`
	// Fqid, if not zero, overrides the frame queue.
	Fqid          uint32 `json:"fqid,omitempty"`
	Statistics    bool   `json:"statistics,omitempty"`
	Scheme        uint8  `json:"scheme,omitempty"`
	Profile       uint16 `json:"profile,omitempty"`
	SharedProfile bool   `json:"sharedProfile,omitempty"`
	Node          string `json:"node,omitempty"`
	Manip         string `json:"manip,omitempty"`
}

// KeyRule is one key of a node.
type KeyRule struct {
	Key Literal `json:"key"`
	// Mask is a hex string of the key's size; an IP prefix key implies its own mask.
	Mask   string     `json:"mask,omitempty"`
	Action ActionRule `json:"action"`
}

// NodeRule declares a classification node.
type NodeRule struct {
	Extraction pcddef.Extraction `json:"extraction"`
	Keys       []KeyRule         `json:"keys,omitempty"`
	Miss       ActionRule        `json:"miss"`
}

// GroupRule declares a tree group; units are referenced by name.
type GroupRule struct {
	Units   []string     `json:"units"`
	Entries []ActionRule `json:"entries"`
}

// TreeRule declares a classification tree.
type TreeRule struct {
	Groups []GroupRule `json:"groups"`
}

// Document is a rule set.
type Document struct {
	Units  []netenv.Unit              `json:"units"`
	Manips map[string]pcd.ManipParams `json:"manips,omitempty"`
	Nodes  map[string]NodeRule        `json:"nodes,omitempty"`
	Trees  map[string]TreeRule        `json:"trees"`
}

// Parse parses and validates a YAML or JSON rule set.
func Parse(data []byte) (doc Document, e error) {
	j, e := yaml.YAMLToJSON(data)
	if e != nil {
		return doc, fmt.Errorf("%w: %v", pcddef.ErrConfig, e)
	}

	res, e := schema.Validate(gojsonschema.NewBytesLoader(j))
	if e != nil {
		return doc, fmt.Errorf("%w: %v", pcddef.ErrConfig, e)
	}
	if !res.Valid() {
		var msgs []string
		for _, re := range res.Errors() {
			msgs = append(msgs, re.String())
		}
		return doc, fmt.Errorf("%w: %s", pcddef.ErrConfig, strings.Join(msgs, "; "))
	}

	if e = jsonhelper.Decode(j, &doc, jsonhelper.DisallowUnknownFields); e != nil {
		return doc, fmt.Errorf("%w: %v", pcddef.ErrConfig, e)
	}
	return doc, nil
}

// Load reads a rule set from a file.
func Load(filename string) (doc Document, e error) {
	data, e := os.ReadFile(filename)
	if e != nil {
		return doc, e
	}
	return Parse(data)
}
