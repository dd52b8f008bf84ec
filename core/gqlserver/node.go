package gqlserver

import (
	"encoding/base32"
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/graphql-go/graphql"
)

var (
	idEncoding = base32.HexEncoding.WithPadding(base32.NoPadding)
	nodeTypes  = map[string]*NodeType{}

	//lint:ignore ST1005 'Node' is a proper noun referring to GraphQL type
	errNotFound   = errors.New("Node not found")
	errNoRetrieve = errors.New("cannot retrieve Node")
	errNoDelete   = errors.New("cannot delete Node")
	errWrongType  = errors.New("ID refers to wrong NodeType")
)

// MakeID constructs a global ID from type prefix and unprefixed ID.
func MakeID(prefix string, suffix any) string {
	return idEncoding.EncodeToString([]byte(fmt.Sprintf("%s:%v", prefix, suffix)))
}

func parseID(id string) (prefix, suffix string, ok bool) {
	value, e := idEncoding.DecodeString(id)
	if e != nil {
		return
	}
	prefix, suffix, ok = strings.Cut(string(value), ":")
	return
}

// NodeType defines a Node subtype.
type NodeType struct {
	prefix string
	typ    reflect.Type
	object *graphql.Object

	// GetID extracts unprefixed ID from the source object.
	GetID func(source any) string

	// Retrieve fetches an object from unprefixed ID.
	// It should return nil without error if the object does not exist.
	Retrieve func(id string) (any, error)

	// Delete deletes the source object.
	Delete func(source any) error
}

// Annotate updates ObjectConfig with Node interface and "id" field.
func (nt *NodeType) Annotate(oc graphql.ObjectConfig) graphql.ObjectConfig {
	if nt.GetID == nil {
		panic("NodeType.GetID is required")
	}

	interfaces, _ := oc.Interfaces.([]*graphql.Interface)
	oc.Interfaces = append(interfaces, nodeInterface)

	fields, _ := oc.Fields.(graphql.Fields)
	if fields == nil {
		fields = graphql.Fields{}
	}
	fields["id"] = &graphql.Field{
		Type:        NonNullID,
		Description: "Globally unique ID.",
		Resolve: func(p graphql.ResolveParams) (any, error) {
			return MakeID(nt.prefix, nt.GetID(p.Source)), nil
		},
	}
	oc.Fields = fields
	return oc
}

// Register enables accessing Node of this type by ID.
func (nt *NodeType) Register(object *graphql.Object) {
	nt.object = object
	Schema.Types = append(Schema.Types, object)

	if nodeTypes[nt.prefix] != nil {
		panic("duplicate prefix " + nt.prefix)
	}
	nodeTypes[nt.prefix] = nt
}

// NewNodeType creates a NodeType whose prefix is the Go type name of value.
func NewNodeType(value any) *NodeType {
	typ := reflect.TypeOf(value)
	return &NodeType{
		prefix: typ.String(),
		typ:    typ,
	}
}

var nodeInterface = graphql.NewInterface(graphql.InterfaceConfig{
	Name: "Node",
	Fields: graphql.Fields{
		"id": &graphql.Field{
			Type: NonNullID,
		},
	},
	ResolveType: func(p graphql.ResolveTypeParams) *graphql.Object {
		typ := reflect.TypeOf(p.Value)
		for _, nt := range nodeTypes {
			if typ == nt.typ {
				return nt.object
			}
		}
		return nil
	},
})

// RetrieveNode locates Node by full ID.
func RetrieveNode(id any) (*NodeType, any, error) {
	prefix, suffix, ok := parseID(fmt.Sprint(id))
	if !ok {
		return nil, nil, errNotFound
	}

	nt := nodeTypes[prefix]
	if nt == nil || nt.Retrieve == nil {
		return nt, nil, errNoRetrieve
	}

	obj, e := nt.Retrieve(suffix)
	if e != nil {
		return nt, nil, e
	}
	if val := reflect.ValueOf(obj); obj == nil || (val.Kind() == reflect.Pointer && val.IsNil()) {
		return nt, nil, errNotFound
	}
	return nt, obj, nil
}

// RetrieveNodeOfType locates Node by full ID, ensures it has correct type, and assigns it to *ptr.
func RetrieveNodeOfType(expectedNodeType *NodeType, id, ptr any) error {
	nt, node, e := RetrieveNode(id)
	if e != nil {
		return e
	}
	if nt != expectedNodeType {
		return errWrongType
	}
	reflect.ValueOf(ptr).Elem().Set(reflect.ValueOf(node))
	return nil
}

func init() {
	AddQuery(&graphql.Field{
		Name:        "node",
		Description: "Retrieve object by global ID.",
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{
				Type: NonNullID,
			},
		},
		Type: nodeInterface,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			_, obj, e := RetrieveNode(p.Args["id"])
			return obj, e
		},
	})

	AddMutation(&graphql.Field{
		Name:        "delete",
		Description: "Delete object by global ID. The result indicates whether the object previously exists.",
		Args: graphql.FieldConfigArgument{
			"id": &graphql.ArgumentConfig{
				Type: NonNullID,
			},
		},
		Type: NonNullBoolean,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			nt, obj, e := RetrieveNode(p.Args["id"])
			if e != nil || obj == nil {
				return false, e
			}
			if nt.Delete == nil {
				return true, errNoDelete
			}
			return true, nt.Delete(obj)
		},
	})
}
