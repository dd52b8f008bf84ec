package pcd

import (
	"encoding/hex"
	"errors"

	"github.com/fmpcd/fmpcd/container/pcd/pcddef"
	"github.com/fmpcd/fmpcd/core/gqlserver"
	"github.com/fmpcd/fmpcd/core/jsonhelper"
	"github.com/graphql-go/graphql"
)

// GqlRegistry is the Registry accessible via GraphQL.
var GqlRegistry *Registry

var errNoGqlRegistry = errors.New("registry unavailable")

// GraphQL types.
var (
	GqlNodeNodeType  *gqlserver.NodeType
	GqlNodeType      *graphql.Object
	GqlTreeNodeType  *gqlserver.NodeType
	GqlTreeType      *graphql.Object
	GqlManipNodeType *gqlserver.NodeType
	GqlManipType     *graphql.Object
)

func gqlAction(arg any) (act pcddef.Action, e error) {
	e = jsonhelper.Roundtrip(arg, &act, jsonhelper.DisallowUnknownFields)
	return
}

func gqlBytes(arg any) ([]byte, error) {
	s, _ := arg.(string)
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

// gqlJSONField resolves a field through a function of the source object.
func gqlJSONField[T any](description string, f func(source T) any) *graphql.Field {
	return &graphql.Field{
		Description: description,
		Type:        gqlserver.NonNullJSON,
		Resolve: func(p graphql.ResolveParams) (any, error) {
			return f(p.Source.(T)), nil
		},
	}
}

func gqlRetrieveNode(p graphql.ResolveParams) (info NodeInfo, e error) {
	if GqlRegistry == nil {
		return info, errNoGqlRegistry
	}
	e = gqlserver.RetrieveNodeOfType(GqlNodeNodeType, p.Args["id"], &info)
	return
}

func init() {
	GqlNodeNodeType = gqlserver.NewNodeType(NodeInfo{})
	GqlNodeNodeType.GetID = func(source any) string {
		return source.(NodeInfo).ID.String()
	}
	GqlNodeNodeType.Retrieve = func(id string) (any, error) {
		if GqlRegistry == nil {
			return nil, errNoGqlRegistry
		}
		nid, e := pcddef.ParseNodeID(id)
		if e != nil {
			return nil, nil
		}
		info, e := GqlRegistry.NodeInfo(nid)
		if errors.Is(e, pcddef.ErrNotFound) {
			return nil, nil
		}
		return info, e
	}
	GqlNodeNodeType.Delete = func(source any) error {
		return GqlRegistry.DeleteNode(source.(NodeInfo).ID)
	}

	GqlNodeType = graphql.NewObject(GqlNodeNodeType.Annotate(graphql.ObjectConfig{
		Name: "CcNode",
		Fields: graphql.Fields{
			"nid": &graphql.Field{
				Description: "Node handle.",
				Type:        gqlserver.NonNullString,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(NodeInfo).ID.String(), nil
				},
			},
			"state": &graphql.Field{
				Description: "Lifecycle state.",
				Type:        gqlserver.NonNullString,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(NodeInfo).State, nil
				},
			},
			"numKeys": &graphql.Field{
				Description: "Number of keys.",
				Type:        gqlserver.NonNullInt,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(NodeInfo).NumKeys(), nil
				},
			},
			"owners": &graphql.Field{
				Description: "Number of records that continue lookup into this node.",
				Type:        gqlserver.NonNullInt,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(NodeInfo).Owners, nil
				},
			},
			"extraction": gqlJSONField("Key extraction.", func(info NodeInfo) any { return info.Extraction }),
			"keys":       gqlJSONField("Keys, masks, and actions.", func(info NodeInfo) any { return info.Keys }),
			"miss":       gqlJSONField("Miss action.", func(info NodeInfo) any { return info.Miss }),
			"layout":     gqlJSONField("Key table layout.", func(info NodeInfo) any { return info.Layout }),
			"contLookup": gqlJSONField("Continue-lookup record pointing to this node.", func(info NodeInfo) any { return info.ContLookup }),
		},
	}))
	GqlNodeNodeType.Register(GqlNodeType)

	GqlTreeNodeType = gqlserver.NewNodeType(TreeInfo{})
	GqlTreeNodeType.GetID = func(source any) string {
		return source.(TreeInfo).ID.String()
	}
	GqlTreeNodeType.Retrieve = func(id string) (any, error) {
		if GqlRegistry == nil {
			return nil, errNoGqlRegistry
		}
		tid, e := pcddef.ParseTreeID(id)
		if e != nil {
			return nil, nil
		}
		info, e := GqlRegistry.TreeInfo(tid)
		if errors.Is(e, pcddef.ErrNotFound) {
			return nil, nil
		}
		return info, e
	}
	GqlTreeNodeType.Delete = func(source any) error {
		return GqlRegistry.DeleteTree(source.(TreeInfo).ID)
	}

	GqlTreeType = graphql.NewObject(GqlTreeNodeType.Annotate(graphql.ObjectConfig{
		Name: "CcTree",
		Fields: graphql.Fields{
			"tid": &graphql.Field{
				Description: "Tree handle.",
				Type:        gqlserver.NonNullString,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(TreeInfo).ID.String(), nil
				},
			},
			"adTable": &graphql.Field{
				Description: "Address of the action descriptor table.",
				Type:        gqlserver.NonNullInt,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return int(p.Source.(TreeInfo).ADTable), nil
				},
			},
			"owners": &graphql.Field{
				Description: "Number of bound ports.",
				Type:        gqlserver.NonNullInt,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(TreeInfo).Owners(), nil
				},
			},
			"groups": gqlJSONField("Groups and entries.", func(info TreeInfo) any { return info.Groups }),
		},
	}))
	GqlTreeNodeType.Register(GqlTreeType)

	GqlManipNodeType = gqlserver.NewNodeType(ManipInfo{})
	GqlManipNodeType.GetID = func(source any) string {
		return source.(ManipInfo).ID.String()
	}
	GqlManipNodeType.Retrieve = func(id string) (any, error) {
		if GqlRegistry == nil {
			return nil, errNoGqlRegistry
		}
		mid, e := pcddef.ParseManipID(id)
		if e != nil {
			return nil, nil
		}
		info, e := GqlRegistry.ManipInfo(mid)
		if errors.Is(e, pcddef.ErrNotFound) {
			return nil, nil
		}
		return info, e
	}
	GqlManipNodeType.Delete = func(source any) error {
		return GqlRegistry.DeleteManip(source.(ManipInfo).ID)
	}

	GqlManipType = graphql.NewObject(GqlManipNodeType.Annotate(graphql.ObjectConfig{
		Name: "CcManip",
		Fields: graphql.Fields{
			"kind": &graphql.Field{
				Description: "Manipulation kind.",
				Type:        gqlserver.NonNullString,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return string(p.Source.(ManipInfo).Params.Kind), nil
				},
			},
			"owners": &graphql.Field{
				Description: "Number of records carrying this manipulation.",
				Type:        gqlserver.NonNullInt,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(ManipInfo).Owners, nil
				},
			},
			"port": &graphql.Field{
				Description: "Port-dependent parameters, null if unbound.",
				Type:        gqlserver.JSON,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					if port := p.Source.(ManipInfo).Port; port != nil {
						return *port, nil
					}
					return nil, nil
				},
			},
		},
	}))
	GqlManipNodeType.Register(GqlManipType)

	gqlserver.AddQuery(&graphql.Field{
		Name:        "ccNodes",
		Description: "List of classification nodes.",
		Type:        gqlserver.NewListNonNullBoth(GqlNodeType),
		Resolve: func(p graphql.ResolveParams) (any, error) {
			if GqlRegistry == nil {
				return nil, errNoGqlRegistry
			}
			list := []NodeInfo{}
			for _, id := range GqlRegistry.Nodes() {
				if info, e := GqlRegistry.NodeInfo(id); e == nil {
					list = append(list, info)
				}
			}
			return list, nil
		},
	})

	gqlserver.AddQuery(&graphql.Field{
		Name:        "ccTrees",
		Description: "List of classification trees.",
		Type:        gqlserver.NewListNonNullBoth(GqlTreeType),
		Resolve: func(p graphql.ResolveParams) (any, error) {
			if GqlRegistry == nil {
				return nil, errNoGqlRegistry
			}
			list := []TreeInfo{}
			for _, id := range GqlRegistry.Trees() {
				if info, e := GqlRegistry.TreeInfo(id); e == nil {
					list = append(list, info)
				}
			}
			return list, nil
		},
	})

	nodeArgs := func(extra graphql.FieldConfigArgument) graphql.FieldConfigArgument {
		extra["id"] = &graphql.ArgumentConfig{
			Description: "Node ID.",
			Type:        gqlserver.NonNullID,
		}
		return extra
	}
	refetch := func(info NodeInfo) (any, error) {
		return GqlRegistry.NodeInfo(info.ID)
	}

	gqlserver.AddMutation(&graphql.Field{
		Name:        "ccAddKey",
		Description: "Insert a key into a classification node.",
		Args: nodeArgs(graphql.FieldConfigArgument{
			"index": &graphql.ArgumentConfig{Type: gqlserver.NonNullInt},
			"key": &graphql.ArgumentConfig{
				Description: "Key in hexadecimal.",
				Type:        gqlserver.NonNullString,
			},
			"mask": &graphql.ArgumentConfig{
				Description: "Mask in hexadecimal.",
				Type:        graphql.String,
			},
			"action": &graphql.ArgumentConfig{Type: gqlserver.NonNullJSON},
		}),
		Type: graphql.NewNonNull(GqlNodeType),
		Resolve: func(p graphql.ResolveParams) (any, error) {
			info, e := gqlRetrieveNode(p)
			if e != nil {
				return nil, e
			}
			var kp KeyParams
			if kp.Key, e = gqlBytes(p.Args["key"]); e != nil {
				return nil, e
			}
			if kp.Mask, e = gqlBytes(p.Args["mask"]); e != nil {
				return nil, e
			}
			if kp.Action, e = gqlAction(p.Args["action"]); e != nil {
				return nil, e
			}
			if e = GqlRegistry.AddKey(info.ID, p.Args["index"].(int), kp); e != nil {
				return nil, e
			}
			return refetch(info)
		},
	})

	gqlserver.AddMutation(&graphql.Field{
		Name:        "ccRemoveKey",
		Description: "Remove a key from a classification node.",
		Args: nodeArgs(graphql.FieldConfigArgument{
			"index": &graphql.ArgumentConfig{Type: gqlserver.NonNullInt},
		}),
		Type: graphql.NewNonNull(GqlNodeType),
		Resolve: func(p graphql.ResolveParams) (any, error) {
			info, e := gqlRetrieveNode(p)
			if e != nil {
				return nil, e
			}
			if e = GqlRegistry.RemoveKey(info.ID, p.Args["index"].(int)); e != nil {
				return nil, e
			}
			return refetch(info)
		},
	})

	gqlserver.AddMutation(&graphql.Field{
		Name:        "ccModifyNextEngine",
		Description: "Change the action of a key, or the miss action if index is omitted.",
		Args: nodeArgs(graphql.FieldConfigArgument{
			"index":  &graphql.ArgumentConfig{Type: graphql.Int},
			"action": &graphql.ArgumentConfig{Type: gqlserver.NonNullJSON},
		}),
		Type: graphql.NewNonNull(GqlNodeType),
		Resolve: func(p graphql.ResolveParams) (any, error) {
			info, e := gqlRetrieveNode(p)
			if e != nil {
				return nil, e
			}
			act, e := gqlAction(p.Args["action"])
			if e != nil {
				return nil, e
			}
			if index, ok := p.Args["index"].(int); ok {
				e = GqlRegistry.ModifyNextEngine(info.ID, index, act)
			} else {
				e = GqlRegistry.ModifyMissNextEngine(info.ID, act)
			}
			if e != nil {
				return nil, e
			}
			return refetch(info)
		},
	})

	gqlserver.AddMutation(&graphql.Field{
		Name:        "ccModifyTreeNextEngine",
		Description: "Change the action of a tree entry.",
		Args: graphql.FieldConfigArgument{
			"id":     &graphql.ArgumentConfig{Type: gqlserver.NonNullID},
			"group":  &graphql.ArgumentConfig{Type: gqlserver.NonNullInt},
			"index":  &graphql.ArgumentConfig{Type: gqlserver.NonNullInt},
			"action": &graphql.ArgumentConfig{Type: gqlserver.NonNullJSON},
		},
		Type: graphql.NewNonNull(GqlTreeType),
		Resolve: func(p graphql.ResolveParams) (any, error) {
			if GqlRegistry == nil {
				return nil, errNoGqlRegistry
			}
			var info TreeInfo
			if e := gqlserver.RetrieveNodeOfType(GqlTreeNodeType, p.Args["id"], &info); e != nil {
				return nil, e
			}
			act, e := gqlAction(p.Args["action"])
			if e != nil {
				return nil, e
			}
			if e = GqlRegistry.ModifyTreeNextEngine(info.ID, p.Args["group"].(int), p.Args["index"].(int), act); e != nil {
				return nil, e
			}
			return GqlRegistry.TreeInfo(info.ID)
		},
	})
}
