package gqlserver_test

import (
	"testing"

	"github.com/fmpcd/fmpcd/core/gqlserver"
	"github.com/fmpcd/fmpcd/core/testenv"
	"github.com/graphql-go/graphql"
)

var makeAR = testenv.MakeAR

type widget struct {
	Name string
}

var widgets = map[string]*widget{"w1": {Name: "W1"}}

var widgetNodeType = gqlserver.NewNodeType((*widget)(nil))

func init() {
	widgetNodeType.GetID = func(source any) string {
		return source.(*widget).Name
	}
	widgetNodeType.Retrieve = func(id string) (any, error) {
		for _, w := range widgets {
			if w.Name == id {
				return w, nil
			}
		}
		return nil, nil
	}
	widgetNodeType.Delete = func(source any) error {
		for k, w := range widgets {
			if w == source.(*widget) {
				delete(widgets, k)
			}
		}
		return nil
	}
	widgetType := graphql.NewObject(widgetNodeType.Annotate(graphql.ObjectConfig{
		Name: "Widget",
		Fields: graphql.Fields{
			"name": &graphql.Field{
				Type: gqlserver.NonNullString,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(*widget).Name, nil
				},
			},
		},
	}))
	widgetNodeType.Register(widgetType)
}

func TestNode(t *testing.T) {
	assert, require := makeAR(t)
	id := gqlserver.MakeID("*gqlserver_test.widget", "W1")

	res := gqlserver.Do(`query q($id: ID!) { node(id: $id) { id ... on Widget { name } } }`, map[string]any{"id": id})
	require.Empty(res.Errors)
	node := res.Data.(map[string]any)["node"].(map[string]any)
	assert.Equal(id, node["id"])
	assert.Equal("W1", node["name"])

	res = gqlserver.Do(`mutation d($id: ID!) { delete(id: $id) }`, map[string]any{"id": id})
	require.Empty(res.Errors)
	assert.Equal(true, res.Data.(map[string]any)["delete"])
	assert.Empty(widgets)

	res = gqlserver.Do(`query q($id: ID!) { node(id: $id) { id } }`, map[string]any{"id": id})
	assert.NotEmpty(res.Errors)
}
