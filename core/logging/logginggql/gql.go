// Package logginggql exposes package log levels via GraphQL.
package logginggql

import (
	"fmt"
	"strings"

	"github.com/fmpcd/fmpcd/core/gqlserver"
	"github.com/fmpcd/fmpcd/core/logging"
	"github.com/graphql-go/graphql"
)

// GqlLoggerType is the GraphQL type of a package log level.
var GqlLoggerType *graphql.Object

func init() {
	GqlLoggerType = graphql.NewObject(graphql.ObjectConfig{
		Name: "Logger",
		Fields: graphql.Fields{
			"package": &graphql.Field{
				Description: "Package name.",
				Type:        gqlserver.NonNullString,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return p.Source.(logging.PkgLevel).Package(), nil
				},
			},
			"level": &graphql.Field{
				Description: "Log level letter.",
				Type:        gqlserver.NonNullString,
				Resolve: func(p graphql.ResolveParams) (any, error) {
					return string(p.Source.(logging.PkgLevel).Level()), nil
				},
			},
		},
	})

	gqlserver.AddQuery(&graphql.Field{
		Name:        "loggers",
		Description: "Package log levels.",
		Type:        gqlserver.NewListNonNullBoth(GqlLoggerType),
		Resolve: func(p graphql.ResolveParams) (any, error) {
			return logging.ListLevels(), nil
		},
	})

	gqlserver.AddMutation(&graphql.Field{
		Name:        "setLogLevel",
		Description: "Change log level of a package.",
		Args: graphql.FieldConfigArgument{
			"package": &graphql.ArgumentConfig{
				Type: gqlserver.NonNullString,
			},
			"level": &graphql.ArgumentConfig{
				Description: "One of V, D, I, W, E, F, N.",
				Type:        gqlserver.NonNullString,
			},
		},
		Type: graphql.NewNonNull(GqlLoggerType),
		Resolve: func(p graphql.ResolveParams) (any, error) {
			pkg, lvl := p.Args["package"].(string), p.Args["level"].(string)
			pl := logging.FindLevel(pkg)
			if pl == nil {
				return nil, fmt.Errorf("package %s has no logger", pkg)
			}
			if len(lvl) != 1 || !strings.Contains("VDIWEFN", lvl) {
				return nil, fmt.Errorf("invalid log level %q", lvl)
			}
			pl.SetLevel(lvl)
			return *pl, nil
		},
	})
}
