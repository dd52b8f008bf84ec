// Package gqlserver provides a GraphQL server.
// It is a singleton and is initialized via init() functions.
package gqlserver

import (
	"net/http"
	"os"
	"sync"

	"github.com/bhoriuchi/graphql-go-tools/handler"
	"github.com/fmpcd/fmpcd/core/logging"
	"github.com/graphql-go/graphql"
	"github.com/graphql-go/graphql/gqlerrors"
	"go.uber.org/zap"
)

var logger = logging.New("gqlserver")

// DefaultAddr is the HTTP listen address when FMPCD_GQLSERVER_HTTP is unset.
const DefaultAddr = "127.0.0.1:3030"

// Schema is the singleton of graphql.SchemaConfig.
var Schema = graphql.SchemaConfig{
	Query: graphql.NewObject(graphql.ObjectConfig{
		Name:   "Query",
		Fields: graphql.Fields{},
	}),
	Mutation: graphql.NewObject(graphql.ObjectConfig{
		Name:   "Mutation",
		Fields: graphql.Fields{},
	}),
}

// AddQuery adds a top-level query field.
func AddQuery(f *graphql.Field) {
	Schema.Query.AddFieldConfig(f.Name, f)
}

// AddMutation adds a top-level mutation field.
func AddMutation(f *graphql.Field) {
	Schema.Mutation.AddFieldConfig(f.Name, f)
}

var (
	compiled     graphql.Schema
	compiledOnce sync.Once
	compileErr   error
)

// Compile builds the executable schema.
// It must be called after all init() functions have added their fields.
func Compile() (*graphql.Schema, error) {
	compiledOnce.Do(func() {
		compiled, compileErr = graphql.NewSchema(Schema)
	})
	if compileErr != nil {
		return nil, compileErr
	}
	return &compiled, nil
}

// Do executes a request against the compiled schema.
func Do(query string, vars map[string]any) *graphql.Result {
	sch, e := Compile()
	if e != nil {
		return &graphql.Result{Errors: gqlerrors.FormatErrors(e)}
	}
	return graphql.Do(graphql.Params{
		Schema:         *sch,
		RequestString:  query,
		VariableValues: vars,
	})
}

// Start starts the HTTP server in the background.
func Start() {
	sch, e := Compile()
	if e != nil {
		logger.Panic("graphql.NewSchema error", zap.Error(e))
	}

	go startHTTP(sch)
}

func startHTTP(sch *graphql.Schema) {
	addr := os.Getenv("FMPCD_GQLSERVER_HTTP")
	switch addr {
	case "0":
		logger.Warn("GraphQL HTTP server disabled")
		return
	case "":
		addr = DefaultAddr
	}

	h := handler.New(&handler.Config{
		Schema:           sch,
		Pretty:           true,
		PlaygroundConfig: handler.NewDefaultPlaygroundConfig(),
	})
	logger.Info("GraphQL HTTP server starting", zap.String("addr", addr))

	var mux http.ServeMux
	mux.HandleFunc("/robots.txt", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Add("Content-Type", "text/plain")
		w.Write([]byte("User-agent: *\nDisallow: /\n"))
	})
	mux.Handle("/", h)
	if e := http.ListenAndServe(addr, &mux); e != nil {
		logger.Error("GraphQL HTTP server stopped", zap.Error(e))
	}
}
