package graphql

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/graph-gophers/graphql-go"

	"github.com/modelbench-go/internal/api/auth"
)

type request struct {
	Query         string                 `json:"query"`
	OperationName string                 `json:"operationName"`
	Variables     map[string]interface{} `json:"variables"`
}

// Handler executes GraphQL requests on POST and serves the GraphiQL UI on
// GET. The authenticated subject, when present, is threaded into the resolver
// context so mutations can gate on it.
func Handler(schema *graphql.Schema) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet {
			c.Data(http.StatusOK, "text/html; charset=utf-8", graphiqlPage)
			return
		}

		var req request
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid GraphQL request: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		if subject := c.GetString(auth.SubjectKey); subject != "" {
			ctx = context.WithValue(ctx, SubjectContextKey, subject)
		}

		response := schema.Exec(ctx, req.Query, req.OperationName, req.Variables)
		data, err := json.Marshal(response)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to encode response"})
			return
		}
		c.Data(http.StatusOK, "application/json", data)
	}
}

var graphiqlPage = []byte(`<!DOCTYPE html>
<html>
<head>
	<title>GraphiQL</title>
	<style>body { margin: 0; } #graphiql { height: 100vh; }</style>
	<link rel="stylesheet" href="https://unpkg.com/graphiql/graphiql.min.css" />
</head>
<body>
	<div id="graphiql">Loading...</div>
	<script src="https://unpkg.com/react@17/umd/react.production.min.js"></script>
	<script src="https://unpkg.com/react-dom@17/umd/react-dom.production.min.js"></script>
	<script src="https://unpkg.com/graphiql/graphiql.min.js"></script>
	<script>
		ReactDOM.render(
			React.createElement(GraphiQL, {
				fetcher: GraphiQL.createFetcher({ url: '/graphql' }),
			}),
			document.getElementById('graphiql'),
		);
	</script>
</body>
</html>
`)
