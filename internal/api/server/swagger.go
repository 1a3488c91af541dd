package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// registerSwagger serves a hand-maintained OpenAPI description of the /v1
// surface plus a CDN-backed Swagger UI page.
func registerSwagger(router *gin.Engine) {
	router.GET("/swagger/openapi.json", func(c *gin.Context) {
		c.Data(http.StatusOK, "application/json", openapiDoc)
	})
	router.GET("/swagger", func(c *gin.Context) {
		c.Data(http.StatusOK, "text/html; charset=utf-8", swaggerPage)
	})
}

var swaggerPage = []byte(`<!DOCTYPE html>
<html>
<head>
	<title>API Docs</title>
	<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist/swagger-ui.css" />
</head>
<body>
	<div id="swagger-ui"></div>
	<script src="https://unpkg.com/swagger-ui-dist/swagger-ui-bundle.js"></script>
	<script>
		SwaggerUIBundle({ url: '/swagger/openapi.json', dom_id: '#swagger-ui' });
	</script>
</body>
</html>
`)

var openapiDoc = []byte(`{
  "openapi": "3.0.0",
  "info": { "title": "modelbench coordinator API", "version": "0.4.0" },
  "paths": {
    "/v1/auth/token": { "post": { "summary": "Issue an operator token" } },
    "/v1/workers": {
      "get": { "summary": "List workers" },
      "post": { "summary": "Register a worker" }
    },
    "/v1/workers/{id}": { "delete": { "summary": "Deregister a worker" } },
    "/v1/workers/{id}/heartbeat": { "post": { "summary": "Worker heartbeat" } },
    "/v1/workers/{id}/pull": { "post": { "summary": "Pull tasks for a worker" } },
    "/v1/tasks/{id}/complete": { "post": { "summary": "Report task completion" } },
    "/v1/jobs": { "post": { "summary": "Submit a job" } },
    "/v1/jobs/{id}": {
      "get": { "summary": "Job status" },
      "delete": { "summary": "Cancel a job" }
    },
    "/v1/cluster/stats": { "get": { "summary": "Cluster statistics" } },
    "/v1/plugins": {
      "get": { "summary": "List plugins" },
      "post": { "summary": "Load a plugin" }
    },
    "/v1/plugins/{id}": {
      "get": { "summary": "Plugin info" },
      "delete": { "summary": "Unload a plugin" }
    },
    "/v1/plugins/{id}/execute": { "post": { "summary": "Execute a plugin" } }
  }
}
`)
