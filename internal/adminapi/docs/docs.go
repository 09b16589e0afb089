// Package docs holds the generated swagger specification for the admin
// API (teacher pattern: `swag init` output registered through
// github.com/swaggo/swag, served by github.com/swaggo/http-swagger).
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/healthz": {
            "get": {
                "description": "reports whether the admin surface itself is up",
                "produces": ["application/json"],
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/api/graphs": {
            "get": {
                "description": "lists every graph handle currently registered with the runtime",
                "produces": ["application/json"],
                "responses": {"200": {"description": "ok"}}
            }
        },
        "/api/registry/filesets": {
            "get": {
                "description": "lists registered file sets, optionally filtered by workspace prefix or shared-subgraph id",
                "produces": ["application/json"],
                "responses": {"200": {"description": "ok"}}
            }
        }
    }
}`

// SwaggerInfo holds the API metadata the generated template above expands
// against.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "ACDB admin API",
	Description:      "Read-only introspection surface for the ACDB runtime.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
