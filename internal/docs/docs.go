// Package docs registers the OpenAPI spec for swaggo/swag, in the shape
// `swag init` itself generates: a doc template plus a swag.Spec carrying
// the @title/@host/@BasePath annotations from cmd/main.go. Hand-written
// here rather than generated, since nothing in this build regenerates it
// from the handler annotations automatically.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {}
}`

// SwaggerInfo holds exported Swagger Info so other packages can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8080",
	BasePath:         "/admin/api/v1",
	Schemes:          []string{},
	Title:            "r_data_core admin API",
	Description:      "Dynamic-data and workflow engine: entity definitions, entities, permission schemes, and DSL-driven workflows.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
