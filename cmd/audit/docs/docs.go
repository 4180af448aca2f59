// Package docs registers the audit service's generated Swagger spec with
// swaggo. Hand-maintained here in lieu of running `swag init` (this repo's
// tooling never invokes external code generators); the template mirrors
// what that command produces for a Gin service.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "Audit trail and dead-letter queue operator API for the exception processing pipeline.",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {}
}`

// SwaggerInfo holds exported Swagger metadata, populated at init time.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Exception Pipeline Audit API",
	Description:      "Audit trail and dead-letter queue operator API.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
