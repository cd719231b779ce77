// Package docs registers the OpenAPI document served under /swagger.
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
    "paths": {
        "/api/extract": {
            "post": {
                "description": "Reads carrier, product, policy terms, projected values and charges from page images.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["extraction"],
                "summary": "Extract an insurance illustration",
                "parameters": [
                    {
                        "description": "Page images",
                        "name": "body",
                        "in": "body",
                        "required": true,
                        "schema": {"$ref": "#/definitions/handler.extractRequest"}
                    }
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handler.extractResponse"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "413": {"description": "Request Entity Too Large", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/handler.errorPayload"}},
                    "502": {"description": "Bad Gateway", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/health": {
            "get": {
                "description": "Pings the SQL template store when it is the active backend.",
                "produces": ["application/json"],
                "tags": ["health"],
                "summary": "Dependency health",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "object", "additionalProperties": {"type": "string"}}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/handler.errorPayload"}}
                }
            }
        },
        "/healthz": {
            "get": {
                "tags": ["health"],
                "summary": "Liveness probe",
                "responses": {"200": {"description": "OK"}}
            }
        }
    },
    "definitions": {
        "handler.errorEnvelope": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"}
            }
        },
        "handler.errorPayload": {
            "type": "object",
            "properties": {
                "error": {"$ref": "#/definitions/handler.errorEnvelope"},
                "request_id": {"type": "string"},
                "success": {"type": "boolean"}
            }
        },
        "handler.extractRequest": {
            "type": "object",
            "properties": {
                "images": {"description": "Base64 page images, optionally as data URLs.", "type": "array", "items": {"type": "string"}},
                "pageTexts": {"description": "Optional text layer per page, aligned with Images.", "type": "array", "items": {"type": "string"}}
            }
        },
        "handler.extractResponse": {
            "type": "object",
            "properties": {
                "data": {"$ref": "#/definitions/model.ExtractionResult"},
                "request_id": {"type": "string"},
                "success": {"type": "boolean"}
            }
        },
        "model.ExpenseRow": {
            "type": "object",
            "properties": {
                "adminCharge": {"type": "number"},
                "coi": {"type": "number"},
                "premiumCharge": {"type": "number"},
                "totalCharges": {"type": "number"},
                "year": {"type": "integer"}
            }
        },
        "model.ExtractionResult": {
            "type": "object",
            "properties": {
                "carrier": {"type": "string"},
                "confidence": {"type": "number"},
                "expenses": {"type": "array", "items": {"$ref": "#/definitions/model.ExpenseRow"}},
                "policyInfo": {"$ref": "#/definitions/model.PolicyInfo"},
                "product": {"type": "string"},
                "projections": {"type": "array", "items": {"$ref": "#/definitions/model.ProjectionRow"}},
                "templateUsed": {"type": "boolean"}
            }
        },
        "model.PolicyInfo": {
            "type": "object",
            "properties": {
                "annualPremium": {"type": "number"},
                "exchangeAmount": {"type": "number"},
                "faceAmount": {"type": "number"},
                "firstYearPremium": {"type": "number"},
                "gender": {"type": "string"},
                "insuredAge": {"type": "integer"},
                "insuredName": {"type": "string"},
                "riskClass": {"type": "string"},
                "secondInsuredAge": {"type": "integer"},
                "secondInsuredName": {"type": "string"},
                "state": {"type": "string"}
            }
        },
        "model.ProjectionRow": {
            "type": "object",
            "properties": {
                "age": {"type": "integer"},
                "deathBenefit": {"type": "number"},
                "policyValue": {"type": "number"},
                "premium": {"type": "number"},
                "surrenderValue": {"type": "number"},
                "year": {"type": "integer"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Illustration Extraction API",
	Description:      "Extracts structured data from life insurance illustration page images.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
