// Package docs holds the OpenAPI document served under /swagger. It is kept
// by hand in the layout swag init generates, so the gin-swagger UI can read
// it through the swag registry.
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
        "/health": {
            "get": {
                "produces": ["application/json"],
                "tags": ["operations"],
                "summary": "Service and backend health",
                "responses": {
                    "200": {"description": "healthy or degraded", "schema": {"type": "object"}},
                    "503": {"description": "backend critical", "schema": {"type": "object"}}
                }
            }
        },
        "/metrics": {
            "get": {
                "produces": ["application/json"],
                "tags": ["operations"],
                "summary": "In-process metrics snapshot",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/cache/stats": {
            "get": {
                "produces": ["application/json"],
                "tags": ["operations"],
                "summary": "Response cache statistics",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/ratelimit/status": {
            "get": {
                "produces": ["application/json"],
                "tags": ["operations"],
                "summary": "Per-IP rate limit settings for the caller",
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            }
        },
        "/dashboard": {
            "get": {
                "produces": ["application/json"],
                "tags": ["dashboard"],
                "summary": "Dashboard summary",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Summary"}},
                    "502": {"description": "backend unavailable", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/children": {
            "get": {
                "produces": ["application/json"],
                "tags": ["children"],
                "summary": "Children with their computed age",
                "responses": {
                    "200": {
                        "description": "OK",
                        "schema": {
                            "type": "object",
                            "properties": {
                                "children": {"type": "array", "items": {"$ref": "#/definitions/Child"}},
                                "count": {"type": "integer"}
                            }
                        }
                    }
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["children"],
                "summary": "Create a child profile",
                "parameters": [
                    {"in": "body", "name": "child", "required": true, "schema": {"$ref": "#/definitions/ChildInput"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/Child"}},
                    "400": {"description": "validation failed", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/children/{id}": {
            "put": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["children"],
                "summary": "Replace a child profile",
                "parameters": [
                    {"in": "path", "name": "id", "type": "string", "required": true},
                    {"in": "body", "name": "child", "required": true, "schema": {"$ref": "#/definitions/ChildInput"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/Child"}},
                    "400": {"description": "validation failed", "schema": {"$ref": "#/definitions/Error"}},
                    "404": {"description": "unknown child", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/children/{id}/score": {
            "get": {
                "produces": ["application/json"],
                "tags": ["children"],
                "summary": "Current babble score and trend",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/Score"}}}
            }
        },
        "/children/{id}/recordings": {
            "get": {
                "produces": ["application/json"],
                "tags": ["children"],
                "summary": "Recordings of one child, newest first, with totals",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/RecordingHistory"}}}
            }
        },
        "/children/{id}/assessments": {
            "get": {
                "produces": ["application/json"],
                "tags": ["assessments"],
                "summary": "Assessments with computed scores, newest first",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"type": "object"}}}
            },
            "post": {
                "produces": ["application/json"],
                "tags": ["assessments"],
                "summary": "Generate a new assessment",
                "parameters": [{"in": "path", "name": "id", "type": "string", "required": true}],
                "responses": {
                    "201": {"description": "Created", "schema": {"type": "object"}},
                    "404": {"description": "unknown child", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        },
        "/recordings": {
            "post": {
                "consumes": ["multipart/form-data"],
                "produces": ["application/json"],
                "tags": ["recordings"],
                "summary": "Upload a recorded session and start its analysis",
                "parameters": [
                    {"in": "formData", "name": "child_id", "type": "string", "required": true},
                    {"in": "formData", "name": "file", "type": "file", "required": true},
                    {"in": "formData", "name": "duration_seconds", "type": "number"},
                    {"in": "formData", "name": "auto_assessment", "type": "boolean"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"type": "object"}},
                    "400": {"description": "validation failed", "schema": {"$ref": "#/definitions/Error"}},
                    "413": {"description": "upload too large", "schema": {"$ref": "#/definitions/Error"}},
                    "415": {"description": "unsupported content type", "schema": {"$ref": "#/definitions/Error"}}
                }
            }
        }
    },
    "definitions": {
        "Error": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "code": {"type": "string"},
                "category": {"type": "string"},
                "http_status": {"type": "integer"},
                "timestamp": {"type": "string", "format": "date-time"},
                "request_id": {"type": "string"},
                "details": {"type": "object"}
            }
        },
        "ChildInput": {
            "type": "object",
            "required": ["name", "date_of_birth"],
            "properties": {
                "name": {"type": "string"},
                "date_of_birth": {"type": "string", "format": "date"},
                "gender": {"type": "string", "enum": ["male", "female"]},
                "weight_at_birth": {"type": "number"},
                "height_at_birth": {"type": "number"},
                "notes": {"type": "string"}
            }
        },
        "Child": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "date_of_birth": {"type": "string", "format": "date"},
                "gender": {"type": "string"},
                "age_label": {"type": "string"},
                "age_months": {"type": "integer"}
            }
        },
        "Recording": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "child_id": {"type": "string"},
                "session_name": {"type": "string"},
                "duration": {"type": "number"},
                "recorded_at": {"type": "string", "format": "date-time"},
                "is_analyzed": {"type": "boolean"},
                "notes": {"type": "string"}
            }
        },
        "RecordingHistory": {
            "type": "object",
            "properties": {
                "recordings": {"type": "array", "items": {"$ref": "#/definitions/Recording"}},
                "count": {"type": "integer"},
                "analyzed_count": {"type": "integer"},
                "total_seconds": {"type": "number"},
                "total_duration": {"type": "string"}
            }
        },
        "Score": {
            "type": "object",
            "properties": {
                "child_id": {"type": "string"},
                "score": {"type": "integer"},
                "label": {"type": "string"},
                "has_assessment": {"type": "boolean"},
                "assessment_id": {"type": "string"},
                "weekly_average": {"type": "integer"},
                "change_from_yesterday": {"type": "number"},
                "computed_at": {"type": "string", "format": "date-time"}
            }
        },
        "Summary": {
            "type": "object",
            "properties": {
                "overall_score": {"type": "integer"},
                "overall_label": {"type": "string"},
                "children": {"type": "array", "items": {"$ref": "#/definitions/Child"}},
                "child_scores": {"type": "array", "items": {"$ref": "#/definitions/Score"}},
                "recent_sessions": {"type": "array", "items": {"$ref": "#/definitions/Recording"}},
                "today_sessions": {"type": "integer"},
                "insights": {"type": "array", "items": {"type": "object"}},
                "warnings": {"type": "array", "items": {"type": "string"}},
                "generated_at": {"type": "string", "format": "date-time"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "BabbleBear Dashboard API",
	Description:      "Dashboard backend that scores babble assessments from the analysis backend.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
