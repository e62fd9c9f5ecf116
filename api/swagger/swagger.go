package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Classroom Check-in API",
        "description": "Classroom view, roster and attendance check-in sessions over a document store",
        "version": "1.0.0"
    },
    "basePath": "/",
    "schemes": [
        "http"
    ],
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    },
    "tags": [
        {"name": "Classrooms", "description": "Classroom page, check-in sessions and score sheets"},
        {"name": "Operations", "description": "Health, readiness and metrics"}
    ],
    "paths": {
        "/health": {
            "get": {
                "tags": ["Operations"],
                "summary": "Liveness check",
                "responses": {"200": {"description": "OK"}}
            }
        },
        "/ready": {
            "get": {
                "tags": ["Operations"],
                "summary": "Readiness check of the document store and cache",
                "responses": {
                    "200": {"description": "Ready"},
                    "503": {"description": "A dependency is unreachable"}
                }
            }
        },
        "/metrics": {
            "get": {
                "tags": ["Operations"],
                "summary": "Prometheus metrics",
                "produces": ["text/plain"],
                "responses": {"200": {"description": "Metrics exposition"}}
            }
        },
        "/api/v1/classrooms/{cid}": {
            "get": {
                "tags": ["Classrooms"],
                "summary": "Classroom page: course card, roster and check-in history",
                "parameters": [
                    {"name": "cid", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Invalid classroom id", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Document store unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/classrooms/{cid}/checkins": {
            "post": {
                "tags": ["Classrooms"],
                "summary": "Start a check-in session and snapshot the roster",
                "security": [{"BearerAuth": []}],
                "parameters": [
                    {"name": "cid", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "201": {"description": "Refreshed history, newest first", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Authentication required", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "502": {"description": "Session created, snapshot incomplete", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "503": {"description": "Document store unavailable", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/classrooms/{cid}/checkins/{sessionId}/scores": {
            "get": {
                "tags": ["Classrooms"],
                "summary": "Score records of a check-in session",
                "produces": ["application/json", "text/csv", "application/pdf"],
                "parameters": [
                    {"name": "cid", "in": "path", "required": true, "type": "string"},
                    {"name": "sessionId", "in": "path", "required": true, "type": "string"},
                    {"name": "format", "in": "query", "type": "string", "enum": ["json", "csv", "pdf"]}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Session not found", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/api/v1/classrooms/{cid}/qrcode": {
            "get": {
                "tags": ["Classrooms"],
                "summary": "QR code whose payload is the classroom id",
                "produces": ["image/png"],
                "parameters": [
                    {"name": "cid", "in": "path", "required": true, "type": "string"},
                    {"name": "size", "in": "query", "type": "integer", "minimum": 32, "maximum": 1024}
                ],
                "responses": {
                    "200": {"description": "PNG image"},
                    "400": {"description": "Invalid size", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "CheckinFailure": {
            "type": "object",
            "properties": {
                "session_created": {"type": "boolean"},
                "session_id": {"type": "string"},
                "stage": {"type": "string"},
                "failed_student_ids": {"type": "array", "items": {"type": "string"}}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"},
                "details": {"$ref": "#/definitions/CheckinFailure"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
