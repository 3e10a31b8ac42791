package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "Civil Registry API",
        "description": "Person registry with PSN issuance and citizen change-request workflow",
        "version": "1.0.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Authentication"},
        {"name": "Persons", "description": "Person registry and PSN issuance"},
        {"name": "ChangeRequests", "description": "Citizen data-change workflow"},
        {"name": "Documents", "description": "Change-request attachments"},
        {"name": "Exports", "description": "Staff data exports"}
    ],
    "paths": {
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Authenticate with email or PSN",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "401": {"description": "Invalid credentials"}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Rotate tokens",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/persons": {
            "post": {
                "tags": ["Persons"],
                "summary": "Register a person and issue a PSN",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/RegisterPersonRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Serial space exhausted or issuance conflict"}
                }
            },
            "get": {
                "tags": ["Persons"],
                "summary": "List persons",
                "parameters": [
                    {"name": "citizenshipStatus", "in": "query", "type": "string"},
                    {"name": "gender", "in": "query", "type": "string"},
                    {"name": "city", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "pageSize", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/persons/search": {
            "get": {
                "tags": ["Persons"],
                "summary": "Search persons",
                "parameters": [
                    {"name": "firstName", "in": "query", "type": "string"},
                    {"name": "lastName", "in": "query", "type": "string"},
                    {"name": "dateOfBirth", "in": "query", "type": "string"},
                    {"name": "email", "in": "query", "type": "string"},
                    {"name": "phone", "in": "query", "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/persons/statistics/summary": {
            "get": {
                "tags": ["Persons"],
                "summary": "Aggregate registry statistics",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/persons/{psn}": {
            "get": {
                "tags": ["Persons"],
                "summary": "Look up a person by PSN",
                "parameters": [
                    {"name": "psn", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "400": {"description": "Structurally invalid PSN"},
                    "404": {"description": "Not found"}
                }
            },
            "delete": {
                "tags": ["Persons"],
                "summary": "Deactivate a person record",
                "parameters": [
                    {"name": "psn", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/change-requests": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Submit a change request",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/SubmitChangeRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Active request already exists"}
                }
            },
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "List change requests",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "personId", "in": "query", "type": "string"},
                    {"name": "limit", "in": "query", "type": "integer"},
                    {"name": "offset", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/change-requests/{id}": {
            "get": {
                "tags": ["ChangeRequests"],
                "summary": "Get a change request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/change-requests/{id}/claim": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Take a pending request into review",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request not pending"}
                }
            }
        },
        "/change-requests/{id}/decide": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Approve or reject a request under review",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DecideChangeRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request not under review"}
                }
            }
        },
        "/change-requests/{id}/cancel": {
            "post": {
                "tags": ["ChangeRequests"],
                "summary": "Withdraw a pending request",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}},
                    "409": {"description": "Request already under review or resolved"}
                }
            }
        },
        "/change-requests/{id}/documents": {
            "post": {
                "tags": ["Documents"],
                "summary": "Attach a file",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"},
                    {"name": "file", "in": "formData", "required": true, "type": "file"}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "get": {
                "tags": ["Documents"],
                "summary": "List attachments",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/{id}/url": {
            "get": {
                "tags": ["Documents"],
                "summary": "Mint a signed download token",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/documents/download": {
            "get": {
                "tags": ["Documents"],
                "summary": "Fetch document content with a signed token",
                "parameters": [
                    {"name": "token", "in": "query", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/exports/persons.csv": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export persons as CSV",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/exports/statistics.pdf": {
            "get": {
                "tags": ["Exports"],
                "summary": "Export statistics as PDF",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "identifier": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["identifier", "password"]
        },
        "RegisterPersonRequest": {
            "type": "object",
            "properties": {
                "firstName": {"type": "string"},
                "lastName": {"type": "string"},
                "middleName": {"type": "string"},
                "dateOfBirth": {"type": "string", "description": "YYYY-MM-DD"},
                "placeOfBirth": {"type": "string"},
                "gender": {"type": "string", "enum": ["MALE", "FEMALE", "OTHER"]},
                "citizenshipStatus": {"type": "string"},
                "nationality": {"type": "string"},
                "email": {"type": "string"},
                "phone": {"type": "string"}
            },
            "required": ["firstName", "lastName", "dateOfBirth", "gender"]
        },
        "SubmitChangeRequest": {
            "type": "object",
            "properties": {
                "edits": {"type": "object"},
                "description": {"type": "string"}
            },
            "required": ["edits"]
        },
        "DecideChangeRequest": {
            "type": "object",
            "properties": {
                "outcome": {"type": "string", "enum": ["APPROVED", "REJECTED"]},
                "notes": {"type": "string"}
            },
            "required": ["outcome"]
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
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
