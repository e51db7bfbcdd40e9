package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// DocsHandler serves the collector API reference
type DocsHandler struct {
	version string
}

// NewDocsHandler creates a documentation handler for the given API version
func NewDocsHandler(version string) *DocsHandler {
	return &DocsHandler{version: version}
}

// OpenAPISpec is the subset of an OpenAPI 3 document the collector publishes
type OpenAPISpec struct {
	OpenAPI    string                 `json:"openapi"`
	Info       OpenAPIInfo            `json:"info"`
	Paths      map[string]interface{} `json:"paths"`
	Components OpenAPIComponents      `json:"components"`
}

// OpenAPIInfo describes the API
type OpenAPIInfo struct {
	Title       string `json:"title"`
	Version     string `json:"version"`
	Description string `json:"description"`
}

// OpenAPIComponents holds reusable schemas
type OpenAPIComponents struct {
	Schemas         map[string]interface{} `json:"schemas"`
	SecuritySchemes map[string]interface{} `json:"securitySchemes"`
}

// GetOpenAPI returns the OpenAPI document
func (h *DocsHandler) GetOpenAPI(c *gin.Context) {
	c.JSON(http.StatusOK, h.document())
}

// GetSwaggerUI returns a Swagger UI page pointed at the OpenAPI document
func (h *DocsHandler) GetSwaggerUI(c *gin.Context) {
	c.Header("Content-Type", "text/html; charset=utf-8")
	c.String(http.StatusOK, `<!DOCTYPE html>
<html>
<head>
    <title>Collector API</title>
    <link rel="stylesheet" type="text/css" href="https://unpkg.com/swagger-ui-dist@4.15.5/swagger-ui.css" />
    <style>.swagger-ui .topbar { display: none; }</style>
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@4.15.5/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            SwaggerUIBundle({ url: '/v1/docs/openapi.json', dom_id: '#swagger-ui', deepLinking: true });
        };
    </script>
</body>
</html>`)
}

func ref(name string) gin.H {
	return gin.H{"$ref": "#/components/schemas/" + name}
}

func jsonBody(schema gin.H) gin.H {
	return gin.H{"content": gin.H{"application/json": gin.H{"schema": schema}}}
}

func response(description string, schema gin.H) gin.H {
	r := gin.H{"description": description}
	if schema != nil {
		r["content"] = gin.H{"application/json": gin.H{"schema": schema}}
	}
	return r
}

func queryParam(name, typ, description string, required bool) gin.H {
	return gin.H{
		"name":        name,
		"in":          "query",
		"required":    required,
		"description": description,
		"schema":      gin.H{"type": typ},
	}
}

// Ingest accepts the key in either header
var writeKeySecurity = []gin.H{{"writeKey": []string{}}, {"bearer": []string{}}}

func ingestResponses() gin.H {
	return gin.H{
		"202": response("Accepted", gin.H{"type": "object"}),
		"400": response("Invalid payload", ref("Error")),
		"401": response("Missing or invalid write key", nil),
		"429": response("Rate limit exceeded", nil),
		"500": response("Storage failure", ref("Error")),
	}
}

func (h *DocsHandler) document() OpenAPISpec {
	eventFilters := []gin.H{
		queryParam("session_id", "string", "Only events of this session", false),
		queryParam("user_id", "string", "Only events of this user", false),
		queryParam("name", "string", "Only events with this name", false),
		queryParam("start_time", "string", "RFC 3339 lower bound", false),
		queryParam("end_time", "string", "RFC 3339 upper bound", false),
	}

	return OpenAPISpec{
		OpenAPI: "3.0.3",
		Info: OpenAPIInfo{
			Title:       "Analytics Collector API",
			Version:     h.version,
			Description: "Ingest endpoints used by the tracking SDK and read endpoints over stored data.",
		},
		Paths: map[string]interface{}{
			"/events": gin.H{"post": gin.H{
				"summary":     "Ingest a batch of events",
				"tags":        []string{"ingest"},
				"requestBody": jsonBody(ref("EventBatch")),
				"security":    writeKeySecurity,
				"responses":   ingestResponses(),
			}},
			"/heatmap": gin.H{"post": gin.H{
				"summary":     "Ingest heatmap points for a page",
				"tags":        []string{"ingest"},
				"requestBody": jsonBody(ref("HeatmapBatch")),
				"security":    writeKeySecurity,
				"responses":   ingestResponses(),
			}},
			"/recording": gin.H{"post": gin.H{
				"summary":     "Ingest a finished session recording",
				"tags":        []string{"ingest"},
				"requestBody": jsonBody(ref("SessionRecording")),
				"security":    writeKeySecurity,
				"responses":   ingestResponses(),
			}},
			"/v1/events": gin.H{"get": gin.H{
				"summary": "List stored events, newest first",
				"tags":    []string{"query"},
				"parameters": append(eventFilters,
					queryParam("limit", "integer", "Page size, at most 1000", false),
					queryParam("offset", "integer", "Rows to skip", false),
				),
				"responses": gin.H{
					"200": response("Events", gin.H{"type": "array", "items": ref("Event")}),
					"400": response("Invalid filter", ref("Error")),
				},
			}},
			"/v1/events/stats": gin.H{"get": gin.H{
				"summary":    "Count stored events by name",
				"tags":       []string{"query"},
				"parameters": eventFilters,
				"responses": gin.H{
					"200": response("Counts", gin.H{"type": "object", "additionalProperties": gin.H{"type": "integer"}}),
				},
			}},
			"/v1/recordings/{sessionId}": gin.H{"get": gin.H{
				"summary": "Fetch the recording of a session",
				"tags":    []string{"query"},
				"parameters": []gin.H{{
					"name": "sessionId", "in": "path", "required": true, "schema": gin.H{"type": "string"},
				}},
				"responses": gin.H{
					"200": response("Recording", ref("SessionRecording")),
					"404": response("No recording for session", ref("Error")),
				},
			}},
			"/v1/heatmap": gin.H{"get": gin.H{
				"summary": "Aggregated clicks and hovers per element",
				"tags":    []string{"query"},
				"parameters": []gin.H{
					queryParam("page", "string", "Page path", true),
					queryParam("limit", "integer", "Maximum elements", false),
				},
				"responses": gin.H{
					"200": response("Cells", gin.H{"type": "array", "items": ref("HeatmapCell")}),
				},
			}},
			"/v1/definitions": gin.H{"get": gin.H{
				"summary":   "Current goal, funnel and segment definitions",
				"tags":      []string{"config"},
				"responses": gin.H{"200": response("Definitions", gin.H{"type": "object"})},
			}},
		},
		Components: OpenAPIComponents{
			SecuritySchemes: map[string]interface{}{
				"writeKey": gin.H{"type": "apiKey", "in": "header", "name": "X-API-Key"},
				"bearer":   gin.H{"type": "http", "scheme": "bearer", "bearerFormat": "JWT"},
			},
			Schemas: map[string]interface{}{
				"Error": gin.H{
					"type":     "object",
					"required": []string{"success", "error"},
					"properties": gin.H{
						"success": gin.H{"type": "boolean", "enum": []bool{false}},
						"error": gin.H{
							"type":     "object",
							"required": []string{"code", "message"},
							"properties": gin.H{
								"code":    gin.H{"type": "string"},
								"message": gin.H{"type": "string"},
								"details": gin.H{"type": "string"},
							},
						},
					},
				},
				"Event": gin.H{
					"type":     "object",
					"required": []string{"id", "name", "sessionId", "timestamp"},
					"properties": gin.H{
						"id":        gin.H{"type": "string"},
						"name":      gin.H{"type": "string"},
						"category":  gin.H{"type": "string"},
						"action":    gin.H{"type": "string"},
						"label":     gin.H{"type": "string"},
						"value":     gin.H{"type": "number"},
						"metadata":  gin.H{"type": "object"},
						"timestamp": gin.H{"type": "string", "format": "date-time"},
						"sessionId": gin.H{"type": "string"},
						"userId":    gin.H{"type": "string"},
					},
				},
				"EventBatch": gin.H{
					"type":       "object",
					"required":   []string{"events"},
					"properties": gin.H{"events": gin.H{"type": "array", "maxItems": maxBatchSize, "items": ref("Event")}},
				},
				"HeatmapPoint": gin.H{
					"type": "object",
					"properties": gin.H{
						"element":     gin.H{"type": "string"},
						"x":           gin.H{"type": "number"},
						"y":           gin.H{"type": "number"},
						"clicks":      gin.H{"type": "integer"},
						"hovers":      gin.H{"type": "integer"},
						"scrollDepth": gin.H{"type": "number"},
					},
				},
				"HeatmapBatch": gin.H{
					"type":     "object",
					"required": []string{"data", "page"},
					"properties": gin.H{
						"page": gin.H{"type": "string"},
						"data": gin.H{"type": "array", "items": ref("HeatmapPoint")},
					},
				},
				"HeatmapCell": gin.H{
					"type": "object",
					"properties": gin.H{
						"element":     gin.H{"type": "string"},
						"clicks":      gin.H{"type": "integer"},
						"hovers":      gin.H{"type": "integer"},
						"avgX":        gin.H{"type": "number"},
						"avgY":        gin.H{"type": "number"},
						"scrollDepth": gin.H{"type": "number"},
					},
				},
				"SessionRecording": gin.H{
					"type":     "object",
					"required": []string{"sessionId"},
					"properties": gin.H{
						"sessionId": gin.H{"type": "string"},
						"userId":    gin.H{"type": "string"},
						"startTime": gin.H{"type": "string", "format": "date-time"},
						"endTime":   gin.H{"type": "string", "format": "date-time"},
						"events": gin.H{"type": "array", "items": gin.H{
							"type": "object",
							"properties": gin.H{
								"type":      gin.H{"type": "string", "enum": []string{"click", "scroll", "input", "navigation"}},
								"timestamp": gin.H{"type": "string", "format": "date-time"},
								"data":      gin.H{"type": "object"},
							},
						}},
						"metadata": gin.H{"type": "object"},
					},
				},
			},
		},
	}
}
