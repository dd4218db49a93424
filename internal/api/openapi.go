package api

import (
	"fmt"
	"net/http"
)

// handleOpenAPI handles GET /openapi.json.
func (s *Server) handleOpenAPI(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0)
	for _, wk := range s.registry.All() {
		names = append(names, wk.Name)
	}
	doc := buildOpenAPIDoc(names)
	if s.events != nil {
		doc["paths"].(map[string]any)["/events"] = map[string]any{
			"get": map[string]any{
				"operationId": "streamEvents",
				"summary":     "Server-sent stream of host events",
				"responses":   map[string]any{"200": map[string]any{"description": "text/event-stream"}},
			},
		}
	}
	respondJSON(w, http.StatusOK, doc)
}

// buildOpenAPIDoc returns an OpenAPI 3.1 document with one command
// operation per worker.
func buildOpenAPIDoc(workers []string) map[string]any {
	paths := map[string]any{
		"/healthz": map[string]any{
			"get": map[string]any{
				"operationId": "healthz",
				"responses": map[string]any{
					"200": map[string]any{"description": "All dispatchers running"},
					"503": map[string]any{"description": "A dispatcher has stopped"},
				},
			},
		},
		"/workers": map[string]any{
			"get": map[string]any{
				"operationId": "listWorkers",
				"responses":   map[string]any{"200": map[string]any{"description": "Registered workers"}},
			},
		},
	}

	for _, name := range workers {
		paths[fmt.Sprintf("/workers/%s/commands", name)] = map[string]any{
			"post": map[string]any{
				"operationId": fmt.Sprintf("%s__command", name),
				"summary":     fmt.Sprintf("Send a command to %s", name),
				"tags":        []string{name},
				"requestBody": map[string]any{
					"required": true,
					"content": map[string]any{
						"application/json": map[string]any{
							"schema": map[string]any{
								"type":       "object",
								"required":   []string{"command"},
								"properties": map[string]any{"command": map[string]any{"type": "string"}},
							},
						},
						"text/plain": map[string]any{"schema": map[string]any{"type": "string"}},
					},
				},
				"responses": map[string]any{
					"200": map[string]any{"description": "Worker result"},
					"400": map[string]any{"description": "Bad request"},
					"404": map[string]any{"description": "Unknown worker"},
					"502": map[string]any{"description": "Worker channel failed"},
				},
			},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "ipcmux",
			"version": "1.0",
		},
		"paths": paths,
	}
}
