package api

import (
	"github.com/samber/lo"

	"github.com/mattjoyce/hbrun/internal/subcommand"
)

// buildOpenAPIDoc returns an OpenAPI 3.1 document for the run API. The
// subcommand enum and per-subcommand parameter shapes come from specs.
func buildOpenAPIDoc(specs []subcommand.Spec) map[string]any {
	names := lo.Map(specs, func(s subcommand.Spec, _ int) string { return string(s.Name) })

	shapes := map[string]any{}
	for _, spec := range specs {
		shapes[string(spec.Name)] = map[string]any{
			"description": spec.Description,
			"input":       spec.Input.String(),
			"output":      spec.Output.String(),
			"profile":     spec.Profile.String(),
			"pattern":     spec.Pattern.String(),
		}
	}

	bearer := []any{map[string]any{"BearerAuth": []string{}}}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "hbrun",
			"version": "1.0",
		},
		"paths": map[string]any{
			"/runs": map[string]any{
				"post": map[string]any{
					"operationId": "createRun",
					"summary":     "Run one Hayabusa subcommand and wait for it to finish",
					"security":    bearer,
					"requestBody": map[string]any{
						"required": true,
						"content": map[string]any{
							"application/json": map[string]any{
								"schema": map[string]any{"$ref": "#/components/schemas/RunRequest"},
							},
						},
					},
					"responses": map[string]any{
						"200": map[string]any{"description": "Run finished; exit status is in the report"},
						"400": map[string]any{"description": "Invalid invocation"},
						"404": map[string]any{"description": "Unsupported subcommand"},
						"500": map[string]any{"description": "Output could not be persisted"},
						"503": map[string]any{"description": "Too many concurrent runs"},
					},
				},
				"get": map[string]any{
					"operationId": "listRuns",
					"security":    bearer,
					"responses":   map[string]any{"200": map[string]any{"description": "Recorded runs, newest first"}},
				},
			},
			"/runs/{runID}": map[string]any{
				"get": map[string]any{
					"operationId": "getRun",
					"security":    bearer,
					"responses": map[string]any{
						"200": map[string]any{"description": "Recorded run"},
						"404": map[string]any{"description": "Run not found"},
					},
				},
			},
			"/events": map[string]any{
				"get": map[string]any{
					"operationId": "streamEvents",
					"summary":     "Server-sent stream of run.started, run.finished, batch.started and batch.finished",
					"security":    bearer,
					"parameters": []any{
						map[string]any{"name": "types", "in": "query", "description": "comma-separated event types", "schema": map[string]any{"type": "string"}},
						map[string]any{"name": "subcommand", "in": "query", "schema": map[string]any{"type": "string"}},
						map[string]any{"name": "Last-Event-ID", "in": "header", "schema": map[string]any{"type": "integer"}},
					},
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Event stream",
							"content":     map[string]any{"text/event-stream": map[string]any{}},
						},
					},
				},
			},
			"/subcommands": map[string]any{
				"get": map[string]any{
					"operationId": "listSubcommands",
					"security":    bearer,
					"responses":   map[string]any{"200": map[string]any{"description": "Supported subcommands"}},
				},
			},
		},
		"components": map[string]any{
			"schemas": map[string]any{
				"RunRequest": map[string]any{
					"type":     "object",
					"required": []string{"subcommand"},
					"properties": map[string]any{
						"subcommand": map[string]any{"type": "string", "enum": names},
						"persist":    map[string]any{"type": "boolean"},
						"params": map[string]any{
							"type": "object",
							"properties": map[string]any{
								"input":      map[string]any{"type": "string"},
								"input_kind": map[string]any{"type": "string", "enum": []string{"file", "dir"}},
								"output":     map[string]any{"type": "string"},
								"profile":    map[string]any{"type": "string"},
								"pattern":    map[string]any{"type": "string"},
								"regex":      map[string]any{"type": "boolean"},
								"extra":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
							},
						},
					},
					"x-subcommand-parameters": shapes,
				},
			},
			"securitySchemes": map[string]any{
				"BearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
		},
	}
}
