package handlers

import (
	"encoding/json"
	"net/http"
)

const (
	apiTitle   = "Gas Exchange Platform API"
	apiVersion = "1.0.0"
)

type schema = map[string]interface{}

func queryParam(name, description, typ string) schema {
	return schema{
		"name":        name,
		"in":          "query",
		"description": description,
		"required":    false,
		"schema":      schema{"type": typ},
	}
}

func requiredQueryParam(name, description, typ string) schema {
	p := queryParam(name, description, typ)
	p["required"] = true
	return p
}

var runIDParam = schema{
	"name":        "id",
	"in":          "path",
	"description": "Run ID",
	"required":    true,
	"schema":      schema{"type": "string"},
}

var paginationParams = []schema{
	queryParam("page", "Page number (default: 1)", "integer"),
	queryParam("limit", "Records per page (default: 100, max: 1000)", "integer"),
}

func nullableNumber() schema { return schema{"type": "number", "nullable": true} }

func jsonResponse(description string, body schema) schema {
	return schema{
		"description": description,
		"content": schema{
			"application/json": schema{"schema": body},
		},
	}
}

func paginatedOf(item schema) schema {
	return schema{
		"type": "object",
		"properties": schema{
			"data":        schema{"type": "array", "items": item},
			"total":       schema{"type": "integer"},
			"page":        schema{"type": "integer"},
			"limit":       schema{"type": "integer"},
			"total_pages": schema{"type": "integer"},
		},
	}
}

func errorResponses(codes ...string) schema {
	out := schema{}
	for _, code := range codes {
		out[code] = jsonResponse("Error", schema{"$ref": "#/components/schemas/Error"})
	}
	return out
}

func with(base schema, extra schema) schema {
	for k, v := range extra {
		base[k] = v
	}
	return base
}

// openAPIDocument builds the OpenAPI 3.0 description of the API
func openAPIDocument() schema {
	ref := func(name string) schema { return schema{"$ref": "#/components/schemas/" + name} }

	return schema{
		"openapi": "3.0.0",
		"info": schema{
			"title":       apiTitle,
			"description": "Medlyn stomatal conductance fits over leaf gas-exchange measurements",
			"version":     apiVersion,
		},
		"servers": []schema{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": schema{
			"/api/v1/runs": schema{
				"get": schema{
					"summary":    "List fit runs",
					"parameters": paginationParams,
					"responses": with(errorResponses("500"), schema{
						"200": jsonResponse("Runs, newest first", paginatedOf(ref("FitRun"))),
					}),
				},
			},
			"/api/v1/runs/{id}": schema{
				"get": schema{
					"summary":    "Get a fit run",
					"parameters": []schema{runIDParam},
					"responses": with(errorResponses("404", "500"), schema{
						"200": jsonResponse("Run", ref("FitRun")),
					}),
				},
			},
			"/api/v1/runs/{id}/observations": schema{
				"get": schema{
					"summary": "Get the fitted observations of a run",
					"parameters": append([]schema{
						runIDParam,
						queryParam("season", "Filter by season (dry, wet)", "string"),
						queryParam("progeny", "Filter by progeny", "string"),
						queryParam("position", "Filter by leaflet position label", "string"),
					}, paginationParams...),
					"responses": with(errorResponses("404", "500"), schema{
						"200": jsonResponse("Observations in file order", paginatedOf(ref("Observation"))),
					}),
				},
			},
			"/api/v1/runs/{id}/summaries": schema{
				"get": schema{
					"summary": "Get group summaries of a run",
					"parameters": []schema{
						runIDParam,
						queryParam("dimension", "season_progeny, position or rank", "string"),
					},
					"responses": with(errorResponses("400", "404", "500"), schema{
						"200": jsonResponse("Summaries", schema{
							"type":       "object",
							"properties": schema{"data": schema{"type": "array", "items": ref("GroupSummary")}},
						}),
					}),
				},
			},
			"/api/v1/runs/{id}/predict": schema{
				"get": schema{
					"summary": "Evaluate the fitted Medlyn model",
					"parameters": []schema{
						runIDParam,
						requiredQueryParam("vpd", "Vapour pressure deficit in kPa, > 0", "number"),
						requiredQueryParam("photo", "Net photosynthesis in umol m-2 s-1", "number"),
					},
					"responses": with(errorResponses("400", "404", "500"), schema{
						"200": jsonResponse("Predicted CO2 conductance", ref("Prediction")),
					}),
				},
			},
			"/health": schema{
				"get": schema{
					"summary": "Health check",
					"responses": schema{
						"200": jsonResponse("API and database are healthy", schema{
							"type":       "object",
							"properties": schema{"status": schema{"type": "string"}, "timestamp": schema{"type": "string"}},
						}),
						"503": schema{"description": "Database unreachable"},
					},
				},
			},
			"/metrics": schema{
				"get": schema{
					"summary": "Prometheus metrics",
					"responses": schema{
						"200": schema{
							"description": "Prometheus metrics in text format",
							"content":     schema{"text/plain": schema{"schema": schema{"type": "string"}}},
						},
					},
				},
			},
		},
		"components": schema{
			"schemas": schema{
				"Error": schema{
					"type": "object",
					"properties": schema{
						"error":   schema{"type": "string"},
						"message": schema{"type": "string"},
						"code":    schema{"type": "integer"},
					},
				},
				"FitRun": schema{
					"type": "object",
					"properties": schema{
						"id":           schema{"type": "string"},
						"source_file":  schema{"type": "string"},
						"g0":           schema{"type": "number"},
						"g1":           schema{"type": "number"},
						"sigma":        schema{"type": "number"},
						"rss":          schema{"type": "number"},
						"g0_std_error": schema{"type": "number"},
						"g1_std_error": schema{"type": "number"},
						"g0_t_value":   schema{"type": "number"},
						"g1_t_value":   schema{"type": "number"},
						"g0_p_value":   schema{"type": "number"},
						"g1_p_value":   schema{"type": "number"},
						"r_squared":    schema{"type": "number"},
						"rmse":         schema{"type": "number"},
						"df":           schema{"type": "integer"},
						"n_used":       schema{"type": "integer"},
						"n_excluded":   schema{"type": "integer"},
						"iterations":   schema{"type": "integer"},
						"status":       schema{"type": "string"},
						"start_g0":     schema{"type": "number"},
						"start_g1":     schema{"type": "number"},
						"created_at":   schema{"type": "string", "format": "date-time"},
					},
				},
				"Observation": schema{
					"type": "object",
					"properties": schema{
						"row_number":        schema{"type": "integer"},
						"date":              schema{"type": "string", "format": "date-time", "nullable": true},
						"hour":              schema{"type": "integer", "nullable": true},
						"frond":             schema{"type": "string"},
						"rank":              schema{"type": "integer", "nullable": true},
						"position":          schema{"type": "string"},
						"relative_position": nullableNumber(),
						"season":            schema{"type": "string"},
						"progeny":           schema{"type": "string"},
						"tree":              schema{"type": "string"},
						"vpd":               nullableNumber(),
						"gs_h2o":            nullableNumber(),
						"gs_co2":            nullableNumber(),
						"photo":             nullableNumber(),
						"transpiration":     nullableNumber(),
						"gs_medlyn_co2":     nullableNumber(),
					},
				},
				"GroupSummary": schema{
					"type": "object",
					"properties": schema{
						"dimension":          schema{"type": "string"},
						"group_key":          schema{"type": "string"},
						"n":                  schema{"type": "integer"},
						"mean_gs_co2":        nullableNumber(),
						"sd_gs_co2":          nullableNumber(),
						"mean_photo":         nullableNumber(),
						"mean_vpd":           nullableNumber(),
						"mean_transpiration": nullableNumber(),
					},
				},
				"Prediction": schema{
					"type": "object",
					"properties": schema{
						"run_id":        schema{"type": "string"},
						"vpd":           schema{"type": "number"},
						"photo":         schema{"type": "number"},
						"gs_medlyn_co2": schema{"type": "number"},
					},
				},
			},
		},
	}
}

// OpenAPISpec serves the OpenAPI 3.0 document
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(openAPIDocument())
}
