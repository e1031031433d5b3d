package app

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

type openAPIDoc struct {
	OpenAPI string                               `yaml:"openapi"`
	Paths   map[string]map[string]map[string]any `yaml:"paths"`
}

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	raw, err := os.ReadFile("../../api/openapi.yaml")
	require.NoError(t, err)

	var doc openAPIDoc
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	assert.Equal(t, "3.0.3", doc.OpenAPI)

	routes := map[string]string{
		"/v1/interviews":                 "post",
		"/v1/analysis/callback":          "post",
		"/v1/applications/{id}":          "get",
		"/v1/applications/{id}/decision": "post",
		"/healthz":                       "get",
		"/readyz":                        "get",
		"/metrics":                       "get",
	}
	for path, method := range routes {
		ops, ok := doc.Paths[path]
		require.Truef(t, ok, "path %s missing", path)
		_, ok = ops[method]
		assert.Truef(t, ok, "%s %s missing", method, path)
	}
}

func TestOpenAPISystemKeyScheme(t *testing.T) {
	raw, err := os.ReadFile("../../api/openapi.yaml")
	require.NoError(t, err)

	var doc struct {
		Components struct {
			SecuritySchemes map[string]struct {
				Type string `yaml:"type"`
				In   string `yaml:"in"`
				Name string `yaml:"name"`
			} `yaml:"securitySchemes"`
		} `yaml:"components"`
	}
	require.NoError(t, yaml.Unmarshal(raw, &doc))
	scheme, ok := doc.Components.SecuritySchemes["systemKey"]
	require.True(t, ok)
	assert.Equal(t, "header", scheme.In)
	assert.Equal(t, "X-System-Key", scheme.Name)
}
