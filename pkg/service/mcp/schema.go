package mcp

import (
	"encoding/json"
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/m-mizutani/comanager/pkg/model"
	"github.com/m-mizutani/goerr/v2"
)

var errUnsupportedSchema = goerr.New("unsupported schema")

// parametersFromSchema converts an MCP input schema into flat tool
// parameters. Only objects with primitive properties can be expressed.
func parametersFromSchema(inputSchema any) ([]model.Parameter, error) {
	if inputSchema == nil {
		return nil, nil
	}

	raw, err := json.Marshal(inputSchema)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to marshal input schema")
	}

	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, goerr.Wrap(err, "failed to unmarshal input schema")
	}

	if schema.Type != "" && schema.Type != "object" {
		return nil, goerr.Wrap(errUnsupportedSchema, "input schema is not an object", goerr.V("type", schema.Type))
	}

	required := make(map[string]bool, len(schema.Required))
	for _, name := range schema.Required {
		required[name] = true
	}

	names := make([]string, 0, len(schema.Properties))
	for name := range schema.Properties {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]model.Parameter, 0, len(names))
	for _, name := range names {
		prop := schema.Properties[name]
		paramType, err := parameterType(prop)
		if err != nil {
			return nil, goerr.Wrap(err, "failed to convert property", goerr.V("property", name))
		}
		params = append(params, model.Parameter{
			Name:        name,
			Type:        paramType,
			Description: prop.Description,
			Required:    required[name],
		})
	}

	return params, nil
}

func parameterType(schema *jsonschema.Schema) (model.ParameterType, error) {
	switch schema.Type {
	case "string", "":
		return model.ParameterString, nil
	case "integer":
		return model.ParameterInteger, nil
	case "number":
		return model.ParameterNumber, nil
	case "boolean":
		return model.ParameterBoolean, nil
	default:
		return "", goerr.Wrap(errUnsupportedSchema, "unsupported property type", goerr.V("type", schema.Type))
	}
}
