package a2a

import (
	"strings"

	"github.com/xeipuuv/gojsonschema"

	"github.com/gluenet/agentmesh"
)

// cardSchema is the JSON Schema every fetched card must satisfy before a
// client will act on it. Kept deliberately structural: trust models and
// payment methods are free-form tags, prices are decimal strings.
const cardSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["agentId", "domain", "name", "version", "skills", "trustModels", "paymentMethods"],
  "properties": {
    "agentId": {"type": "integer", "minimum": 0},
    "domain": {"type": "string", "minLength": 1},
    "name": {"type": "string", "minLength": 1},
    "description": {"type": "string"},
    "version": {"type": "string", "minLength": 1},
    "skills": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["skillId", "name", "priceAmount", "priceCurrency", "endpointPath"],
        "properties": {
          "skillId": {"type": "string", "minLength": 1},
          "name": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "priceAmount": {"type": "string", "pattern": "^[0-9]+$"},
          "priceCurrency": {"type": "string", "minLength": 1},
          "inputSchema": {"type": "object"},
          "outputSchema": {"type": "object"},
          "endpointPath": {"type": "string", "pattern": "^/"}
        }
      }
    },
    "trustModels": {"type": "array", "items": {"type": "string"}},
    "paymentMethods": {"type": "array", "items": {"type": "string"}}
  }
}`

var cardSchemaLoader = gojsonschema.NewStringLoader(cardSchema)

// ValidateCard checks raw card bytes against the card schema. Violations
// come back as a single invalid_agent_card error listing every failed
// constraint.
func ValidateCard(data []byte) error {
	result, err := gojsonschema.Validate(cardSchemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return agentmesh.Wrap(agentmesh.KindInvalidAgentCard, "agent card is not valid JSON", err)
	}
	if result.Valid() {
		return nil
	}
	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return agentmesh.Ef(agentmesh.KindInvalidAgentCard,
		"agent card rejected by schema: %s", strings.Join(violations, "; "))
}
