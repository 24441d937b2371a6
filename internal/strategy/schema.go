package strategy

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed rule_schema.json
var ruleSchemaJSON string

var ruleSchema *jsonschema.Schema

func init() {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("rules.json", bytes.NewReader([]byte(ruleSchemaJSON))); err != nil {
		panic(fmt.Sprintf("strategy: embedded rule schema: %v", err))
	}
	ruleSchema = compiler.MustCompile("rules.json")
}

// ValidateRulesJSON checks a user-authored rule array against the schema
// before it is accepted into a strategy.
func ValidateRulesJSON(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("rules are not valid JSON: %w", err)
	}
	if err := ruleSchema.Validate(doc); err != nil {
		return fmt.Errorf("rules failed validation: %w", err)
	}
	return nil
}
