package structured

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

const schemaBaseURL = "https://ad-buyer.local/opendirect/"

// Validator checks arguments locally so malformed calls never reach the
// seller. Schemas are compiled once per operation.
type Validator struct {
	catalog *Catalog

	mu      sync.Mutex
	schemas map[string]*jsonschema.Schema
}

func NewValidator(catalog *Catalog) *Validator {
	if catalog == nil {
		catalog = DefaultCatalog()
	}
	return &Validator{catalog: catalog, schemas: make(map[string]*jsonschema.Schema)}
}

// Validate returns the operation for name when args satisfy it.
func (v *Validator) Validate(name string, args map[string]any) (Operation, error) {
	op, ok := v.catalog.Lookup(name)
	if !ok {
		return Operation{}, fmt.Errorf("%w: unknown operation %q", contractx.ErrValidation, name)
	}
	if missing := op.Missing(args); len(missing) > 0 {
		return op, fmt.Errorf("%w: %s missing required field(s): %s", contractx.ErrValidation, op.Name, strings.Join(missing, ", "))
	}

	compiled, err := v.schema(op)
	if err != nil {
		return op, err
	}
	doc, err := normalizeArgs(args)
	if err != nil {
		return op, fmt.Errorf("%w: %s arguments: %v", contractx.ErrValidation, op.Name, err)
	}
	if err := compiled.Validate(doc); err != nil {
		return op, fmt.Errorf("%w: %s arguments: %v", contractx.ErrValidation, op.Name, err)
	}
	return op, nil
}

func (v *Validator) schema(op Operation) (*jsonschema.Schema, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if s, ok := v.schemas[op.Name]; ok {
		return s, nil
	}

	raw, err := json.Marshal(schemaDocument(op))
	if err != nil {
		return nil, fmt.Errorf("marshal %s schema: %w", op.Name, err)
	}
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	url := schemaBaseURL + op.Name + ".schema.json"
	if err := c.AddResource(url, bytes.NewReader(raw)); err != nil {
		return nil, fmt.Errorf("load %s schema: %w", op.Name, err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile %s schema: %w", op.Name, err)
	}
	v.schemas[op.Name] = compiled
	return compiled, nil
}

// schemaDocument renders the operation's parameters as a JSON Schema.
// Unknown properties are allowed; sellers may accept extensions.
func schemaDocument(op Operation) map[string]any {
	props := make(map[string]any, len(op.params))
	for k, p := range op.params {
		prop := map[string]any{"type": string(p.Type)}
		if p.Desc != "" {
			prop["description"] = p.Desc
		}
		if p.Required && p.Type == "string" {
			prop["minLength"] = 1
		}
		if k == "quantity" || k == "budget" {
			prop["minimum"] = 0
		}
		props[k] = prop
	}
	required := make([]string, 0, len(op.Required))
	required = append(required, op.Required...)
	sort.Strings(required)
	return map[string]any{
		"$schema":    "https://json-schema.org/draft/2020-12/schema",
		"type":       "object",
		"properties": props,
		"required":   required,
	}
}

// normalizeArgs turns Go values into the JSON data model the validator
// expects.
func normalizeArgs(args map[string]any) (any, error) {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, err
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
