// Package contracts validates CloudEvents payloads against JSON Schema event contracts.
package contracts

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"gopkg.in/yaml.v3"

	"github.com/atelier-platform/production-engine/pkg/cloudevents"
)

var (
	// ErrUnknownEventType is returned for events without a contract
	ErrUnknownEventType = errors.New("no contract for event type")
	// ErrContractViolation is returned when an event breaks its contract
	ErrContractViolation = errors.New("event violates contract")
)

// contractFile is the on-disk contract format. Only events is read; other
// top-level keys can hold YAML anchors shared between schemas.
type contractFile struct {
	Version int                    `yaml:"version"`
	Events  map[string]interface{} `yaml:"events"`
}

// EventValidator checks event envelopes and payloads against compiled schemas
type EventValidator struct {
	version int
	schemas map[string]*jsonschema.Schema
}

// NewEventValidator compiles every event schema in a YAML contract document
func NewEventValidator(contract []byte) (*EventValidator, error) {
	var file contractFile
	if err := yaml.Unmarshal(contract, &file); err != nil {
		return nil, fmt.Errorf("failed to parse event contracts: %w", err)
	}
	if len(file.Events) == 0 {
		return nil, errors.New("event contracts define no events")
	}

	compiler := jsonschema.NewCompiler()
	schemas := make(map[string]*jsonschema.Schema, len(file.Events))
	for eventType, raw := range file.Events {
		// round trip through JSON so the compiler sees plain JSON values
		b, err := json.Marshal(raw)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", eventType, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", eventType, err)
		}

		url := "urn:atelier:events:" + eventType
		if err := compiler.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("contract %s: %w", eventType, err)
		}
		schema, err := compiler.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("failed to compile contract %s: %w", eventType, err)
		}
		schemas[eventType] = schema
	}

	return &EventValidator{version: file.Version, schemas: schemas}, nil
}

// Version is the contract document version
func (v *EventValidator) Version() int { return v.version }

// HasContract reports whether eventType has a schema
func (v *EventValidator) HasContract(eventType string) bool {
	_, ok := v.schemas[eventType]
	return ok
}

// EventTypes returns the contracted event types in order
func (v *EventValidator) EventTypes() []string {
	types := make([]string, 0, len(v.schemas))
	for t := range v.schemas {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Validate checks the CloudEvents envelope and the payload of event
func (v *EventValidator) Validate(event *cloudevents.Event) error {
	if event == nil {
		return fmt.Errorf("%w: nil event", ErrContractViolation)
	}
	if event.SpecVersion != "1.0" || event.ID == "" || event.Source == "" || event.Type == "" {
		return fmt.Errorf("%w: incomplete envelope for %q", ErrContractViolation, event.Type)
	}

	schema, ok := v.schemas[event.Type]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownEventType, event.Type)
	}

	b, err := json.Marshal(event.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event.Type, err)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", event.Type, err)
	}
	if err := schema.Validate(inst); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrContractViolation, event.Type, err)
	}
	return nil
}
