package application

import (
	_ "embed"

	"github.com/atelier-platform/production-engine/pkg/contracts"
)

//go:embed event_contracts.yaml
var eventContracts []byte

// EventContracts compiles the payload contracts of every event the engine emits
func EventContracts() (*contracts.EventValidator, error) {
	return contracts.NewEventValidator(eventContracts)
}
