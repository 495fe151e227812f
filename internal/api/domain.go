package api

import (
	"github.com/JaimeStill/compass/internal/mappings"
	"github.com/JaimeStill/compass/internal/records"
	"github.com/JaimeStill/compass/internal/reports"
)

// Domain holds all domain systems that comprise the API.
type Domain struct {
	Mappings mappings.System
	Records  records.System
	Reports  reports.System
}

// NewDomain creates all domain systems from the API runtime.
// Records normalize against the mapping registry and reports read from records.
func NewDomain(runtime *Runtime) *Domain {
	mappingsSystem := mappings.New(
		runtime.Database.Connection(),
		runtime.Txn,
		runtime.Logger,
		runtime.Pagination,
		runtime.Mappings.SuggestThreshold,
		runtime.Mappings.ConfirmationFloor,
	)

	recordsSystem := records.New(
		runtime.Database.Connection(),
		runtime.Storage,
		runtime.Txn,
		mappingsSystem,
		runtime.Logger,
		runtime.Pagination,
		runtime.Ingest.Workers,
		runtime.Ingest.MaxRows,
	)

	return &Domain{
		Mappings: mappingsSystem,
		Records:  recordsSystem,
		Reports:  reports.New(recordsSystem, mappingsSystem, runtime.Logger),
	}
}
