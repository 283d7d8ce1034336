package errors

import "sort"

// ErrorTemplate defines a registered error type.
type ErrorTemplate struct {
	Category Category
	Message  string
	Detail   string
}

// registry maps error codes to their templates.
var registry = map[string]ErrorTemplate{
	// Graph errors (S001-S009)
	"S001": {
		Category: CategoryGraph,
		Message:  "Dependency cycle",
		Detail:   "A cell waits, directly or through other cells, on a cell that is itself waiting on it.",
	},
	"S002": {
		Category: CategoryGraph,
		Message:  "Write to a read-only cell",
		Detail:   "The cell is derived and has no updater, or is a store without a dispatch function.",
	},
	"S003": {
		Category: CategoryResolve,
		Message:  "Resolution failed",
		Detail:   "A resolver returned an error or panicked.",
	},
	"S004": {
		Category: CategoryGraph,
		Message:  "Type mismatch",
		Detail:   "The value does not have the type of the cell it was written to.",
	},
	"S005": {
		Category: CategoryGraph,
		Message:  "Registry closed",
		Detail:   "The registry was closed before the operation ran.",
	},

	// Config errors (S010)
	"S010": {
		Category: CategoryConfig,
		Message:  "Invalid configuration",
		Detail:   "stan.json could not be read or failed validation.",
	},

	// Scenario errors (S011-S019)
	"S011": {
		Category: CategoryScenario,
		Message:  "Invalid scenario",
		Detail:   "The scenario file could not be parsed or is inconsistent.",
	},
	"S012": {
		Category: CategoryScenario,
		Message:  "Unknown cell",
		Detail:   "A formula or step refers to a cell the scenario does not define.",
	},
	"S013": {
		Category: CategoryScenario,
		Message:  "Invalid formula",
		Detail:   "A formula failed to compile.",
	},
	"S014": {
		Category: CategoryScenario,
		Message:  "Step failed",
		Detail:   "A scenario step did not produce the expected result.",
	},

	// CLI errors (S020-S029)
	"S020": {
		Category: CategoryCLI,
		Message:  "Server failed",
		Detail:   "The inspection server stopped with an error.",
	},
}

// GetAllCodes returns all registered error codes, sorted.
func GetAllCodes() []string {
	codes := make([]string, 0, len(registry))
	for code := range registry {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}

// GetTemplate returns the template for an error code.
func GetTemplate(code string) (ErrorTemplate, bool) {
	t, ok := registry[code]
	return t, ok
}
