package engine

import (
	"strings"

	"github.com/rucat-project/rucat/internal/apierr"
)

// CreateRequest is the decoded body of POST /engine.
type CreateRequest struct {
	Name       string            `json:"name" validate:"required"`
	EngineType Type              `json:"engine_type" validate:"required"`
	Version    string            `json:"version" validate:"required"`
	Configs    map[string]string `json:"configs"`
}

// Validate checks that name is non-empty, engine_type is known, and version
// is whitelisted for that engine type. Struct-tag driven required-field
// checks are expected to have already run (internal/api wires
// go-playground/validator for those); this function additionally enforces
// the whitelist, which validator's static tags cannot express since the
// whitelist is keyed by EngineType.
func (r CreateRequest) Validate() error {
	if strings.TrimSpace(r.Name) == "" {
		return apierr.ValidationError("name", "must not be empty")
	}
	if !TypeKnown(r.EngineType) {
		return apierr.ValidationError("engine_type", "unknown engine type: "+string(r.EngineType))
	}
	if !VersionAllowed(r.EngineType, r.Version) {
		return apierr.ValidationError("version", "version "+r.Version+" is not allowed for "+string(r.EngineType))
	}
	return nil
}
