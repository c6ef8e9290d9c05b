package config

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
)

//go:embed schema.cue
var schemaSource string

// validateSchema unifies the JSON form of c with #Config and requires every
// field to be concrete.
func validateSchema(c Config) error {
	data, err := json.Marshal(c)
	if err != nil {
		return &ConfigError{Message: err.Error()}
	}

	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	doc := ctx.CompileBytes(data, cue.Filename("config.json"))
	if err := doc.Err(); err != nil {
		return formatCUEError(err)
	}

	v := schema.LookupPath(cue.ParsePath("#Config")).Unify(doc)
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return formatCUEError(err)
	}
	return nil
}

// formatCUEError reports the first CUE error with its field path.
func formatCUEError(err error) error {
	errs := cueerrors.Errors(err)
	if len(errs) == 0 {
		return &ConfigError{Message: err.Error()}
	}
	first := errs[0]
	return &ConfigError{
		Field:   strings.Join(first.Path(), "."),
		Message: first.Error(),
	}
}
