package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"io"
	"net/url"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*
var schemaFiles embed.FS

func loadSchema(s string) (io.ReadCloser, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, err
	}
	return schemaFiles.Open(u.Path)
}

func init() {
	jsonschema.Loaders["embedFS"] = loadSchema
}

// validate checks raw against the embedded config schema before it is
// unmarshaled into Config, rejecting missing required fields and wrongly
// typed values up front instead of failing on first use deep inside some
// other component. The schema does not reject unknown fields; Load's
// decoder does (DisallowUnknownFields).
func validate(raw []byte) error {
	s, err := jsonschema.Compile("embedFS://schemas/config.schema.json")
	if err != nil {
		return err
	}

	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("config: decode for validation: %w", err)
	}
	if err := s.Validate(v); err != nil {
		return fmt.Errorf("config: %#v", err)
	}
	return nil
}
