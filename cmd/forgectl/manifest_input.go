package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

var errNoManifest = errors.New("manifest path is required")

// readManifestJSON loads a manifest file and returns it as JSON. TOML files
// are converted so the normalizer sees the same document shape either way.
// A path of "-" reads JSON from in.
func readManifestJSON(path string, in io.Reader) ([]byte, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errNoManifest
	}

	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(in)
	} else {
		data, err = os.ReadFile(path) // #nosec G304 - path comes from the operator
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}

	if !isTOML(path) {
		return data, nil
	}

	var doc map[string]any
	if err := toml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse TOML manifest: %w", err)
	}
	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("convert TOML manifest: %w", err)
	}
	return out, nil
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

// readOptionalJSON loads a JSON document, returning nil for an empty path.
func readOptionalJSON(path string) (json.RawMessage, error) {
	if strings.TrimSpace(path) == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) // #nosec G304 - path comes from the operator
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("%s is not valid JSON", path)
	}
	return json.RawMessage(data), nil
}
