// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package corpus

import (
	"bytes"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/jllopis/mathqa/pkg/errors"
)

// Format identifies the encoding of a corpus file.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// schema describes a corpus document: an array of objects, each with a
// non-empty "question" and an optional integer or non-empty string "id".
const schema = `{
  "type": "array",
  "items": {
    "type": "object",
    "required": ["question"],
    "properties": {
      "question": {"type": "string", "minLength": 1},
      "id": {"type": ["string", "integer"], "minLength": 1}
    }
  }
}`

var schemaLoader = gojsonschema.NewStringLoader(schema)

// FormatFor picks the format from a file extension. Unknown extensions are
// treated as JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// Load reads and validates the corpus file at path.
func Load(path string) ([]Record, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New(errors.CodeCorpus, "corpus path is empty", nil)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		msg := "read corpus"
		if stderrors.Is(err, fs.ErrNotExist) {
			msg = "corpus file not found"
		}
		return nil, errors.New(errors.CodeCorpus, msg, err).WithContext("path", path)
	}
	recs, err := Parse(data, FormatFor(path))
	if err != nil {
		if e := errors.As(err); e.Code == errors.CodeCorpus {
			e.WithContext("path", path)
		}
		return nil, err
	}
	return recs, nil
}

// Read decodes a corpus of the given format from r.
func Read(r io.Reader, format Format) ([]Record, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.New(errors.CodeCorpus, "read corpus", err)
	}
	return Parse(data, format)
}

// Parse validates data against the corpus schema and decodes it. Records
// without an id get their zero-based position as a numeric id.
func Parse(data []byte, format Format) ([]Record, error) {
	if format == FormatYAML {
		converted, err := yamlToJSON(data)
		if err != nil {
			return nil, errors.New(errors.CodeCorpus, "malformed yaml corpus", err)
		}
		data = converted
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, errors.New(errors.CodeCorpus, "corpus is empty", nil)
	}

	result, err := gojsonschema.Validate(schemaLoader, gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, errors.New(errors.CodeCorpus, "malformed corpus", err)
	}
	if !result.Valid() {
		violations := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			violations = append(violations, desc.String())
		}
		return nil, errors.New(errors.CodeCorpus, "corpus does not match schema",
			fmt.Errorf("%s", strings.Join(violations, "; "))).
			WithContext("violations", violations)
	}

	var recs []Record
	if err := json.Unmarshal(data, &recs); err != nil {
		return nil, errors.New(errors.CodeCorpus, "decode corpus", err)
	}
	for i := range recs {
		if strings.TrimSpace(recs[i].Question) == "" {
			return nil, errors.Newf(errors.CodeCorpus, "record %d has a blank question", i)
		}
		if recs[i].ID == "" && !recs[i].numericID {
			recs[i].ID = strconv.Itoa(i)
			recs[i].numericID = true
		}
	}
	if recs == nil {
		recs = []Record{}
	}
	return recs, nil
}

// Questions returns the question texts in corpus order.
func Questions(recs []Record) []string {
	out := make([]string, len(recs))
	for i, r := range recs {
		out[i] = r.Question
	}
	return out
}

func yamlToJSON(data []byte) ([]byte, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if doc == nil {
		return nil, nil
	}
	return json.Marshal(doc)
}
