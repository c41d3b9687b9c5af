// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/fatih/color"

	"github.com/jllopis/mathqa/pkg/index"
)

var (
	scoreColor = color.New(color.FgGreen, color.Bold)
	dimColor   = color.New(color.FgHiBlack)
	warnColor  = color.New(color.FgYellow)
)

type buildReport struct {
	Records   int    `json:"records"`
	Dimension int    `json:"dimension"`
	Model     string `json:"model,omitempty"`
	Store     string `json:"store"`
	Corpus    string `json:"corpus"`
}

func printBuild(w io.Writer, asJSON bool, r buildReport) error {
	if asJSON {
		return writeJSON(w, r)
	}
	scoreColor.Fprintf(w, "indexed %d questions", r.Records)
	dimColor.Fprintf(w, " (dimension %d, model %q, %s store, corpus %s)\n", r.Dimension, r.Model, r.Store, r.Corpus)
	return nil
}

func printMatches(w io.Writer, asJSON bool, matches []index.Match) error {
	if asJSON {
		return writeJSON(w, map[string]any{"similar": matches})
	}
	if len(matches) == 0 {
		warnColor.Fprintln(w, "no similar questions above the threshold")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SCORE\tID\tQUESTION")
	for _, m := range matches {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", scoreColor.Sprintf("%.4f", m.Score), m.Meta.ID, m.Meta.Question)
	}
	return tw.Flush()
}

// printOutcome renders a flow result. The raw model output is shown when it
// could not be parsed.
func printOutcome(w io.Writer, asJSON, ok bool, v any) error {
	if !asJSON && !ok {
		warnColor.Fprintln(w, "the model did not return valid JSON:")
	}
	return writeJSON(w, v)
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
