// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jllopis/mathqa/pkg/corpus"
	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/index"
)

func newServeCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and the MCP endpoint at /mcp",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			return a.Serve(ctx)
		},
	}
}

func newBuildCmd(opts *rootOptions) *cobra.Command {
	var (
		corpusPath string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Embed the corpus and persist a fresh index snapshot",
		Long: "Embed the corpus and persist a fresh index snapshot.\n\n" +
			"The corpus defaults to index.corpus_path. Use --corpus - to read it from stdin.",
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer a.Close()

			idx := a.Config().Index()
			if corpusPath == "" {
				corpusPath = idx.CorpusPath
			}
			if corpusPath == "-" {
				f := corpus.Format(format)
				if f != corpus.FormatJSON && f != corpus.FormatYAML {
					return errors.Newf(errors.CodeInvalidInput, "unknown corpus format %q, expected json or yaml", format)
				}
				recs, err := corpus.Read(cmd.InOrStdin(), f)
				if err != nil {
					return err
				}
				if err := a.Index().BuildRecords(cmd.Context(), "stdin", recs); err != nil {
					return err
				}
			} else if err := a.Index().Build(cmd.Context(), corpusPath); err != nil {
				return err
			}
			snap := a.Index().Snapshot()
			return printBuild(cmd.OutOrStdout(), opts.json, buildReport{
				Records:   snap.Len(),
				Dimension: snap.Dimension,
				Model:     snap.Model,
				Store:     idx.Store,
				Corpus:    corpusPath,
			})
		},
	}
	cmd.Flags().StringVar(&corpusPath, "corpus", "", "corpus file, or - for stdin")
	cmd.Flags().StringVar(&format, "format", string(corpus.FormatJSON), "stdin corpus format (json or yaml)")
	return cmd
}

func newQueryCmd(opts *rootOptions) *cobra.Command {
	var (
		topK      int
		threshold float64
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Find the questions most similar to text",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			if opts.remote != "" {
				return queryRemote(cmd, opts, text, topK, threshold)
			}
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Start(cmd.Context()); err != nil {
				return err
			}

			sim := a.Config().Similarity()
			if !cmd.Flags().Changed("top") {
				topK = sim.TopK
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = sim.Threshold
			}
			results, err := a.Index().Query(cmd.Context(), text, topK)
			if err != nil {
				return err
			}
			return printMatches(cmd.OutOrStdout(), opts.json, index.Matches(results, threshold))
		},
	}
	cmd.Flags().IntVarP(&topK, "top", "k", 5, "number of candidates to rank (defaults to similarity.top_k)")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0.8, "minimum score (defaults to similarity.threshold)")
	return cmd
}

// queryRemote runs the query through a server's MCP tools. Flags left unset
// fall back to the server's similarity defaults.
func queryRemote(cmd *cobra.Command, opts *rootOptions, text string, topK int, threshold float64) error {
	c, err := opts.remoteClient(cmd.Context())
	if err != nil {
		return err
	}
	defer c.Close()

	if !cmd.Flags().Changed("top") {
		topK = 0
	}
	var minScore *float64
	if cmd.Flags().Changed("threshold") {
		minScore = &threshold
	}
	matches, err := c.FindSimilar(cmd.Context(), text, topK, minScore)
	if err != nil {
		return err
	}
	return printMatches(cmd.OutOrStdout(), opts.json, matches)
}

func newValidateCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <question>",
		Short: "Ask the LLM whether question is a well-formed math question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if opts.remote != "" {
				c, err := opts.remoteClient(cmd.Context())
				if err != nil {
					return err
				}
				defer c.Close()
				v, err := c.Validate(cmd.Context(), question)
				if err != nil {
					return err
				}
				return printOutcome(cmd.OutOrStdout(), opts.json, true, v)
			}
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.Flows().Validate(cmd.Context(), question)
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), opts.json, out.OK(), out)
		},
	}
}

func newRefineCmd(opts *rootOptions) *cobra.Command {
	var feedback string
	cmd := &cobra.Command{
		Use:   "refine <question>",
		Short: "Ask the LLM to rewrite question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			question := strings.Join(args, " ")
			if opts.remote != "" {
				c, err := opts.remoteClient(cmd.Context())
				if err != nil {
					return err
				}
				defer c.Close()
				r, err := c.Refine(cmd.Context(), question, feedback)
				if err != nil {
					return err
				}
				return printOutcome(cmd.OutOrStdout(), opts.json, true, r)
			}
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			out, err := a.Flows().Refine(cmd.Context(), question, feedback)
			if err != nil {
				return err
			}
			return printOutcome(cmd.OutOrStdout(), opts.json, out.OK(), out)
		},
	}
	cmd.Flags().StringVarP(&feedback, "feedback", "f", "", "reviewer feedback to address")
	return cmd
}

func newMCPCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the MCP tools over stdio",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.newApp()
			if err != nil {
				return err
			}
			defer a.Close()
			// stdout carries the protocol; the index must be ready first.
			if err := a.Start(context.WithoutCancel(cmd.Context())); err != nil {
				return err
			}
			return a.MCPServer().ServeStdio()
		},
	}
}
