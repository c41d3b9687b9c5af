// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	stderrors "errors"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jllopis/mathqa/internal/app"
	"github.com/jllopis/mathqa/pkg/errors"
	"github.com/jllopis/mathqa/pkg/mcp"
)

type rootOptions struct {
	configPath string
	profile    string
	sets       []string
	envFile    string
	json       bool
	remote     string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "mathqa",
		Short:         "mathqa finds similar math questions and validates new ones",
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       app.Version,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.loadEnv()
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", envOr("MATHQA_CONFIG", ""), "config file (YAML)")
	flags.StringVarP(&opts.profile, "profile", "p", "", "config profile overlay, e.g. dev loads config.dev.yaml")
	flags.StringArrayVar(&opts.sets, "set", nil, "override a config key, e.g. --set similarity.top_k=10")
	flags.StringVar(&opts.envFile, "env-file", "", "load environment variables from this file instead of .env")
	flags.BoolVar(&opts.json, "json", false, "print machine-readable JSON")
	flags.StringVar(&opts.remote, "remote", envOr("MATHQA_REMOTE", ""),
		"run query, validate and refine against the MCP endpoint of a running server, e.g. http://localhost:8000/mcp")

	root.AddCommand(
		newServeCmd(opts),
		newBuildCmd(opts),
		newQueryCmd(opts),
		newValidateCmd(opts),
		newRefineCmd(opts),
		newMCPCmd(opts),
	)
	return root
}

// loadEnv reads the env file, then lets MATHQA_PROFILE pick the profile
// when --profile was not given. A missing default .env is not an error.
func (o *rootOptions) loadEnv() error {
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			return newConfigError(err, o.envFile)
		}
	} else if err := godotenv.Load(); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return newConfigError(err, ".env")
	}
	if o.profile == "" {
		o.profile = os.Getenv("MATHQA_PROFILE")
	}
	return nil
}

func (o *rootOptions) newApp() (*app.App, error) {
	a, err := app.New(app.Options{
		ConfigPath: o.configPath,
		Profile:    o.profile,
		Sets:       o.sets,
	})
	if err != nil {
		return nil, newConfigError(err, o.configPath)
	}
	return a, nil
}

func (o *rootOptions) remoteClient(ctx context.Context) (*mcp.Client, error) {
	c, err := mcp.NewHTTPClient(ctx, o.remote)
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "failed to connect to remote server", err).
			WithContext("url", o.remote)
	}
	return c, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func jsonOutput(cmd *cobra.Command) bool {
	v, err := cmd.PersistentFlags().GetBool("json")
	return err == nil && v
}
