package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/davidahmann/retain/core/capability"
	"github.com/davidahmann/retain/core/config"
	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/pipeline"
	"github.com/davidahmann/retain/core/runenv"
)

type assessOutput struct {
	OK                       bool             `json:"ok"`
	Repository               string           `json:"repository,omitempty"`
	Level                    capability.Level `json:"capability_level,omitempty"`
	ImmutableReleasesEnabled bool             `json:"immutable_releases_enabled"`
	Reasons                  []string         `json:"reasons,omitempty"`
	OwnerKind                string           `json:"owner_kind,omitempty"`
	Visibility               string           `json:"visibility,omitempty"`
	Features                 []string         `json:"features,omitempty"`
	errorFields
}

func runAssess(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Assess whether the repository can protect releases with immutability, using repository metadata only.")
	}
	arguments = reorderInterspersedFlags(arguments, valueFlags())
	flagSet := flag.NewFlagSet("assess", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	var repository string
	common.register(flagSet)
	flagSet.StringVar(&repository, "repository", "", "owner/name (default GITHUB_REPOSITORY)")

	if err := flagSet.Parse(arguments); err != nil {
		return writeAssessOutput(common.jsonOutput, assessOutput{errorFields: fieldsForError(coreerrors.Configuration("%v", err))}, exitInvalidInput)
	}
	if common.helpFlag {
		printUsage()
		return exitOK
	}
	common.collect(flagSet)
	logger, err := newLogger(common.logFormat, common.debug, stderr)
	if err != nil {
		return writeAssessOutput(common.jsonOutput, assessOutput{errorFields: fieldsForError(coreerrors.Configuration("%v", err))}, exitInvalidInput)
	}
	settings, err := config.Resolve(common.sources())
	if err == nil {
		err = settings.Validate()
	}
	if strings.TrimSpace(repository) == "" {
		repository = runenv.FromEnv(lookupEnv).Repository
	}
	var client pipeline.Client
	if err == nil {
		client, err = newClient(settings, repository)
	}
	if err != nil {
		return writeAssessOutput(common.jsonOutput, assessOutput{Repository: repository, errorFields: fieldsForError(err)}, exitCodeForError(err, exitInvalidInput))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	assessment, repoContext, err := pipeline.New(client, pipeline.Options{Retry: settings.RetryPolicy(), Logger: logger}).Assess(ctx)
	if err != nil {
		return writeAssessOutput(common.jsonOutput, assessOutput{Repository: repository, errorFields: fieldsForError(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeAssessOutput(common.jsonOutput, assessOutput{
		OK:                       true,
		Repository:               repository,
		Level:                    assessment.Level,
		ImmutableReleasesEnabled: assessment.Level.ImmutableReleasesEnabled(),
		Reasons:                  assessment.Reasons,
		OwnerKind:                string(repoContext.OwnerKind),
		Visibility:               string(repoContext.Visibility),
		Features:                 repoContext.Features(),
	}, exitOK)
}

func writeAssessOutput(jsonOutput bool, result assessOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(result, exitCode)
	}
	if !result.OK {
		_, _ = fmt.Fprintf(stderr, "retain assess: %s\n", result.Error)
		return exitCode
	}
	_, _ = fmt.Fprintf(stdout, "%s: %s\n", result.Repository, result.Level)
	for _, reason := range result.Reasons {
		_, _ = fmt.Fprintf(stdout, "  - %s\n", reason)
	}
	return exitCode
}
