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

	"github.com/rs/zerolog"

	"github.com/davidahmann/retain/core/config"
	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/github"
	"github.com/davidahmann/retain/core/output"
	"github.com/davidahmann/retain/core/pipeline"
	"github.com/davidahmann/retain/core/runenv"
	"github.com/davidahmann/retain/core/sign"
	"github.com/davidahmann/retain/core/summary"
)

type runOutput struct {
	OK bool `json:"ok"`
	summary.RunSummary
	Hint string `json:"hint,omitempty"`
}

// inputFlag carries one configuration input. Only flags set on the command
// line reach config resolution.
type inputFlag struct {
	value   string
	boolean bool
}

func (f *inputFlag) String() string {
	if f == nil {
		return ""
	}
	return f.value
}

func (f *inputFlag) Set(value string) error {
	f.value = value
	return nil
}

func (f *inputFlag) IsBoolFlag() bool {
	return f.boolean
}

type commonFlags struct {
	jsonOutput bool
	configPath string
	envFile    string
	logFormat  string
	debug      bool
	helpFlag   bool
	inputs     map[string]string
}

func (c *commonFlags) register(flagSet *flag.FlagSet) {
	flagSet.BoolVar(&c.jsonOutput, "json", false, "emit JSON output")
	flagSet.StringVar(&c.configPath, "config", "", "project config file (default "+config.DefaultPath+" when present)")
	flagSet.StringVar(&c.envFile, "env-file", "", "dotenv file (default "+config.DefaultEnvFile+" when present)")
	flagSet.StringVar(&c.logFormat, "log-format", "console", "log format on stderr: console|json")
	flagSet.BoolVar(&c.debug, "debug", false, "enable debug logging")
	flagSet.BoolVar(&c.helpFlag, "help", false, "show help")
	for _, key := range config.Keys() {
		boolean := key == config.KeyPrerelease || key == config.KeyManifest
		flagSet.Var(&inputFlag{boolean: boolean}, flagName(key), "input "+key)
	}
}

// collect records the inputs set on the command line, keyed by input name.
func (c *commonFlags) collect(flagSet *flag.FlagSet) {
	c.inputs = map[string]string{}
	flagSet.Visit(func(f *flag.Flag) {
		key := strings.ReplaceAll(f.Name, "-", "_")
		if _, ok := f.Value.(*inputFlag); ok {
			c.inputs[key] = f.Value.String()
		}
	})
}

func (c *commonFlags) sources() config.Sources {
	return config.Sources{ConfigPath: c.configPath, EnvFile: c.envFile, Lookup: lookupEnv, Flags: c.inputs}
}

func flagName(key string) string {
	return strings.ReplaceAll(key, "_", "-")
}

func valueFlags() map[string]bool {
	flags := map[string]bool{
		"config":       true,
		"env-file":     true,
		"log-format":   true,
		"summary-json": true,
		"repository":   true,
	}
	for _, key := range config.Keys() {
		if key != config.KeyPrerelease && key != config.KeyManifest {
			flags[flagName(key)] = true
		}
	}
	return flags
}

func runRetain(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Retain the artifacts of the current pipeline run: assess immutable-release support, list artifacts, publish a tagged release and attach every artifact to it.")
	}
	arguments = reorderInterspersedFlags(arguments, valueFlags())
	flagSet := flag.NewFlagSet("run", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var common commonFlags
	var summaryPath string
	common.register(flagSet)
	flagSet.StringVar(&summaryPath, "summary-json", "", "also write the run summary JSON to this path")

	if err := flagSet.Parse(arguments); err != nil {
		return writeRunFailure(common.jsonOutput, coreerrors.Configuration("%v", err))
	}
	if common.helpFlag {
		printUsage()
		return exitOK
	}
	if flagSet.NArg() > 0 {
		return writeRunFailure(common.jsonOutput, coreerrors.Configuration("unexpected positional arguments: %s", strings.Join(flagSet.Args(), " ")))
	}
	common.collect(flagSet)

	logger, err := newLogger(common.logFormat, common.debug, stderr)
	if err != nil {
		return writeRunFailure(common.jsonOutput, coreerrors.Configuration("%v", err))
	}
	settings, err := config.Resolve(common.sources())
	if err == nil {
		err = settings.Validate()
	}
	if err != nil {
		return writeRunFailure(common.jsonOutput, coreerrors.WithStage(err, pipeline.StageContext, "configuration"))
	}
	runContext := runenv.FromEnv(lookupEnv)
	if err := runContext.Validate(); err != nil {
		return writeRunFailure(common.jsonOutput, coreerrors.WithStage(err, pipeline.StageContext, runContext.Repository))
	}
	var signingKey *sign.KeyPair
	if settings.SigningEnabled() {
		key, err := sign.LoadSigningKey(settings.KeyConfig(lookupEnv))
		if err != nil {
			return writeRunFailure(common.jsonOutput, coreerrors.Configuration("load signing key: %v", err))
		}
		signingKey = &key
	}
	client, err := newClient(settings, runContext.Repository)
	if err != nil {
		return writeRunFailure(common.jsonOutput, err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	spoolDir, _ := lookupEnv("RUNNER_TEMP")
	p := pipeline.New(client, pipeline.Options{
		Overrides:       settings.Overrides(),
		RetentionDays:   settings.RetentionDays,
		Concurrency:     settings.Concurrency,
		Retry:           settings.RetryPolicy(),
		SpoolDir:        strings.TrimSpace(spoolDir),
		Manifest:        settings.Manifest,
		SigningKey:      signingKey,
		ProducerVersion: version,
		Logger:          logger,
	})
	result, runErr := p.Run(ctx, runContext)
	writeRunnerFiles(logger, result, summaryPath)

	exitCode := exitCodeForRun(result, runErr)
	if common.jsonOutput {
		return writeJSONOutput(runOutput{OK: exitCode == exitOK, RunSummary: result, Hint: coreerrors.HintOf(runErr)}, exitCode)
	}
	writeRunText(result)
	return exitCode
}

func newClient(settings config.Settings, repository string) (*github.Client, error) {
	return github.NewClient(github.Options{
		APIURL:          settings.APIURL,
		Token:           settings.Token,
		Repository:      repository,
		UserAgent:       "retain/" + version,
		RequestTimeout:  settings.RequestTimeout,
		TransferTimeout: settings.TransferTimeout,
	})
}

// writeRunnerFiles publishes outputs to the files the runner provides. A
// failure here is logged; the run result stands.
func writeRunnerFiles(logger zerolog.Logger, result summary.RunSummary, summaryPath string) {
	if path, ok := lookupEnv(output.EnvOutput); ok && strings.TrimSpace(path) != "" {
		if err := output.WriteOutputs(strings.TrimSpace(path), result.Outputs()); err != nil {
			logger.Warn().Err(err).Msg("step outputs not written")
		}
	}
	if path, ok := lookupEnv(output.EnvStepSummary); ok && strings.TrimSpace(path) != "" {
		if err := output.WriteStepSummary(strings.TrimSpace(path), result); err != nil {
			logger.Warn().Err(err).Msg("job summary not written")
		}
	}
	if strings.TrimSpace(summaryPath) != "" {
		if err := output.WriteJSON(summaryPath, result); err != nil {
			logger.Warn().Err(err).Msg("summary json not written")
		}
	}
}

func writeRunFailure(jsonOutput bool, err error) int {
	result := summary.Summarize(summary.Input{Err: err})
	exitCode := exitCodeForError(err, exitInternalFailure)
	if jsonOutput {
		return writeJSONOutput(runOutput{OK: false, RunSummary: result, Hint: coreerrors.HintOf(err)}, exitCode)
	}
	_, _ = fmt.Fprintf(stderr, "retain: %v\n", err)
	if hint := coreerrors.HintOf(err); hint != "" {
		_, _ = fmt.Fprintf(stderr, "hint: %s\n", hint)
	}
	return exitCode
}

func writeRunText(result summary.RunSummary) {
	_, _ = fmt.Fprintf(stdout, "status: %s\n", result.Status)
	if result.Release != nil {
		_, _ = fmt.Fprintf(stdout, "release: %s (%s)\n", result.Release.Tag, result.Release.URL)
	}
	_, _ = fmt.Fprintf(stdout, "capability: %s\n", result.CapabilityLevel)
	_, _ = fmt.Fprintf(stdout, "artifacts: %d listed, %d attached, %d failed, %d skipped\n", result.ArtifactsCount, result.Attached, result.Failed, result.Skipped)
	for _, outcome := range result.Outcomes {
		if outcome.Status == "attached" {
			continue
		}
		_, _ = fmt.Fprintf(stdout, "  %s: %s (%s)\n", outcome.ArtifactName, outcome.Status, outcome.ErrorKind)
	}
	if result.ManifestDigest != "" {
		_, _ = fmt.Fprintf(stdout, "manifest: sha256:%s\n", result.ManifestDigest)
	}
	if result.Error != "" {
		_, _ = fmt.Fprintf(stderr, "retain: %s\n", result.Error)
	}
}
