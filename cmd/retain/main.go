package main

import (
	"fmt"
	"io"
	"os"
)

// version is stamped at release time via ldflags; default stays dev for local builds.
var version = "0.0.0-dev"

var (
	stdout    io.Writer = os.Stdout
	stderr    io.Writer = os.Stderr
	lookupEnv           = os.LookupEnv
)

func main() {
	os.Exit(run(os.Args))
}

func run(arguments []string) int {
	if len(arguments) < 2 {
		printUsage()
		return exitInvalidInput
	}
	if arguments[1] == "--explain" {
		return writeExplain("retain publishes the artifacts of a CI pipeline run as assets of a new, immutably tagged release, with a provenance body and an optional signed retention manifest.")
	}

	switch arguments[1] {
	case "run":
		return runRetain(arguments[2:])
	case "assess":
		return runAssess(arguments[2:])
	case "verify-manifest":
		return runVerifyManifest(arguments[2:])
	case "keys":
		return runKeys(arguments[2:])
	case "version", "--version", "-v":
		if hasExplainFlag(arguments[2:]) {
			return writeExplain("Print the CLI version.")
		}
		_, _ = fmt.Fprintln(stdout, "retain", version)
		return exitOK
	case "help", "--help", "-h":
		printUsage()
		return exitOK
	default:
		printUsage()
		return exitInvalidInput
	}
}

func printUsage() {
	_, _ = fmt.Fprintln(stdout, `Usage:
  retain run [--json] [--config path] [--env-file path] [--summary-json path] [--log-format console|json] [--debug] [input flags]
  retain assess [--json] [--config path] [--env-file path]
  retain verify-manifest <path> [--public-key path | --public-key-env VAR] [--json]
  retain keys init --out-dir <dir> [--prefix name] [--json]
  retain version
  retain --explain

Input flags (also read from INPUT_<NAME> and RETAIN_<NAME>):
  --github-token --release-tag --release-name --release-body --prerelease
  --artifact-retention-days --concurrency --max-attempts --request-timeout
  --transfer-timeout --api-url --manifest --signing-key-path --signing-key-env`)
}
