package main

import (
	"crypto/ed25519"
	"flag"
	"fmt"
	"io"
	"os"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/manifest"
	"github.com/davidahmann/retain/core/sign"
)

type verifyOutput struct {
	OK   bool   `json:"ok"`
	Path string `json:"path,omitempty"`
	*manifest.Verification
	errorFields
}

func runVerifyManifest(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Verify a downloaded retention manifest offline: schema, recorded digest, and optionally its signature.")
	}
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"public-key":     true,
		"public-key-env": true,
	})
	flagSet := flag.NewFlagSet("verify-manifest", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var jsonOutput bool
	var publicKeyPath string
	var publicKeyEnv string
	var helpFlag bool

	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")
	flagSet.StringVar(&publicKeyPath, "public-key", "", "path to base64 public key; requires a valid signature")
	flagSet.StringVar(&publicKeyEnv, "public-key-env", "", "env var containing base64 public key; requires a valid signature")
	flagSet.BoolVar(&helpFlag, "help", false, "show help")

	if err := flagSet.Parse(arguments); err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: fieldsForError(coreerrors.Configuration("%v", err))}, exitInvalidInput)
	}
	if helpFlag {
		printUsage()
		return exitOK
	}
	if flagSet.NArg() != 1 {
		return writeVerifyOutput(jsonOutput, verifyOutput{errorFields: fieldsForError(coreerrors.Configuration("expected one manifest path"))}, exitInvalidInput)
	}
	path := flagSet.Arg(0)

	var publicKey ed25519.PublicKey
	keyConfig := sign.KeyConfig{PublicKeyPath: publicKeyPath, PublicKeyEnv: publicKeyEnv, Lookup: lookupEnv}
	if keyConfig.HasPublicKey() {
		key, err := sign.LoadVerifyKey(keyConfig)
		if err != nil {
			return writeVerifyOutput(jsonOutput, verifyOutput{Path: path, errorFields: fieldsForError(coreerrors.Configuration("load public key: %v", err))}, exitInvalidInput)
		}
		publicKey = key
	}

	// #nosec G304 -- manifest path is explicit local user input.
	raw, err := os.ReadFile(path)
	if err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{Path: path, errorFields: fieldsForError(coreerrors.Configuration("read manifest: %v", err))}, exitInvalidInput)
	}
	verification, err := manifest.Verify(raw, publicKey)
	if err != nil {
		return writeVerifyOutput(jsonOutput, verifyOutput{Path: path, errorFields: fieldsForError(err)}, exitCodeForError(err, exitDiscovery))
	}
	return writeVerifyOutput(jsonOutput, verifyOutput{OK: true, Path: path, Verification: &verification}, exitOK)
}

func writeVerifyOutput(jsonOutput bool, result verifyOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(result, exitCode)
	}
	if !result.OK {
		_, _ = fmt.Fprintf(stderr, "retain verify-manifest: %s\n", result.Error)
		return exitCode
	}
	signature := "unsigned"
	if result.Verified {
		signature = "signature verified"
	} else if result.Signed {
		signature = "signed, not checked"
	}
	_, _ = fmt.Fprintf(stdout, "manifest ok: %s (%d artifacts, %d attached, release %s, %s)\n",
		result.Digest, result.Artifacts, result.Attached, result.ReleaseTag, signature)
	return exitCode
}
