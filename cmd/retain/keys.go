package main

import (
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/fsx"
	"github.com/davidahmann/retain/core/sign"
)

type keysInitOutput struct {
	OK             bool   `json:"ok"`
	KeyID          string `json:"key_id,omitempty"`
	PublicKeyPath  string `json:"public_key_path,omitempty"`
	PrivateKeyPath string `json:"private_key_path,omitempty"`
	errorFields
}

func runKeys(arguments []string) int {
	if hasExplainFlag(arguments) {
		return writeExplain("Manage the ed25519 key used to sign retention manifests.")
	}
	if len(arguments) == 0 || arguments[0] != "init" {
		printUsage()
		return exitInvalidInput
	}
	return runKeysInit(arguments[1:])
}

func runKeysInit(arguments []string) int {
	arguments = reorderInterspersedFlags(arguments, map[string]bool{
		"out-dir": true,
		"prefix":  true,
	})
	flagSet := flag.NewFlagSet("keys-init", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)

	var outDir string
	var prefix string
	var force bool
	var jsonOutput bool

	flagSet.StringVar(&outDir, "out-dir", "", "directory for generated key files")
	flagSet.StringVar(&prefix, "prefix", "retain", "key file prefix")
	flagSet.BoolVar(&force, "force", false, "overwrite existing key files")
	flagSet.BoolVar(&jsonOutput, "json", false, "emit JSON output")

	if err := flagSet.Parse(arguments); err != nil {
		return writeKeysInitOutput(jsonOutput, keysInitOutput{errorFields: fieldsForError(coreerrors.Configuration("%v", err))}, exitInvalidInput)
	}
	if strings.TrimSpace(outDir) == "" || flagSet.NArg() > 0 {
		return writeKeysInitOutput(jsonOutput, keysInitOutput{errorFields: fieldsForError(coreerrors.Configuration("keys init needs --out-dir and no positional arguments"))}, exitInvalidInput)
	}
	result, err := createSigningKeypair(outDir, prefix, force)
	if err != nil {
		return writeKeysInitOutput(jsonOutput, keysInitOutput{errorFields: fieldsForError(err)}, exitCodeForError(err, exitInternalFailure))
	}
	return writeKeysInitOutput(jsonOutput, result, exitOK)
}

func createSigningKeypair(outDir, prefix string, force bool) (keysInitOutput, error) {
	prefix = strings.TrimSpace(prefix)
	if prefix == "" || strings.ContainsAny(prefix, `/\`) {
		return keysInitOutput{}, coreerrors.Configuration("invalid key prefix %q", prefix)
	}
	privatePath := filepath.Join(outDir, prefix+".key")
	publicPath := filepath.Join(outDir, prefix+".pub")
	if !force {
		for _, path := range []string{privatePath, publicPath} {
			if _, err := os.Stat(path); err == nil {
				return keysInitOutput{}, coreerrors.Configuration("%s exists; pass --force to overwrite", path)
			}
		}
	}
	if err := os.MkdirAll(outDir, 0o750); err != nil {
		return keysInitOutput{}, coreerrors.Configuration("create key directory: %v", err)
	}
	keyPair, err := sign.GenerateKeyPair()
	if err != nil {
		return keysInitOutput{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "keygen_failed", "", false)
	}
	if err := fsx.WriteFileAtomic(privatePath, []byte(sign.EncodePrivateKey(keyPair.Private)+"\n"), 0o600); err != nil {
		return keysInitOutput{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "key_write_failed", "", false)
	}
	if err := fsx.WriteFileAtomic(publicPath, []byte(sign.EncodePublicKey(keyPair.Public)+"\n"), 0o644); err != nil {
		return keysInitOutput{}, coreerrors.Wrap(err, coreerrors.CategoryInternalFailure, "key_write_failed", "", false)
	}
	return keysInitOutput{
		OK:             true,
		KeyID:          sign.KeyID(keyPair.Public),
		PublicKeyPath:  publicPath,
		PrivateKeyPath: privatePath,
	}, nil
}

func writeKeysInitOutput(jsonOutput bool, result keysInitOutput, exitCode int) int {
	if jsonOutput {
		return writeJSONOutput(result, exitCode)
	}
	if !result.OK {
		_, _ = fmt.Fprintf(stderr, "retain keys init: %s\n", result.Error)
		return exitCode
	}
	_, _ = fmt.Fprintf(stdout, "key %s\n  private: %s\n  public:  %s\n", result.KeyID, result.PrivateKeyPath, result.PublicKeyPath)
	return exitCode
}
