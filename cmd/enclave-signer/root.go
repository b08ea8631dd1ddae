package main

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const envPrefix = "ENCLAVE_SIGNER"

func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "enclave-signer",
		Short: "Two-party threshold signing enclave daemon",
	}

	defaultHome := ".enclave-signer"
	if home, err := os.UserHomeDir(); err == nil {
		defaultHome = filepath.Join(home, ".enclave-signer")
	}
	rootCmd.PersistentFlags().String("home", defaultHome, "directory for config and keystore data")

	InitRootCmd(rootCmd) // add subcommands like `start` and `version`

	return rootCmd
}
