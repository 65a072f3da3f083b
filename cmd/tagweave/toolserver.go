package main

import (
	"log"
	"os"

	"github.com/spf13/cobra"

	"github.com/tagweave/tagweave/internal/toolserver"
)

func toolserverCMD() *cobra.Command {
	return &cobra.Command{
		Use:   "toolserver",
		Short: "Serve the built-in capabilities over stdio",
		Long: `Runs the built-in capability server speaking line-delimited JSON-RPC on
stdin/stdout. Register it as a provider with address "stdio:tagweave toolserver".`,
		RunE: func(cmd *cobra.Command, args []string) error {
			// stdout carries the protocol stream, so logs go to stderr.
			logger := log.New(os.Stderr, "[TOOLSERVER] ", log.LstdFlags)
			srv, err := toolserver.New(logger)
			if err != nil {
				return err
			}
			return srv.Serve(os.Stdin, os.Stdout)
		},
	}
}
