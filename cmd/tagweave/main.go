package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	var root = &cobra.Command{Use: "tagweave", SilenceUsage: true}

	root.AddCommand(serveCMD(), migrateCMD(), toolserverCMD(), describeCMD())
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func getenv(key, def string) string {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	return v
}
