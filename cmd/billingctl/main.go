// Package main is the entry point for billingctl.
package main

import (
	"os"

	"github.com/xraph/billing/cmd/billingctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
