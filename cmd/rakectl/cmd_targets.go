package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/danielbchen/raker/internal/census"
	"github.com/danielbchen/raker/internal/ingest"
	"github.com/danielbchen/raker/internal/rake"
)

func runTargetsFetch(cmd *cobra.Command, _ []string) {
	if fetchURL == "" {
		fail("--url is required (or set RAKER_CENSUS_URL)")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client := census.NewHTTPClient(fetchURL, fetchToken)
	marginals, err := client.GetMarginals(ctx, fetchVars)
	if err != nil {
		fail("fetch marginals: %v", err)
	}

	// reject unusable responses before they end up in a file
	if _, err := rake.NewTargets(marginals); err != nil {
		fail("fetched targets are unusable: %v", err)
	}

	var out io.Writer = os.Stdout
	if fetchOutPath != "" && fetchOutPath != "-" {
		f, err := os.Create(fetchOutPath)
		if err != nil {
			fail("create %s: %v", fetchOutPath, err)
		}
		defer f.Close()
		out = f
	}
	if err := ingest.WriteTargetsYAML(out, marginals); err != nil {
		fail("write targets: %v", err)
	}
	if fetchOutPath != "" && fetchOutPath != "-" {
		fmt.Printf("wrote %d variables to %s\n", len(marginals), fetchOutPath)
	}
}
