// gen_survey.go is a standalone script that generates a synthetic respondent
// CSV and a matching targets YAML for demos and load tests.
//
// Usage:
//
//	go run scripts/gen_survey.go -n 5000 -out survey.csv -targets-out targets.yaml -seed 42 -skew 0.5
package main

import (
	"encoding/csv"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"

	"github.com/danielbchen/raker/internal/ingest"
)

// Population targets for the generated survey. The sample is drawn from a
// skewed version of these, so raking has real work to do.
var (
	variables = []string{"gender", "age_band", "region"}

	categories = map[string][]string{
		"gender":   {"male", "female"},
		"age_band": {"18_34", "35_54", "55_plus"},
		"region":   {"northeast", "midwest", "south", "west"},
	}

	targets = map[string]map[string]float64{
		"gender":   {"male": 0.49, "female": 0.51},
		"age_band": {"18_34": 0.30, "35_54": 0.34, "55_plus": 0.36},
		"region":   {"northeast": 0.17, "midwest": 0.21, "south": 0.38, "west": 0.24},
	}

	// Fully skewed sample shape: online panels over-recruit young men in
	// populous regions. The -skew flag interpolates between targets (0) and
	// this (1).
	skewed = map[string]map[string]float64{
		"gender":   {"male": 0.61, "female": 0.39},
		"age_band": {"18_34": 0.47, "35_54": 0.33, "55_plus": 0.20},
		"region":   {"northeast": 0.22, "midwest": 0.16, "south": 0.33, "west": 0.29},
	}
)

func main() {
	n := flag.Int("n", 5000, "number of respondents")
	out := flag.String("out", "survey.csv", "respondent CSV output path")
	targetsOut := flag.String("targets-out", "", "targets YAML output path (optional)")
	seed := flag.Int64("seed", 1, "random seed")
	skew := flag.Float64("skew", 0.5, "sample skew away from targets, 0 (none) to 1 (full)")
	flag.Parse()

	if *n <= 0 {
		log.Fatalf("-n must be positive, got %d", *n)
	}
	if *skew < 0 || *skew > 1 {
		log.Fatalf("-skew must be in [0, 1], got %f", *skew)
	}

	sample := make(map[string]map[string]float64, len(variables))
	for _, v := range variables {
		sample[v] = make(map[string]float64, len(categories[v]))
		for _, c := range categories[v] {
			sample[v][c] = (1-*skew)*targets[v][c] + *skew*skewed[v][c]
		}
	}

	rng := rand.New(rand.NewSource(*seed))

	f, err := os.Create(*out)
	if err != nil {
		log.Fatalf("create %s: %v", *out, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	header := append([]string{"id"}, variables...)
	if err := w.Write(header); err != nil {
		log.Fatalf("write header: %v", err)
	}
	for i := 0; i < *n; i++ {
		row := make([]string, 0, len(header))
		row = append(row, fmt.Sprintf("r%05d", i+1))
		for _, v := range variables {
			row = append(row, draw(rng, categories[v], sample[v]))
		}
		if err := w.Write(row); err != nil {
			log.Fatalf("write row %d: %v", i+1, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Fatalf("flush csv: %v", err)
	}
	log.Printf("wrote %d respondents to %s (skew %.2f)", *n, *out, *skew)

	if *targetsOut != "" {
		tf, err := os.Create(*targetsOut)
		if err != nil {
			log.Fatalf("create %s: %v", *targetsOut, err)
		}
		defer tf.Close()
		if err := ingest.WriteTargetsYAML(tf, targets); err != nil {
			log.Fatalf("write targets: %v", err)
		}
		log.Printf("wrote targets for %d variables to %s", len(targets), *targetsOut)
	}
}

func draw(rng *rand.Rand, cats []string, props map[string]float64) string {
	u := rng.Float64()
	acc := 0.0
	for _, c := range cats {
		acc += props[c]
		if u < acc {
			return c
		}
	}
	return cats[len(cats)-1]
}
