package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	json "github.com/goccy/go-json"

	"github.com/commons-dev-open/reactive/internal/replay"
)

func main() {
	scenarioPath := flag.String("scenario", "", "Path to the scenario script (JS)")
	mode := flag.String("mode", "debounce", "Policy to exercise: debounce or throttle")
	window := flag.Duration("window", 0, "Initial control window (0 uses the built-in default)")
	out := flag.String("out", "", "Write the report to this file instead of stdout")
	flag.Parse()

	if *scenarioPath == "" {
		log.Fatal("scenario path is required")
	}

	scn, err := replay.LoadScenario(*scenarioPath)
	if err != nil {
		log.Fatalf("load scenario: %v", err)
	}

	report, err := replay.Run(scn, replay.Config{
		Mode:   replay.Mode(*mode),
		Window: *window,
	})
	if err != nil {
		log.Fatalf("run scenario: %v", err)
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatalf("encode report: %v", err)
	}
	data = append(data, '\n')

	if *out == "" {
		if _, err := os.Stdout.Write(data); err != nil {
			log.Fatalf("write report: %v", err)
		}
		return
	}
	if err := os.WriteFile(*out, data, 0o600); err != nil {
		log.Fatalf("write report %s: %v", *out, err)
	}
	fmt.Printf("Report written to %s\n", *out)
}
