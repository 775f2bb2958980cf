package cmd

import (
	"flag"
	"fmt"
	"os"

	"grimm.is/harrier/internal/parse"
)

// RunParse parses a proxy configuration file and reports what an
// import would pick up, without touching the store.
func RunParse(args []string) error {
	fs := flag.NewFlagSet("parse", flag.ExitOnError)
	inputFile := fs.String("input", "", "Path to configuration file")
	fs.Parse(args)

	if *inputFile == "" {
		fs.Usage()
		return fmt.Errorf("--input is required")
	}

	data, err := os.ReadFile(*inputFile)
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	res := parse.Parse(string(data))

	Printer.Printf("Parsed %s: %d listeners, %d pools\n", *inputFile, len(res.Listeners), len(res.Pools))
	for _, l := range res.Listeners {
		Printer.Printf("  listener %s (%s:%d, %s)\n", l.Name, l.BindAddress, l.BindPort, l.Mode)
	}
	for _, p := range res.Pools {
		Printer.Printf("  pool %s (%d members)\n", p.Name, len(p.Members))
	}

	if len(res.Warnings) > 0 {
		Printer.Println("\nWarnings:")
		for _, w := range res.Warnings {
			Printer.Printf("  - %s\n", w)
		}
	}
	if len(res.Errors) > 0 {
		Printer.Println("\nErrors:")
		for _, e := range res.Errors {
			Printer.Printf("  - %s\n", e)
		}
		return fmt.Errorf("%d parse errors", len(res.Errors))
	}
	return nil
}
