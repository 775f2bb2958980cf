package main

import (
	"flag"
	"os"

	"grimm.is/harrier/cmd"
	"grimm.is/harrier/internal/brand"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	defaultConfig := brand.DefaultConfigDir + "/" + brand.ConfigFileName

	switch os.Args[1] {
	case "serve":
		fs := flag.NewFlagSet("serve", flag.ExitOnError)
		configFile := fs.String("config", defaultConfig, "Configuration file")
		fs.StringVar(configFile, "c", defaultConfig, "Configuration file (short)")
		fs.Parse(os.Args[2:])
		fail(cmd.RunServe(*configFile))

	case "generate":
		configFile, rest := configFlag(os.Args[2:], defaultConfig)
		fail(cmd.RunGenerate(configFile, rest))

	case "parse":
		fail(cmd.RunParse(os.Args[2:]))

	case "versions":
		configFile, rest := configFlag(os.Args[2:], defaultConfig)
		fail(cmd.RunVersions(configFile, rest))

	case "diff":
		configFile, rest := configFlag(os.Args[2:], defaultConfig)
		fail(cmd.RunDiff(configFile, rest))

	case "config":
		configFile, _ := configFlag(os.Args[2:], defaultConfig)
		fail(cmd.RunConfig(configFile))

	case "help", "-h", "--help":
		printUsage()

	default:
		cmd.Printer.Fprintf(os.Stderr, "Unknown command: %s\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

// configFlag peels a leading --config/-c flag off args so subcommands
// can define their own flag sets for the rest.
func configFlag(args []string, def string) (string, []string) {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == "--config" || args[i] == "-config" || args[i] == "-c" {
			return args[i+1], append(append([]string{}, args[:i]...), args[i+2:]...)
		}
	}
	return def, args
}

func fail(err error) {
	if err != nil {
		cmd.Printer.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	p := cmd.Printer
	p.Printf("%s - load balancer fleet control plane\n\n", brand.Name)
	p.Println("Usage:")
	p.Println("  harrier serve [--config FILE]          Run the control plane daemon")
	p.Println("  harrier generate --cluster NAME        Print generated configuration")
	p.Println("  harrier parse --input FILE             Parse a proxy config for import")
	p.Println("  harrier versions --cluster NAME        List version history")
	p.Println("  harrier diff --cluster NAME [--from ID --to ID]")
	p.Println("                                         Diff versions or drift from active")
	p.Println("  harrier config [--config FILE]         Print effective configuration")
	p.Println("  harrier help                           Show this help")
}
