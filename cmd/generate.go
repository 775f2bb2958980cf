package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"grimm.is/harrier/internal/config"
	"grimm.is/harrier/internal/generate"
	"grimm.is/harrier/internal/store"
)

// RunGenerate prints the configuration text for one cluster, straight
// from current entity state. No version is created.
func RunGenerate(configFile string, args []string) error {
	fs := flag.NewFlagSet("generate", flag.ExitOnError)
	clusterName := fs.String("cluster", "", "Cluster name")
	fs.Parse(args)

	if *clusterName == "" {
		fs.Usage()
		return fmt.Errorf("--cluster is required")
	}

	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	st, err := store.Open(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()
	cluster, err := st.GetClusterByName(ctx, *clusterName)
	if err != nil {
		return fmt.Errorf("cluster %q: %w", *clusterName, err)
	}

	text, err := generate.New(st, cfg.LegacyTLSPort).Generate(ctx, cluster.ID)
	if err != nil {
		return err
	}
	fmt.Fprint(os.Stdout, text)
	return nil
}
