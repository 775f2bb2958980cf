package cmd

import (
	"context"
	"flag"
	"fmt"
	"time"

	"grimm.is/harrier/internal/config"
	"grimm.is/harrier/internal/store"
)

// RunVersions lists the version history for a cluster, newest first.
func RunVersions(configFile string, args []string) error {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)
	clusterName := fs.String("cluster", "", "Cluster name")
	limit := fs.Int("limit", 20, "Maximum versions to show")
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

	versions, err := st.ListVersions(ctx, cluster.ID, *limit)
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		Printer.Printf("No versions for cluster %s\n", cluster.Name)
		return nil
	}

	Printer.Printf("%-6s %-40s %-10s %-7s %s\n", "ID", "NAME", "STATUS", "ACTIVE", "CREATED")
	for _, v := range versions {
		status := string(v.Status)
		active := ""
		if v.Active {
			active = "*"
		}
		Printer.Printf("%-6d %-40s %-10s %-7s %s\n",
			v.ID, v.Name, status, active, v.CreatedAt.Local().Format(time.RFC3339))
	}
	return nil
}
