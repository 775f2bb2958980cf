package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"

	"github.com/pmezard/go-difflib/difflib"

	"grimm.is/harrier/internal/config"
	"grimm.is/harrier/internal/generate"
	"grimm.is/harrier/internal/store"
)

// RunDiff compares two configuration versions of a cluster, or, when no
// version IDs are given, the active version against a fresh generation
// from current entity state.
func RunDiff(configFile string, args []string) error {
	fs := flag.NewFlagSet("diff", flag.ExitOnError)
	clusterName := fs.String("cluster", "", "Cluster name")
	from := fs.Int64("from", 0, "Older version ID")
	to := fs.Int64("to", 0, "Newer version ID")
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

	var a, b, fromName, toName string
	if *from != 0 && *to != 0 {
		va, err := st.GetVersion(ctx, *from)
		if err != nil {
			return fmt.Errorf("version %d: %w", *from, err)
		}
		vb, err := st.GetVersion(ctx, *to)
		if err != nil {
			return fmt.Errorf("version %d: %w", *to, err)
		}
		if va.ClusterID != cluster.ID || vb.ClusterID != cluster.ID {
			return fmt.Errorf("versions do not belong to cluster %q", cluster.Name)
		}
		a, b = va.Content, vb.Content
		fromName, toName = va.Name, vb.Name
	} else {
		active, err := st.ActiveVersion(ctx, cluster.ID)
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("cluster %q has no active version", cluster.Name)
		}
		if err != nil {
			return err
		}
		current, err := generate.New(st, cfg.LegacyTLSPort).Generate(ctx, cluster.ID)
		if err != nil {
			return err
		}
		a, b = active.Content, current
		fromName, toName = active.Name, "current state"
	}

	if a == b {
		Printer.Println("No changes detected.")
		return nil
	}

	diff := difflib.UnifiedDiff{
		A:        difflib.SplitLines(a),
		B:        difflib.SplitLines(b),
		FromFile: fromName,
		ToFile:   toName,
		Context:  3,
	}
	text, _ := difflib.GetUnifiedDiffString(diff)
	fmt.Print(text)
	return nil
}
