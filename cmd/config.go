package cmd

import (
	"fmt"
	"os"

	"grimm.is/harrier/internal/config"
)

// RunConfig prints the effective daemon configuration as HCL, with
// defaults filled in. Useful for bootstrapping a config file.
func RunConfig(configFile string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	_, err = os.Stdout.Write(config.Render(cfg))
	return err
}
