// Package brand centralizes product naming so forks can rebrand in one place.
package brand

const (
	Name        = "Harrier"
	LowerName   = "harrier"
	Description = "Load balancer fleet control plane"

	DefaultConfigDir = "/etc/harrier"
	DefaultStateDir  = "/var/lib/harrier"
	ConfigFileName   = "harrier.hcl"

	BinaryName  = "harrier"
	ServiceName = "harrierd"
)
