package transfer

import (
	"strings"

	coreerrors "github.com/davidahmann/retain/core/errors"
	"github.com/davidahmann/retain/core/inventory"
)

// ArchiveSuffix is appended to every asset: the store yields each artifact
// as one zip archive.
const ArchiveSuffix = ".zip"

// AssetName maps an artifact name to its release asset name. Characters the
// destination would rewrite are replaced with '.'.
func AssetName(artifactName string) string {
	var b strings.Builder
	for _, r := range artifactName {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '-' || r == '_' || r == '.' || r == '+':
			b.WriteRune(r)
		default:
			b.WriteByte('.')
		}
	}
	name := strings.TrimLeft(b.String(), ".")
	if name == "" {
		name = "artifact"
	}
	return name + ArchiveSuffix
}

// PlanAssets returns the asset name for each inventory entry, in inventory
// order. Two artifacts mapping to one name, or to a reserved name, is a
// discovery error; names are compared case-insensitively.
func PlanAssets(inv inventory.Inventory, reserved ...string) ([]string, error) {
	taken := make(map[string]string, len(inv.Artifacts)+len(reserved))
	for _, name := range reserved {
		taken[strings.ToLower(name)] = "(reserved)"
	}
	names := make([]string, len(inv.Artifacts))
	for index, artifact := range inv.Artifacts {
		name := AssetName(artifact.Name)
		key := strings.ToLower(name)
		if owner, ok := taken[key]; ok {
			return nil, coreerrors.Discovery("asset_name_collision",
				"artifacts %q and %q both map to release asset %q", owner, artifact.Name, name)
		}
		taken[key] = artifact.Name
		names[index] = name
	}
	return names, nil
}
