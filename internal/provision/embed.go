package provision

import (
	"embed"
	"io/fs"
	"path"

	"github.com/o2r-project/o2r-finder/internal/index"
)

//go:embed mappings/*.json
var mappings embed.FS

const settingsFile = "settings.json"

// Settings returns the index-level settings shared by every partition.
func Settings() []byte {
	data, err := fs.ReadFile(mappings, path.Join("mappings", settingsFile))
	if err != nil {
		panic("provision: embedded settings missing: " + err.Error())
	}
	return data
}

// MappingFor returns the document mapping for a type tag, or nil when the
// type has none.
func MappingFor(typ string) []byte {
	if typ == "" || typ+".json" == settingsFile {
		return nil
	}
	data, err := fs.ReadFile(mappings, path.Join("mappings", typ+".json"))
	if err != nil {
		return nil
	}
	return data
}

// Partitions lists the partitions the finder needs, compendia first.
func Partitions(cfg index.Config) []Partition {
	settings := Settings()
	out := make([]Partition, 0, 2)
	for _, p := range []index.Partition{cfg.Partitions.Compendia, cfg.Partitions.Jobs} {
		out = append(out, Partition{
			Name:     p.Name,
			Type:     p.Type,
			Settings: settings,
			Mapping:  MappingFor(p.Type),
		})
	}
	return out
}
