package manifest

import (
	"sort"
	"strconv"

	"github.com/cuemby/rollout/pkg/types"
	"github.com/juju/errors"
)

// Section and parameter names the generator derives from the reliability level
const (
	FailoverManagerSection      = "FailoverManager"
	TargetReplicaSetSizeSetting = "TargetReplicaSetSize"
	MinReplicaSetSizeSetting    = "MinReplicaSetSize"
)

// SettingsGenerator renders the settings sections of a manifest
type SettingsGenerator interface {
	GenerateSettings() ([]types.SettingsSection, error)
}

// SettingsActivator creates a settings generator for target configurations
type SettingsActivator interface {
	CreateSettingsGenerator(user *types.UserConfig, admin *types.AdminConfig) SettingsGenerator
}

// DefaultSettingsActivator creates MergedSettings generators
type DefaultSettingsActivator struct{}

// CreateSettingsGenerator implements SettingsActivator
func (DefaultSettingsActivator) CreateSettingsGenerator(user *types.UserConfig, admin *types.AdminConfig) SettingsGenerator {
	return &MergedSettings{User: user, Admin: admin}
}

// MergedSettings layers the admin settings over the user settings and fills in
// the system service replica set sizes of the reliability level
type MergedSettings struct {
	User  *types.UserConfig
	Admin *types.AdminConfig
}

// GenerateSettings implements SettingsGenerator. Sections and parameters are
// sorted by name.
func (g *MergedSettings) GenerateSettings() ([]types.SettingsSection, error) {
	merged := make(map[string]map[string]string)
	apply := func(sections []types.SettingsSection) error {
		for _, s := range sections {
			if s.Name == "" {
				return errors.NotValidf("settings section without a name")
			}
			if merged[s.Name] == nil {
				merged[s.Name] = make(map[string]string)
			}
			for _, p := range s.Parameters {
				if p.Name == "" {
					return errors.NotValidf("parameter without a name in section %q", s.Name)
				}
				merged[s.Name][p.Name] = p.Value
			}
		}
		return nil
	}

	if g.User != nil {
		size := g.User.ReliabilityLevel.GetReplicaSetSize()
		if size.TargetReplicaSetSize > 0 {
			merged[FailoverManagerSection] = map[string]string{
				TargetReplicaSetSizeSetting: strconv.Itoa(size.TargetReplicaSetSize),
				MinReplicaSetSizeSetting:    strconv.Itoa(size.MinReplicaSetSize),
			}
		}
		if err := apply(g.User.FabricSettings); err != nil {
			return nil, errors.Annotate(err, "user settings")
		}
	}
	if g.Admin != nil {
		if err := apply(g.Admin.FabricSettings); err != nil {
			return nil, errors.Annotate(err, "admin settings")
		}
	}

	names := make([]string, 0, len(merged))
	for name := range merged {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]types.SettingsSection, 0, len(names))
	for _, name := range names {
		section := types.SettingsSection{Name: name}
		for param, value := range merged[name] {
			section.Parameters = append(section.Parameters, types.SettingsParameter{Name: param, Value: value})
		}
		sort.Slice(section.Parameters, func(i, j int) bool {
			return section.Parameters[i].Name < section.Parameters[j].Name
		})
		out = append(out, section)
	}
	return out, nil
}

// ReplicaSetSizeFromSettings reads the system service replica set size back
// from generated settings
func ReplicaSetSizeFromSettings(sections []types.SettingsSection) (types.ReplicaSetSize, bool) {
	var size types.ReplicaSetSize
	found := false
	for _, s := range sections {
		if s.Name != FailoverManagerSection {
			continue
		}
		for _, p := range s.Parameters {
			v, err := strconv.Atoi(p.Value)
			if err != nil {
				continue
			}
			switch p.Name {
			case TargetReplicaSetSizeSetting:
				size.TargetReplicaSetSize = v
				found = true
			case MinReplicaSetSizeSetting:
				size.MinReplicaSetSize = v
			}
		}
	}
	return size, found
}
