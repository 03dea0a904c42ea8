package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"sriov-config/pkg/types"
)

const (
	DeviceTypePF = "pf"
	DeviceTypeVF = "vf"
)

type pfEntry struct {
	DeviceType     string `yaml:"device_type"`
	types.PFConfig `yaml:",inline"`
}

type vfEntry struct {
	DeviceType     string `yaml:"device_type"`
	types.VFConfig `yaml:",inline"`
}

// LoadConfig loads the SR-IOV desired state from a YAML file. The file is a
// list of entries discriminated by device_type; entries of any other type
// are ignored.
func LoadConfig(path string) (*types.SRIOVMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfig(data)
}

// ParseConfig decodes the SR-IOV desired state from YAML
func ParseConfig(data []byte) (*types.SRIOVMap, error) {
	var nodes []yaml.Node
	if err := yaml.Unmarshal(data, &nodes); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %v", err)
	}

	m := &types.SRIOVMap{}
	for i := range nodes {
		var head struct {
			DeviceType string `yaml:"device_type"`
		}
		if err := nodes[i].Decode(&head); err != nil {
			return nil, fmt.Errorf("entry %d: %v", i, err)
		}

		switch head.DeviceType {
		case DeviceTypePF:
			var e pfEntry
			if err := nodes[i].Decode(&e); err != nil {
				return nil, fmt.Errorf("entry %d: %v", i, err)
			}
			if e.Name == "" {
				return nil, fmt.Errorf("entry %d: pf name is required", i)
			}
			m.PFs = append(m.PFs, e.PFConfig)
		case DeviceTypeVF:
			var e vfEntry
			if err := nodes[i].Decode(&e); err != nil {
				return nil, fmt.Errorf("entry %d: %v", i, err)
			}
			if e.Device.Name == "" {
				return nil, fmt.Errorf("entry %d: vf parent device name is required", i)
			}
			m.VFs = append(m.VFs, e.VFConfig)
		}
	}

	return m, nil
}

// SaveConfig writes the SR-IOV desired state, PFs first
func SaveConfig(path string, m *types.SRIOVMap) error {
	entries := make([]interface{}, 0, len(m.PFs)+len(m.VFs))
	for _, pf := range m.PFs {
		entries = append(entries, pfEntry{DeviceType: DeviceTypePF, PFConfig: pf})
	}
	for _, vf := range m.VFs {
		entries = append(entries, vfEntry{DeviceType: DeviceTypeVF, VFConfig: vf})
	}

	data, err := yaml.Marshal(entries)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %v", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %v", err)
	}
	return nil
}
