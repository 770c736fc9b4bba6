// Package config holds the viper codecs for config file formats viper does
// not decode on its own.
package config

import (
	"bytes"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/cast"
	"github.com/spf13/viper"
	"gopkg.in/ini.v1"
)

// INICodec decodes INI files as written for Python's configparser. Every
// section becomes a nested map, keys of the default section stay at the top
// level. Values are kept as strings.
type INICodec struct{}

// Decode implements viper.Decoder
func (INICodec) Decode(b []byte, v map[string]any) error {
	cfg, err := ini.Load(b)
	if err != nil {
		return err
	}

	for _, section := range cfg.Sections() {
		target := v
		if section.Name() != ini.DefaultSection {
			name := strings.ToLower(section.Name())
			sub, ok := v[name].(map[string]any)
			if !ok {
				sub = map[string]any{}
				v[name] = sub
			}
			target = sub
		}

		for _, key := range section.Keys() {
			target[strings.ToLower(key.Name())] = key.Value()
		}
	}
	return nil
}

// Encode implements viper.Encoder. Nested maps are written as sections,
// anything deeper than one level is rejected.
func (INICodec) Encode(v map[string]any) ([]byte, error) {
	cfg := ini.Empty()

	for _, name := range slices.Sorted(maps.Keys(v)) {
		if sub, ok := v[name].(map[string]any); ok {
			section := cfg.Section(name)
			for _, key := range slices.Sorted(maps.Keys(sub)) {
				if err := setKey(section, key, sub[key]); err != nil {
					return nil, err
				}
			}
			continue
		}
		if err := setKey(cfg.Section(""), name, v[name]); err != nil {
			return nil, err
		}
	}

	var buf bytes.Buffer
	if _, err := cfg.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func setKey(section *ini.Section, key string, value any) error {
	s, err := cast.ToStringE(value)
	if err != nil {
		return fmt.Errorf("ini key %s.%s: %w", section.Name(), key, err)
	}
	_, err = section.NewKey(key, s)
	return err
}

// NewCodecRegistry returns viper's built-in codecs plus INI
func NewCodecRegistry() (*viper.DefaultCodecRegistry, error) {
	r := viper.NewCodecRegistry()
	if err := r.RegisterCodec("ini", INICodec{}); err != nil {
		return nil, err
	}
	return r, nil
}

// New creates a viper instance that also reads INI config files
func New() (*viper.Viper, error) {
	r, err := NewCodecRegistry()
	if err != nil {
		return nil, err
	}
	return viper.NewWithOptions(viper.WithCodecRegistry(r)), nil
}
