package config

import (
	"io"

	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

// Redacted returns a copy of c with secrets masked.
func (c Config) Redacted() Config {
	if c.Broker.SASLPass != "" {
		c.Broker.SASLPass = redacted
	}
	return c
}

// DumpYAML writes the effective configuration with secrets masked.
func DumpYAML(w io.Writer, c Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(c.Redacted()); err != nil {
		return err
	}
	return enc.Close()
}
