package kafka

import "fmt"

// Factory builds a Source driver.
type Factory func() Source

var registry = map[string]Factory{}

// Register is called from each driver's init().
func Register(name string, f Factory) {
	registry[name] = f
}

// NewSource returns a driver by name ("sarama", "kgo").
func NewSource(name string) (Source, error) {
	if f, ok := registry[name]; ok {
		return f(), nil
	}
	return nil, fmt.Errorf("kafka: unsupported driver %q", name)
}
