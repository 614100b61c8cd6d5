// Package safeyaml parses YAML with resource limits so a malformed or
// hostile config file cannot exhaust memory during startup.
package safeyaml

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// Limits bounds the size and shape of a YAML document
type Limits struct {
	MaxBytes     int64 // total input size in bytes
	MaxDepth     int   // nesting depth
	MaxNodes     int   // total node count
	MaxKeyLength int   // mapping key length in bytes
	MaxValueSize int64 // scalar value size in bytes
}

// DefaultLimits returns limits sized for configuration files
func DefaultLimits() Limits {
	return Limits{
		MaxBytes:     1024 * 1024, // 1MB
		MaxDepth:     20,
		MaxNodes:     10000,
		MaxKeyLength: 1024,
		MaxValueSize: 64 * 1024, // 64KB
	}
}

// Unmarshal decodes data into v after validating it against DefaultLimits
func Unmarshal(data []byte, v any) error {
	return UnmarshalWithLimits(data, v, DefaultLimits())
}

// UnmarshalWithLimits decodes data into v after checking input size,
// nesting depth, node count, key length, and scalar size. An empty
// document is not an error and leaves v unchanged.
func UnmarshalWithLimits(data []byte, v any, limits Limits) error {
	if int64(len(data)) > limits.MaxBytes {
		return fmt.Errorf("yaml input %d bytes exceeds limit %d", len(data), limits.MaxBytes)
	}

	var root yaml.Node
	if err := yaml.NewDecoder(bytes.NewReader(data)).Decode(&root); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("yaml parse: %w", err)
	}

	w := &walker{limits: limits}
	if err := w.walk(&root, 0); err != nil {
		return err
	}

	return yaml.Unmarshal(data, v)
}

// UnmarshalReader decodes YAML from r into v, refusing inputs larger
// than limits.MaxBytes without buffering past the limit.
func UnmarshalReader(r io.Reader, v any, limits Limits) error {
	lr := io.LimitedReader{R: r, N: limits.MaxBytes + 1}
	data, err := io.ReadAll(&lr)
	if err != nil {
		return fmt.Errorf("read yaml: %w", err)
	}
	if int64(len(data)) > limits.MaxBytes {
		return fmt.Errorf("yaml input exceeds limit %d bytes", limits.MaxBytes)
	}
	return UnmarshalWithLimits(data, v, limits)
}

// walker enforces structural limits over a decoded node tree
type walker struct {
	limits Limits
	nodes  int
}

func (w *walker) walk(node *yaml.Node, depth int) error {
	if depth > w.limits.MaxDepth {
		return fmt.Errorf("yaml nesting depth %d exceeds limit %d", depth, w.limits.MaxDepth)
	}
	w.nodes++
	if w.nodes > w.limits.MaxNodes {
		return fmt.Errorf("yaml node count exceeds limit %d", w.limits.MaxNodes)
	}

	switch node.Kind {
	case yaml.DocumentNode:
		for _, child := range node.Content {
			if err := w.walk(child, depth); err != nil {
				return err
			}
		}

	case yaml.MappingNode:
		if len(node.Content)%2 != 0 {
			return fmt.Errorf("yaml mapping has an odd number of elements")
		}
		for i := 0; i < len(node.Content); i += 2 {
			key, value := node.Content[i], node.Content[i+1]
			if len(key.Value) > w.limits.MaxKeyLength {
				return fmt.Errorf("yaml key length %d exceeds limit %d", len(key.Value), w.limits.MaxKeyLength)
			}
			if err := w.walk(key, depth+1); err != nil {
				return err
			}
			if err := w.walk(value, depth+1); err != nil {
				return err
			}
		}

	case yaml.SequenceNode:
		for _, child := range node.Content {
			if err := w.walk(child, depth+1); err != nil {
				return err
			}
		}

	case yaml.ScalarNode:
		if int64(len(node.Value)) > w.limits.MaxValueSize {
			return fmt.Errorf("yaml value %d bytes exceeds limit %d", len(node.Value), w.limits.MaxValueSize)
		}

	case yaml.AliasNode:
		if node.Alias != nil {
			if err := w.walk(node.Alias, depth+1); err != nil {
				return err
			}
		}
	}

	return nil
}
