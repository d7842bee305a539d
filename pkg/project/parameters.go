package project

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"gopkg.in/yaml.v3"

	"github.com/WiredGeist/CEM/pkg/graph"
)

// Parameters is an ordered key/value map. It encodes as a JSON object or
// YAML mapping whose keys keep the tree's parameter order, and decodes
// keeping the file's order.
type Parameters []graph.Value

// MarshalJSON implements json.Marshaler.
func (p Parameters) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, v := range p {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(v.Key)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.WriteString(strconv.FormatFloat(float64(v.Value), 'g', -1, 32))
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (p *Parameters) UnmarshalJSON(b []byte) error {
	dec := json.NewDecoder(bytes.NewReader(b))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*p = nil
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("parameters: expected object, got %v", tok)
	}
	var out Parameters
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("parameters: expected key, got %v", tok)
		}
		var v float32
		if err := dec.Decode(&v); err != nil {
			return fmt.Errorf("parameters: %q: %w", key, err)
		}
		out = append(out, graph.Value{Key: key, Value: v})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}

// MarshalYAML implements yaml.Marshaler.
func (p Parameters) MarshalYAML() (any, error) {
	n := &yaml.Node{Kind: yaml.MappingNode}
	for _, v := range p {
		n.Content = append(n.Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: v.Key},
			&yaml.Node{Kind: yaml.ScalarNode, Value: strconv.FormatFloat(float64(v.Value), 'g', -1, 32)},
		)
	}
	return n, nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (p *Parameters) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.MappingNode {
		return fmt.Errorf("parameters: line %d: expected mapping", n.Line)
	}
	out := make(Parameters, 0, len(n.Content)/2)
	for i := 0; i+1 < len(n.Content); i += 2 {
		var v float32
		if err := n.Content[i+1].Decode(&v); err != nil {
			return fmt.Errorf("parameters: %q: %w", n.Content[i].Value, err)
		}
		out = append(out, graph.Value{Key: n.Content[i].Value, Value: v})
	}
	*p = out
	return nil
}
