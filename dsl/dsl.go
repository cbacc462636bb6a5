// Package dsl parses the workflow YAML file format: a top-level
// {metadata, nodes, edges} document compiled into a graph.Graph. Node
// order in the YAML is preserved end to end so that topological
// tie-breaking stays deterministic.
package dsl

import (
	"fmt"
	"os"

	"github.com/agentsubstrate/orchestrator-go/graph"
	"gopkg.in/yaml.v3"
)

// Metadata is the document's {id, name, description} header.
type Metadata struct {
	ID          string `yaml:"id"`
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
}

// NodeSpec is one {id, type, name?, ...type-specific fields} entry.
// Fields not named id/type/name are collected into Fields, so a
// Registry's NodeFactory can read type-specific configuration without
// this package needing to know every node type's shape.
type NodeSpec struct {
	ID     string
	Type   string
	Name   string
	Fields map[string]interface{}
}

func (n *NodeSpec) UnmarshalYAML(value *yaml.Node) error {
	var raw map[string]interface{}
	if err := value.Decode(&raw); err != nil {
		return err
	}
	n.ID, _ = raw["id"].(string)
	n.Type, _ = raw["type"].(string)
	n.Name, _ = raw["name"].(string)
	delete(raw, "id")
	delete(raw, "type")
	delete(raw, "name")
	n.Fields = raw
	if n.ID == "" {
		return fmt.Errorf("dsl: node missing required field %q", "id")
	}
	if n.Type == "" {
		return fmt.Errorf("dsl: node %q missing required field %q", n.ID, "type")
	}
	return nil
}

// EdgeSpec is one {from, to, condition?, label?} entry. Condition
// carries the route key a conditional edge matches; the Condition-bearing
// edges from one "from" become one AddConditionalEdges call. Edges
// without Condition become plain AddEdge calls unless their "from" has a
// Condition-bearing edge, in which case Compile does not wire them.
type EdgeSpec struct {
	From      string `yaml:"from"`
	To        string `yaml:"to"`
	Condition string `yaml:"condition"`
	Label     string `yaml:"label"`
}

// Document is a fully parsed workflow file, before node-type resolution.
type Document struct {
	Metadata Metadata   `yaml:"metadata"`
	Nodes    []NodeSpec `yaml:"nodes"`
	Edges    []EdgeSpec `yaml:"edges"`
}

// Parse decodes a workflow document from data.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, graph.NewError(graph.CodeValidationFailed, "invalid workflow DSL YAML", err)
	}
	if doc.Metadata.ID == "" {
		return nil, graph.NewError(graph.CodeValidationFailed, "workflow DSL metadata.id is required", nil)
	}
	return &doc, nil
}

// ParseFile reads and parses a workflow document from path.
func ParseFile(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, graph.NewError(graph.CodeInvalidInput, "failed to read workflow DSL file "+path, err)
	}
	return Parse(data)
}
