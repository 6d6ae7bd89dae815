// Package config loads and watches the bus document: the declarative model
// of interfaces, pipelines, and authorization that the engine compiles at
// startup. The engine itself never parses configuration syntax; it consumes
// the validated in-memory model this package produces.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	"github.com/shazaibn/nanobus/pkg/authorize"
)

// Document is the decoded bus configuration.
type Document struct {
	Application   ApplicationSpec                        `yaml:"application"`
	Interfaces    map[string]InterfaceSpec               `yaml:"interfaces"`
	Authorization map[string]map[string]authorize.Policy `yaml:"authorization"`
}

// ApplicationSpec identifies the configured application.
type ApplicationSpec struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
}

// InterfaceSpec maps method names to their pipelines.
type InterfaceSpec map[string]OperationSpec

// OperationSpec declares one method's pipeline. Output optionally names the
// step whose value is the invocation result; empty means the last step.
type OperationSpec struct {
	Steps  []StepSpec `yaml:"steps"`
	Output string     `yaml:"output"`
}

// StepSpec declares one pipeline step. With values that are strings wholly
// wrapped in ${ ... } are expression bindings; everything else is literal.
type StepSpec struct {
	Name string         `yaml:"name"`
	Uses string         `yaml:"uses"`
	With map[string]any `yaml:"with"`
}

// Parse decodes and structurally validates a bus document. Semantic checks
// (unit existence, expression compilation) happen at registry construction.
func Parse(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode bus document: %w", err)
	}
	if err := doc.Validate(); err != nil {
		return nil, err
	}
	return &doc, nil
}

// Validate checks the structural invariants the loader owns: every step is
// named and references a unit, and step names are unique per pipeline.
func (d *Document) Validate() error {
	for interfaceName, methods := range d.Interfaces {
		if interfaceName == "" {
			return fmt.Errorf("bus document: empty interface name")
		}
		for methodName, op := range methods {
			if methodName == "" {
				return fmt.Errorf("bus document: interface %q has an empty method name", interfaceName)
			}
			seen := make(map[string]bool, len(op.Steps))
			for i, step := range op.Steps {
				if step.Name == "" {
					return fmt.Errorf("bus document: %s/%s step[%d]: name is required", interfaceName, methodName, i)
				}
				if step.Uses == "" {
					return fmt.Errorf("bus document: %s/%s step %q: uses is required", interfaceName, methodName, step.Name)
				}
				if seen[step.Name] {
					return fmt.Errorf("bus document: %s/%s: duplicate step name %q", interfaceName, methodName, step.Name)
				}
				seen[step.Name] = true
			}
			if op.Output != "" && !seen[op.Output] {
				return fmt.Errorf("bus document: %s/%s: output step %q not declared", interfaceName, methodName, op.Output)
			}
		}
	}
	return nil
}
