// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package config

import (
	"io"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	// Node is a read-only view over one section of the configuration tree.
	Node interface {
		LookupChild(name string) (Node, bool)
		LookupChildValue(name string) (string, bool)
		ChildValueIsTrue(name string) bool
	}

	viperNode struct {
		v *viper.Viper
	}
)

var truthyValues = mapset.NewSet("1", "yes", "true", "on")

// IsTrue reports whether value is one of `1`, `yes`, `true` or `on`, ignoring case.
func IsTrue(value string) bool {
	return truthyValues.Contains(strings.ToLower(strings.TrimSpace(value)))
}

func (n *viperNode) LookupChild(name string) (Node, bool) {
	if !n.v.IsSet(name) {
		return nil, false
	}
	sub := n.v.Sub(name)
	if sub == nil {
		// scalar value or empty section
		return nil, false
	}
	return &viperNode{v: sub}, true
}

func (n *viperNode) LookupChildValue(name string) (string, bool) {
	if !n.v.IsSet(name) {
		return "", false
	}
	value := n.v.Get(name)
	if value == nil {
		return "", false
	}
	if _, isSection := value.(map[string]interface{}); isSection {
		return "", false
	}
	return n.v.GetString(name), true
}

func (n *viperNode) ChildValueIsTrue(name string) bool {
	value, ok := n.LookupChildValue(name)
	return ok && IsTrue(value)
}

// NewNode wraps an existing viper instance.
func NewNode(v *viper.Viper) Node {
	return &viperNode{v: v}
}

// EmptyNode returns a section without children.
func EmptyNode() Node {
	return &viperNode{v: viper.New()}
}

// FromMap builds a section out of nested maps; mostly useful for wiring and tests.
func FromMap(values map[string]interface{}) Node {
	v := viper.New()
	_ = v.MergeConfigMap(values)
	return &viperNode{v: v}
}

// FromYAML reads a YAML document and returns its root section.
func FromYAML(r io.Reader) (Node, error) {
	v := viper.New()
	v.SetConfigType("yaml")
	if err := v.ReadConfig(r); err != nil {
		return nil, errors.Wrap(err, "failed to parse YAML configuration")
	}
	return &viperNode{v: v}, nil
}
