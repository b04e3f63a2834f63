// Package config loads the CLI surface every cmd/* binary shares
// (spec.md §6: logging_level, rabbit_host, replica_id, replicas_count,
// input/output queue or exchange names and kinds), environment variables
// first, falling back to a YAML file for whatever env leaves unset.
//
// Grounded on original_source/processors/*/main.py's config_inputs: each
// binary declares a flat key->type table and a single
// initialize_config(config_inputs) call resolves it from the process
// environment. The teacher has no config loader of its own (Serve takes
// plain string params), so the YAML fallback is grounded on
// nishisan-dev-n-backup's gopkg.in/yaml.v3 file-config pattern instead.
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Values holds the CLI surface common to every binary, plus Extra for
// stage-specific knobs original_source varies per processor (e.g.
// max_avg's grouper_replicas_count, load_balancer's grouper_replicas_count).
type Values struct {
	LoggingLevel  string `yaml:"logging_level"`
	RabbitHost    string `yaml:"rabbit_host"`
	ReplicaID     uint64 `yaml:"replica_id"`
	ReplicasCount uint64 `yaml:"replicas_count"`

	Input      string `yaml:"input"`
	InputType  string `yaml:"input_type"`
	Output     string `yaml:"output"`
	OutputType string `yaml:"output_type"`

	Extra map[string]string `yaml:"extra"`
}

// Load resolves Values from the environment, then fills any field left
// at its zero value from path's YAML file (path may be empty, or may
// name a file that doesn't exist — both are treated as "no file
// fallback", not an error). extraKeys names additional environment
// variables to collect into Extra.
func Load(path string, extraKeys ...string) (Values, error) {
	v := Values{
		LoggingLevel: os.Getenv("logging_level"),
		RabbitHost:   os.Getenv("rabbit_host"),
		Input:        os.Getenv("input"),
		InputType:    os.Getenv("input_type"),
		Output:       os.Getenv("output"),
		OutputType:   os.Getenv("output_type"),
	}

	var err error
	if v.ReplicaID, err = parseUintEnv("replica_id"); err != nil {
		return Values{}, err
	}
	if v.ReplicasCount, err = parseUintEnv("replicas_count"); err != nil {
		return Values{}, err
	}

	for _, key := range extraKeys {
		if s, ok := os.LookupEnv(key); ok {
			if v.Extra == nil {
				v.Extra = make(map[string]string)
			}
			v.Extra[key] = s
		}
	}

	if path != "" {
		if err := v.mergeFile(path); err != nil {
			return Values{}, err
		}
	}
	if v.LoggingLevel == "" {
		v.LoggingLevel = "INFO"
	}
	return v, nil
}

func parseUintEnv(key string) (uint64, error) {
	s := os.Getenv(key)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return n, nil
}

func (v *Values) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("config: read %s: %w", path, err)
	}
	var fromFile Values
	if err := yaml.Unmarshal(data, &fromFile); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}
	v.fillFrom(fromFile)
	return nil
}

func (v *Values) fillFrom(other Values) {
	if v.LoggingLevel == "" {
		v.LoggingLevel = other.LoggingLevel
	}
	if v.RabbitHost == "" {
		v.RabbitHost = other.RabbitHost
	}
	if v.ReplicaID == 0 {
		v.ReplicaID = other.ReplicaID
	}
	if v.ReplicasCount == 0 {
		v.ReplicasCount = other.ReplicasCount
	}
	if v.Input == "" {
		v.Input = other.Input
	}
	if v.InputType == "" {
		v.InputType = other.InputType
	}
	if v.Output == "" {
		v.Output = other.Output
	}
	if v.OutputType == "" {
		v.OutputType = other.OutputType
	}
	for k, val := range other.Extra {
		if v.Extra == nil {
			v.Extra = make(map[string]string)
		}
		if _, ok := v.Extra[k]; !ok {
			v.Extra[k] = val
		}
	}
}

// ExtraInt looks up key in Extra and parses it as an int, returning def
// if the key is absent (original_source's per-stage int config fields,
// e.g. grouper_replicas_count, carried through Extra rather than named
// fields since they vary per processor).
func (v Values) ExtraInt(key string, def int) (int, error) {
	s, ok := v.Extra[key]
	if !ok || s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("config: parse %s: %w", key, err)
	}
	return n, nil
}
