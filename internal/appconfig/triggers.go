package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"gopkg.in/yaml.v3"
	"pkt.systems/mudgate/internal/trigger"
	"pkt.systems/mudgate/schema"
)

// TriggerDef is one trigger definition in the bootstrap file.
type TriggerDef struct {
	Name           string            `yaml:"name"`
	Owner          string            `yaml:"owner"`
	Pattern        string            `yaml:"pattern"`
	Disabled       bool              `yaml:"disabled"`
	Group          string            `yaml:"group"`
	Omit           bool              `yaml:"omit"`
	Priority       int               `yaml:"priority"`
	StopEvaluating bool              `yaml:"stop_evaluating"`
	MatchWithColor bool              `yaml:"match_with_color"`
	Args           map[string]string `yaml:"args"`
}

type triggerFile struct {
	Triggers []TriggerDef `yaml:"triggers"`
}

// LoadTriggers parses the YAML bootstrap file into engine add requests. A
// missing file is not an error; it just yields no triggers.
func LoadTriggers(path string) ([]trigger.AddRequest, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var file triggerFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	reqs := make([]trigger.AddRequest, 0, len(file.Triggers))
	for i, def := range file.Triggers {
		req, err := def.toRequest()
		if err != nil {
			return nil, fmt.Errorf("trigger %d in %s: %w", i, path, err)
		}
		reqs = append(reqs, req)
	}
	return reqs, nil
}

func (d TriggerDef) toRequest() (trigger.AddRequest, error) {
	if d.Name == "" {
		return trigger.AddRequest{}, fmt.Errorf("name is required")
	}
	if d.Pattern == "" {
		return trigger.AddRequest{}, fmt.Errorf("pattern is required")
	}
	owner := d.Owner
	if owner == "" {
		owner = "config"
	}
	var args map[string]schema.ArgType
	if len(d.Args) > 0 {
		args = make(map[string]schema.ArgType, len(d.Args))
		for name, kind := range d.Args {
			t, err := parseArgType(kind)
			if err != nil {
				return trigger.AddRequest{}, fmt.Errorf("arg %s: %w", name, err)
			}
			args[name] = t
		}
	}
	return trigger.AddRequest{
		Name:           schema.TriggerName(d.Name),
		Owner:          schema.OwnerID(owner),
		Pattern:        d.Pattern,
		Disabled:       d.Disabled,
		Group:          d.Group,
		Omit:           d.Omit,
		Priority:       d.Priority,
		StopEvaluating: d.StopEvaluating,
		MatchWithColor: d.MatchWithColor,
		ArgTypes:       args,
	}, nil
}

func parseArgType(kind string) (schema.ArgType, error) {
	switch kind {
	case "", "string":
		return schema.ArgString, nil
	case "int":
		return schema.ArgInt, nil
	case "float":
		return schema.ArgFloat, nil
	case "bool":
		return schema.ArgBool, nil
	}
	return schema.ArgString, fmt.Errorf("unknown arg type %q", kind)
}
