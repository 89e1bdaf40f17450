package timeutil

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration is a human-writable duration for YAML configuration. Strings
// take Go duration syntax ("1m", "90s"); bare numbers are seconds.
type Duration struct {
	time.Duration
}

// D wraps a time.Duration, mostly for building configs in code.
func D(d time.Duration) Duration { return Duration{Duration: d} }

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return errors.Errorf("duration: unsupported node kind %d", value.Kind)
	}
	s := strings.TrimSpace(value.Value)
	switch value.Tag {
	case "!!str":
		if s == "" {
			d.Duration = 0
			return nil
		}
		dd, err := time.ParseDuration(s)
		if err != nil {
			return errors.Errorf("duration: invalid %q", s)
		}
		d.Duration = dd
		return nil
	case "!!int":
		secs, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return errors.Errorf("duration: invalid seconds %q", s)
		}
		d.Duration = time.Duration(secs) * time.Second
		return nil
	case "!!float":
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return errors.Errorf("duration: invalid seconds %q", s)
		}
		d.Duration = time.Duration(f * float64(time.Second))
		return nil
	}
	return errors.Errorf("duration: unsupported value %q (tag %s)", value.Value, value.Tag)
}

func (d Duration) MarshalYAML() (interface{}, error) {
	return d.Duration.String(), nil
}
