package session

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

type TimeControl struct {
	Mode             string `yaml:"mode" json:"mode"`
	Option           string `yaml:"option" json:"option"`
	InitialSeconds   int    `yaml:"initial_seconds" json:"initial_seconds"`
	IncrementSeconds int    `yaml:"increment_seconds" json:"increment_seconds"`
}

var defaultTimeControls = []TimeControl{
	{Mode: "BULLET", Option: "BULLET_1", InitialSeconds: 60},
	{Mode: "BULLET", Option: "BULLET_1_PLUS_1", InitialSeconds: 60, IncrementSeconds: 1},
	{Mode: "BULLET", Option: "BULLET_2_PLUS_1", InitialSeconds: 120, IncrementSeconds: 1},
	{Mode: "BLITZ", Option: "BLITZ_3", InitialSeconds: 180},
	{Mode: "BLITZ", Option: "BLITZ_3_PLUS_2", InitialSeconds: 180, IncrementSeconds: 2},
	{Mode: "BLUNT", Option: "BLUNT_4_20", InitialSeconds: 240},
	{Mode: "RAPID", Option: "RAPID_5", InitialSeconds: 300},
	{Mode: "RAPID", Option: "RAPID_10", InitialSeconds: 600},
}

var ErrUnknownTimeControl = errors.New("unknown_time_control")

// TimeControls is an immutable mode/option lookup table.
type TimeControls struct {
	byKey map[string]TimeControl
}

func DefaultTimeControls() *TimeControls {
	t := &TimeControls{byKey: make(map[string]TimeControl, len(defaultTimeControls))}
	for _, tc := range defaultTimeControls {
		t.byKey[timeControlKey(tc.Mode, tc.Option)] = tc
	}
	return t
}

// LoadTimeControls reads a YAML list of time controls and layers it over the
// defaults. An empty path returns the defaults.
func LoadTimeControls(path string) (*TimeControls, error) {
	t := DefaultTimeControls()
	path = strings.TrimSpace(path)
	if path == "" {
		return t, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read time controls %q: %w", path, err)
	}
	return t.merge(raw)
}

func (t *TimeControls) merge(raw []byte) (*TimeControls, error) {
	var doc struct {
		TimeControls []TimeControl `yaml:"time_controls"`
	}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse time controls: %w", err)
	}
	for _, tc := range doc.TimeControls {
		tc.Mode = strings.ToUpper(strings.TrimSpace(tc.Mode))
		tc.Option = strings.ToUpper(strings.TrimSpace(tc.Option))
		if tc.Mode == "" || tc.Option == "" {
			return nil, fmt.Errorf("time control missing mode or option: %+v", tc)
		}
		if tc.InitialSeconds <= 0 || tc.IncrementSeconds < 0 {
			return nil, fmt.Errorf("time control %s/%s has invalid durations", tc.Mode, tc.Option)
		}
		t.byKey[timeControlKey(tc.Mode, tc.Option)] = tc
	}
	return t, nil
}

func (t *TimeControls) Lookup(mode, option string) (TimeControl, error) {
	tc, ok := t.byKey[timeControlKey(mode, option)]
	if !ok {
		return TimeControl{}, fmt.Errorf("%w: mode %q option %q", ErrUnknownTimeControl, mode, option)
	}
	return tc, nil
}

func (t *TimeControls) All() []TimeControl {
	out := make([]TimeControl, 0, len(t.byKey))
	for _, tc := range t.byKey {
		out = append(out, tc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Mode == out[j].Mode {
			return out[i].Option < out[j].Option
		}
		return out[i].Mode < out[j].Mode
	})
	return out
}

func timeControlKey(mode, option string) string {
	return strings.ToUpper(mode) + "/" + strings.ToUpper(option)
}
