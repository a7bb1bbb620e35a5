package config

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"gopkg.in/yaml.v3"
)

var (
	millisType    = reflect.TypeOf(Millis(0))
	watchType     = reflect.TypeOf(Watch{})
	stringsType   = reflect.TypeOf([]string(nil))
	stringMapType = reflect.TypeOf(map[string]string(nil))
)

// decodeApp maps one raw apps entry onto App. Keys App does not know are
// returned so the caller can report them.
func decodeApp(raw map[string]any) (App, []string, error) {
	var (
		app App
		md  mapstructure.Metadata
	)
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &app,
		Metadata:         &md,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			envHook,
			millisHook,
			watchHook,
			argsHook,
		),
	})
	if err != nil {
		return App{}, nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return App{}, nil, err
	}
	return app, md.Unused, nil
}

// envHook stringifies env values the way Node does when it copies them
// into process.env: PYTHONUNBUFFERED: 1 becomes "1", true becomes "true".
func envHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != stringMapType {
		return data, nil
	}
	m, ok := data.(map[string]any)
	if !ok {
		return data, nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = stringify(v)
	}
	return out, nil
}

func stringify(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32)
	default:
		return fmt.Sprint(x)
	}
}

// millisHook accepts Go duration strings ("2s") in addition to plain
// millisecond numbers.
func millisHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != millisType {
		return data, nil
	}
	s, ok := data.(string)
	if !ok {
		return data, nil
	}
	s = strings.TrimSpace(s)
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return Millis(n), nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return nil, fmt.Errorf("invalid duration %q: %w", s, err)
	}
	return Millis(d / time.Millisecond), nil
}

func watchHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != watchType {
		return data, nil
	}
	switch x := data.(type) {
	case nil:
		return Watch{}, nil
	case bool:
		return Watch{Enabled: x}, nil
	case string:
		if b, err := strconv.ParseBool(x); err == nil {
			return Watch{Enabled: b}, nil
		}
		return Watch{Enabled: true, Paths: []string{x}}, nil
	case []any:
		w := Watch{Enabled: len(x) > 0}
		for _, p := range x {
			w.Paths = append(w.Paths, stringify(p))
		}
		return w, nil
	case []string:
		return Watch{Enabled: len(x) > 0, Paths: x}, nil
	}
	return nil, fmt.Errorf("watch must be a boolean or a list of paths, got %T", data)
}

// argsHook splits a string args option on whitespace, as pm2 does.
func argsHook(_ reflect.Type, to reflect.Type, data any) (any, error) {
	if to != stringsType {
		return data, nil
	}
	if s, ok := data.(string); ok {
		return strings.Fields(s), nil
	}
	return data, nil
}

func (w Watch) value() any {
	if len(w.Paths) > 0 {
		return w.Paths
	}
	return w.Enabled
}

// MarshalJSON renders watch back in its declared shape.
func (w Watch) MarshalJSON() ([]byte, error) { return json.Marshal(w.value()) }

// MarshalYAML renders watch back in its declared shape.
func (w Watch) MarshalYAML() (any, error) { return w.value(), nil }

var (
	_ json.Marshaler = Watch{}
	_ yaml.Marshaler = Watch{}
)
