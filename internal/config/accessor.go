package config

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// setting locates one leaf of Config by its json dot path.
type setting struct {
	index []int
	typ   reflect.Type
}

// settings maps every leaf path ("security.blockedCommands", "server.port", ...)
// to its struct field. Paths follow the json tags, so they match the file.
var settings = collectSettings(reflect.TypeOf(Config{}), "", nil)

func collectSettings(t reflect.Type, prefix string, index []int) map[string]setting {
	out := make(map[string]setting)
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "" || name == "-" {
			continue
		}
		path := name
		if prefix != "" {
			path = prefix + "." + name
		}
		idx := append(append([]int(nil), index...), i)
		if f.Type.Kind() == reflect.Struct {
			for p, s := range collectSettings(f.Type, path, idx) {
				out[p] = s
			}
			continue
		}
		out[path] = setting{index: idx, typ: f.Type}
	}
	return out
}

func lookupSetting(path string) (setting, error) {
	s, ok := settings[path]
	if !ok {
		return setting{}, fmt.Errorf("unknown config path %q (see `actionguard config list --paths`)", path)
	}
	return s, nil
}

// GetByPath returns the value at a dot path such as "security.autoBlock".
func GetByPath(cfg *Config, path string) (any, error) {
	s, err := lookupSetting(path)
	if err != nil {
		return nil, err
	}
	return reflect.ValueOf(cfg).Elem().FieldByIndex(s.index).Interface(), nil
}

// SetByPath assigns value to the leaf at path. The value is converted to the
// leaf's type: CLI strings are parsed, JSON values from the API are checked.
// List settings take a comma-separated string or a JSON array.
func SetByPath(cfg *Config, path string, value any) error {
	s, err := lookupSetting(path)
	if err != nil {
		return err
	}
	v, err := coerce(s.typ, value)
	if err != nil {
		return fmt.Errorf("%s: %w", path, err)
	}
	reflect.ValueOf(cfg).Elem().FieldByIndex(s.index).Set(v)
	return nil
}

func coerce(t reflect.Type, value any) (reflect.Value, error) {
	switch t.Kind() {
	case reflect.String:
		switch v := value.(type) {
		case string:
			return reflect.ValueOf(v), nil
		case float64, bool:
			// A JSON scalar sent where text is expected, e.g. a numeric file name.
			return reflect.ValueOf(fmt.Sprint(v)), nil
		}
	case reflect.Bool:
		switch v := value.(type) {
		case bool:
			return reflect.ValueOf(v), nil
		case string:
			b, err := strconv.ParseBool(strings.TrimSpace(v))
			if err != nil {
				return reflect.Value{}, fmt.Errorf("expected true or false, got %q", v)
			}
			return reflect.ValueOf(b), nil
		}
	case reflect.Int:
		switch v := value.(type) {
		case float64:
			if v != math.Trunc(v) {
				return reflect.Value{}, fmt.Errorf("expected an integer, got %v", v)
			}
			return reflect.ValueOf(int(v)), nil
		case string:
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				return reflect.Value{}, fmt.Errorf("expected an integer, got %q", v)
			}
			return reflect.ValueOf(n), nil
		}
	case reflect.Float64:
		switch v := value.(type) {
		case float64:
			return reflect.ValueOf(v), nil
		case string:
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return reflect.Value{}, fmt.Errorf("expected a number, got %q", v)
			}
			return reflect.ValueOf(f), nil
		}
	case reflect.Slice:
		if t.Elem().Kind() != reflect.String {
			break
		}
		switch v := value.(type) {
		case string:
			return reflect.ValueOf(splitList(v)), nil
		case []string:
			return reflect.ValueOf(append([]string{}, v...)), nil
		case []any:
			items := make([]string, 0, len(v))
			for _, item := range v {
				s, ok := item.(string)
				if !ok {
					return reflect.Value{}, fmt.Errorf("expected a list of strings, got element %v", item)
				}
				items = append(items, s)
			}
			return reflect.ValueOf(items), nil
		}
	}
	return reflect.Value{}, fmt.Errorf("cannot use %T as %s", value, t)
}

// splitList turns "rm, shutdown,,mkfs" into [rm shutdown mkfs]. An empty
// string clears the list.
func splitList(s string) []string {
	out := []string{}
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// Sanitize returns a copy of the config with sensitive values masked.
func Sanitize(cfg *Config) *Config {
	data, err := json.Marshal(cfg)
	if err != nil {
		return cfg
	}
	var copy Config
	if err := json.Unmarshal(data, &copy); err != nil {
		return cfg
	}
	if copy.Server.AuthToken != "" {
		copy.Server.AuthToken = maskString(copy.Server.AuthToken)
	}
	return &copy
}

// maskString shows first 4 and last 4 chars, masks the rest.
func maskString(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "****" + s[len(s)-4:]
}

// ListPaths returns every settable path in sorted order.
func ListPaths() []string {
	paths := make([]string, 0, len(settings))
	for p := range settings {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
