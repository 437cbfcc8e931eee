package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
)

// EnvPrefix prefixes every environment variable the loader reads
const EnvPrefix = "WEBSTREAM"

var stringMapType = reflect.TypeOf(map[string]string(nil))

// LoadEnv overrides configuration from environment variables. Names are
// the upper-cased yaml path, e.g. WEBSTREAM_PROBE_MAXATTEMPTS. Empty
// variables are ignored.
func LoadEnv(cfg *Config) error {
	return walkEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix, func(name string, field reflect.Value) error {
		raw, ok := os.LookupEnv(name)
		if !ok || raw == "" {
			return nil
		}
		if err := setField(field, raw); err != nil {
			return fmt.Errorf("invalid value for %s: %w", name, err)
		}
		return nil
	})
}

// EnvExample lists every variable LoadEnv reads, each with a sample value
func EnvExample(cfg *Config) []string {
	var out []string
	_ = walkEnv(reflect.ValueOf(cfg).Elem(), EnvPrefix, func(name string, field reflect.Value) error {
		out = append(out, name+"="+sampleValue(field.Type()))
		return nil
	})
	return out
}

// walkEnv calls visit for every settable leaf field tagged for yaml
func walkEnv(v reflect.Value, prefix string, visit func(name string, field reflect.Value) error) error {
	t := v.Type()
	for i := range t.NumField() {
		sf := t.Field(i)
		tag, _, _ := strings.Cut(sf.Tag.Get("yaml"), ",")
		if tag == "" || tag == "-" || !sf.IsExported() {
			continue
		}

		name := prefix + "_" + strings.ToUpper(tag)
		field := v.Field(i)
		if field.Kind() == reflect.Struct {
			if err := walkEnv(field, name, visit); err != nil {
				return err
			}
			continue
		}
		if err := visit(name, field); err != nil {
			return err
		}
	}
	return nil
}

func setField(field reflect.Value, raw string) error {
	switch field.Kind() {
	case reflect.String:
		field.SetString(raw)
	case reflect.Int, reflect.Int64:
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return err
		}
		field.SetInt(n)
	case reflect.Float64:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)
	case reflect.Bool:
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return err
		}
		field.SetBool(b)
	case reflect.Map:
		if field.Type() != stringMapType {
			return fmt.Errorf("unsupported map type %s", field.Type())
		}
		m, err := parsePairs(raw)
		if err != nil {
			return err
		}
		field.Set(reflect.ValueOf(m))
	default:
		return fmt.Errorf("unsupported kind %s", field.Kind())
	}
	return nil
}

func sampleValue(t reflect.Type) string {
	switch t.Kind() {
	case reflect.Int, reflect.Int64:
		return "123"
	case reflect.Float64:
		return "0.5"
	case reflect.Bool:
		return "true"
	case reflect.Map:
		return "key1=value1,key2=value2"
	default:
		return "value"
	}
}

// parsePairs reads "k1=v1,k2=v2". Values may contain '=' but not ','.
func parsePairs(raw string) (map[string]string, error) {
	m := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		k, v, ok := strings.Cut(pair, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("expected key=value, got %q", pair)
		}
		m[k] = strings.TrimSpace(v)
	}
	return m, nil
}
