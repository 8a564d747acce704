package mirror

import (
	"encoding"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const envPrefix = "PKGMIRROR_"

// legacyEnv maps environment variable names used by earlier deployments
// to the configuration field they override. Entries are applied before
// the prefixed names, so PKGMIRROR_* always wins.
var legacyEnv = []struct {
	name  string
	apply func(c *Config, v string)
}{
	{"ORG", func(c *Config, v string) { c.Hosting.Owner = v }},
	{"GITHUB_ORG", func(c *Config, v string) { c.Hosting.Owner = v }},
	{"PAT", func(c *Config, v string) { c.Hosting.Token = v }},
	{"GITHUB_PAT", func(c *Config, v string) { c.Hosting.Token = v }},
	{"VAULT_PASS", func(c *Config, v string) { c.VaultPass = v }},
}

// ApplyEnvironmentVariables overrides configuration values from the
// environment. Every TOML key maps to PKGMIRROR_ followed by its
// upper-cased path, for example hosting.token to PKGMIRROR_HOSTING_TOKEN.
// Empty variables are ignored.
func (c *Config) ApplyEnvironmentVariables() error {
	for _, legacy := range legacyEnv {
		if v := os.Getenv(legacy.name); v != "" {
			legacy.apply(c, v)
		}
	}
	return applyEnvToStruct(reflect.ValueOf(c).Elem(), envPrefix)
}

func applyEnvToStruct(v reflect.Value, prefix string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		tag := strings.Split(field.Tag.Get("toml"), ",")[0]
		if tag == "" || tag == "-" {
			continue
		}
		name := prefix + strings.ToUpper(tag)
		fv := v.Field(i)

		if fv.Kind() == reflect.Struct && !isTextUnmarshaler(fv) {
			if err := applyEnvToStruct(fv, name+"_"); err != nil {
				return err
			}
			continue
		}
		if err := setFieldFromEnv(fv, name); err != nil {
			return err
		}
	}
	return nil
}

func isTextUnmarshaler(field reflect.Value) bool {
	if !field.CanAddr() {
		return false
	}
	_, ok := field.Addr().Interface().(encoding.TextUnmarshaler)
	return ok
}

// setFieldFromEnv sets field from the environment variable envVar when it
// is set and non-empty.
func setFieldFromEnv(field reflect.Value, envVar string) error {
	value := os.Getenv(envVar)
	if value == "" {
		return nil
	}

	if isTextUnmarshaler(field) {
		u := field.Addr().Interface().(encoding.TextUnmarshaler)
		return errors.Wrapf(u.UnmarshalText([]byte(value)), "invalid value for %s", envVar)
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)
	case reflect.Int:
		n, err := strconv.Atoi(value)
		if err != nil {
			return errors.Wrapf(err, "invalid integer for %s", envVar)
		}
		field.SetInt(int64(n))
	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return errors.Wrapf(err, "invalid boolean for %s", envVar)
		}
		field.SetBool(b)
	case reflect.Slice:
		if field.Type().Elem().Kind() != reflect.String {
			return errors.Newf("unsupported slice type for %s", envVar)
		}
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		field.Set(reflect.ValueOf(items))
	default:
		return errors.Newf("unsupported field type %s for %s", field.Kind(), envVar)
	}
	return nil
}
