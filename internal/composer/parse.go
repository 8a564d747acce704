package composer

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/tidwall/gjson"
)

// ParseIndex decodes an index payload of the form
//
//	{"packages": {"<vendor>/<slug>": {"<label>": {...version...}}}}
//
// The order of package keys and version labels in the payload is kept.
func ParseIndex(data []byte) (*Index, error) {
	if !gjson.ValidBytes(data) {
		return nil, errors.New("index payload is not valid JSON")
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, errors.New("index payload is not a JSON object")
	}

	idx := NewIndex()
	packages := root.Get("packages")
	switch {
	case !packages.Exists():
		return nil, errors.New("index payload has no packages")
	case packages.IsArray() && len(packages.Array()) == 0:
		// PHP encodes an empty map as [].
		return idx, nil
	case !packages.IsObject():
		return nil, errors.New("index packages is not a JSON object")
	}

	var parseErr error
	packages.ForEach(func(key, versions gjson.Result) bool {
		name := key.String()
		if versions.IsArray() && len(versions.Array()) == 0 {
			return true
		}
		if !versions.IsObject() {
			parseErr = errors.Newf("versions of %s are not a JSON object", name)
			return false
		}
		versions.ForEach(func(label, raw gjson.Result) bool {
			var v Version
			if err := json.Unmarshal([]byte(raw.Raw), &v); err != nil {
				parseErr = errors.Wrapf(err, "decode %s version %s", name, label.String())
				return false
			}
			idx.Set(name, label.String(), v)
			return true
		})
		return parseErr == nil
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return idx, nil
}
