// Package composer implements the package index format published by
// composer-style repositories and the order-preserving in-memory view of it.
package composer

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Dist describes where a distribution archive of a version can be fetched.
type Dist struct {
	Type   string `json:"type"`
	URL    string `json:"url"`
	Shasum string `json:"shasum,omitempty"`
}

// Source describes the source-control location of a version.
type Source struct {
	Type      string `json:"type"`
	URL       string `json:"url"`
	Reference string `json:"reference"`
}

// Version is one entry of an index: the artifact descriptor of a single
// version label of a package.
type Version struct {
	Name        string  `json:"name"`
	Version     string  `json:"version"`
	Dist        *Dist   `json:"dist,omitempty"`
	Source      *Source `json:"source,omitempty"`
	Type        string  `json:"type"`
	Description string  `json:"description,omitempty"`
}

// Vendor returns the vendor part of the version's package name.
func (v Version) Vendor() string {
	vendor, _, _ := strings.Cut(v.Name, "/")
	return vendor
}

// DistURL returns the distribution URL, or "" when the version has no dist.
func (v Version) DistURL() string {
	if v.Dist == nil {
		return ""
	}
	return v.Dist.URL
}

// VersionSet holds the versions of one package in order of appearance.
type VersionSet struct {
	labels   []string
	versions map[string]Version
}

func newVersionSet() *VersionSet {
	return &VersionSet{versions: make(map[string]Version)}
}

// Labels returns the version labels in order of appearance.
func (vs *VersionSet) Labels() []string {
	return append([]string(nil), vs.labels...)
}

// Get returns the version registered under label.
func (vs *VersionSet) Get(label string) (Version, bool) {
	v, ok := vs.versions[label]
	return v, ok
}

// Len returns the number of labels.
func (vs *VersionSet) Len() int {
	return len(vs.labels)
}

// set overwrites an existing label in place or appends a new one.
func (vs *VersionSet) set(label string, v Version) {
	if _, ok := vs.versions[label]; !ok {
		vs.labels = append(vs.labels, label)
	}
	vs.versions[label] = v
}

// Index maps package keys ("vendor/slug") to their versions.
//
// Both package keys and version labels keep the order in which they were
// first seen, because the order of an upstream listing carries meaning
// (most upstreams list tags newest-first).
type Index struct {
	keys     []string
	packages map[string]*VersionSet
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{packages: make(map[string]*VersionSet)}
}

// Keys returns the package keys in order of appearance.
func (idx *Index) Keys() []string {
	return append([]string(nil), idx.keys...)
}

// Get returns the versions of a package.
func (idx *Index) Get(key string) (*VersionSet, bool) {
	vs, ok := idx.packages[key]
	return vs, ok
}

// Len returns the number of packages.
func (idx *Index) Len() int {
	return len(idx.keys)
}

// Set registers v under key and label. An existing label keeps its
// position and has its value replaced.
func (idx *Index) Set(key, label string, v Version) {
	vs, ok := idx.packages[key]
	if !ok {
		vs = newVersionSet()
		idx.packages[key] = vs
		idx.keys = append(idx.keys, key)
	}
	vs.set(label, v)
}

// Merge unions other into idx key-wise.
//
// When both indexes publish the same package key and version label, the
// entry from other replaces the one in idx. Aggregating sources in
// configuration order therefore makes the later source win.
func (idx *Index) Merge(other *Index) {
	if other == nil {
		return
	}
	for _, key := range other.keys {
		vs := other.packages[key]
		for _, label := range vs.labels {
			idx.Set(key, label, vs.versions[label])
		}
	}
}

// MarshalJSON encodes the index as {"packages": {...}} keeping the order
// of keys and labels.
func (idx *Index) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"packages":{`)
	for i, key := range idx.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeKey(&buf, key); err != nil {
			return nil, err
		}
		vs := idx.packages[key]
		buf.WriteByte('{')
		for j, label := range vs.labels {
			if j > 0 {
				buf.WriteByte(',')
			}
			if err := writeKey(&buf, label); err != nil {
				return nil, err
			}
			data, err := json.Marshal(vs.versions[label])
			if err != nil {
				return nil, err
			}
			buf.Write(data)
		}
		buf.WriteByte('}')
	}
	buf.WriteString(`}}`)
	return buf.Bytes(), nil
}

func writeKey(buf *bytes.Buffer, key string) error {
	data, err := json.Marshal(key)
	if err != nil {
		return err
	}
	buf.Write(data)
	buf.WriteByte(':')
	return nil
}
