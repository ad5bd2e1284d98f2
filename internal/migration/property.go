package migration

import (
	"fmt"
	"strings"

	"github.com/tis24dev/confmigrate/internal/pathutil"
	"github.com/tis24dev/confmigrate/internal/properties"
)

// propertyRef describes a system or Java property whose value names a file.
type propertyRef struct {
	property string
	// file is the entry name of the Java properties file, empty for a
	// system property.
	file   string
	paths  *pathutil.Resolver
	lookup func() (string, bool, error)
}

func systemPropertyRef(paths *pathutil.Resolver, src properties.Source, name string) propertyRef {
	return propertyRef{
		property: name,
		paths:    paths,
		lookup: func() (string, bool, error) {
			if src == nil {
				return "", false, nil
			}
			v, ok := src.Lookup(name)
			return v, ok, nil
		},
	}
}

func javaPropertyRef(paths *pathutil.Resolver, file, name string) propertyRef {
	return propertyRef{
		property: name,
		file:     file,
		paths:    paths,
		lookup: func() (string, bool, error) {
			return properties.Lookup(paths.ResolveAgainstHome(pathutil.FromName(file)), name)
		},
	}
}

func (p propertyRef) String() string {
	if p.file == "" {
		return fmt.Sprintf("system property [%s]", p.property)
	}
	return fmt.Sprintf("Java property [%s] from [%s]", p.property, p.file)
}

// resolve reads the current value and fails when it is unusable.
func (p propertyRef) resolve() (string, error) {
	value, found, err := p.lookup()
	switch {
	case err != nil:
		return "", NewError(p.file, err, "failed to read %s", p)
	case !found:
		return "", NewError(p.file, nil, "%s is not defined", p)
	case properties.IsBlank(value):
		return "", NewError(p.file, nil, "%s is empty", p)
	}
	return strings.TrimSpace(value), nil
}

// verify checks, once the operation is done, that the property still
// resolves to the file named reference.
func (p propertyRef) verify(r *Report, reference string) {
	value, found, err := p.lookup()
	switch {
	case err != nil:
		r.RecordError(NewError(p.file, err, "failed to read %s", p))
		return
	case !found:
		r.RecordError(NewError(p.file, nil, "%s is no longer defined", p))
		return
	case properties.IsBlank(value):
		r.RecordError(NewError(p.file, nil, "%s is now empty", p))
		return
	}
	want := pathutil.Canonical(p.paths.ResolveAgainstHome(pathutil.FromName(reference)))
	got := pathutil.Canonical(p.paths.ResolveAgainstHome(strings.TrimSpace(value)))
	if got != want {
		r.RecordError(NewError(reference, nil, "%s now references [%s] instead of [%s]", p, strings.TrimSpace(value), reference))
	}
}

type javaRefKey struct {
	file     string
	property string
}
