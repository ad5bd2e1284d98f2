package migration

import (
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/tis24dev/confmigrate/internal/logging"
	"github.com/tis24dev/confmigrate/internal/pathutil"
	"github.com/tis24dev/confmigrate/internal/properties"
)

// ImportContext is handed to a component while it imports.
type ImportContext interface {
	ID() string
	Report() *Report
	// Entry returns the archived entry for path. Paths that were not
	// exported yield an entry whose restore fails.
	Entry(path string) ImportEntry
	// Entries lists the archived files below path accepted by filter.
	Entries(path string, filter Filter) []ImportEntry
	SystemPropertyReferencedEntry(name string) (ImportEntry, bool)
	JavaPropertyReferencedEntry(propertiesPath, name string) (ImportEntry, bool)
	// CleanDirectory removes everything inside path, which must lie under
	// the home directory.
	CleanDirectory(path string) bool
}

type importContext struct {
	id         string
	migratable Migratable
	meta       *MigratableMetadata
	report     *Report
	logger     *logging.Logger
	paths      *pathutil.Resolver
	sysprops   properties.Source
	archive    *archiveReader
	manager    *ImportManager

	files     map[string]*importFileEntry
	folders   map[string]*importDirEntry
	externals map[string]*importExternalEntry
	extOrder  []*importExternalEntry
	empties   map[string]*importEmptyEntry
	sysRefs   map[string]*importPropertyEntry
	javaRefs  map[javaRefKey]*importPropertyEntry
	restored  int
}

func newImportContext(m *ImportManager, id string, mig Migratable, meta *MigratableMetadata) *importContext {
	c := &importContext{
		id:         id,
		migratable: mig,
		meta:       meta,
		report:     m.report,
		logger:     m.logger,
		paths:      m.opts.Paths,
		sysprops:   m.opts.SystemProperties,
		archive:    m.archive,
		manager:    m,
		files:      make(map[string]*importFileEntry),
		folders:    make(map[string]*importDirEntry),
		externals:  make(map[string]*importExternalEntry),
		empties:    make(map[string]*importEmptyEntry),
		sysRefs:    make(map[string]*importPropertyEntry),
		javaRefs:   make(map[javaRefKey]*importPropertyEntry),
	}
	if meta == nil {
		return c
	}
	for _, ext := range meta.Externals {
		name := c.normalize(ext.Name)
		e := &importExternalEntry{ctx: c, name: name, path: c.resolve(name), meta: ext}
		c.externals[name] = e
		c.extOrder = append(c.extOrder, e)
	}
	for _, f := range meta.Folders {
		name := c.normalize(f.Name)
		c.folders[name] = &importDirEntry{ctx: c, name: name, path: c.resolve(name), meta: f}
	}
	for _, sp := range meta.SystemProperties {
		c.sysRefs[sp.Property] = &importPropertyEntry{
			ctx:       c,
			prop:      systemPropertyRef(c.paths, c.sysprops, sp.Property),
			reference: c.normalize(sp.Reference),
		}
	}
	for _, jp := range meta.JavaProperties {
		file := c.normalize(jp.Name)
		c.javaRefs[javaRefKey{file: file, property: jp.Property}] = &importPropertyEntry{
			ctx:       c,
			prop:      javaPropertyRef(c.paths, file, jp.Property),
			reference: c.normalize(jp.Reference),
		}
	}
	return c
}

func (c *importContext) ID() string      { return c.id }
func (c *importContext) Report() *Report { return c.report }

func (c *importContext) normalize(p string) string {
	return pathutil.ToName(c.paths.RelativizeFromHome(c.paths.ResolveAgainstHome(pathutil.FromName(p))))
}

func (c *importContext) resolve(name string) string {
	return c.paths.ResolveAgainstHome(pathutil.FromName(name))
}

// addFile registers an archived file under its component relative name.
func (c *importContext) addFile(name string, f *zip.File) {
	if !validEntryName(name) {
		c.report.RecordError(NewError(f.Name, nil, "invalid archive entry [%s]", f.Name))
		return
	}
	c.files[name] = &importFileEntry{ctx: c, name: name, path: c.resolve(name), file: f}
}

func validEntryName(name string) bool {
	if name == "" || path.IsAbs(name) || strings.Contains(name, "\\") {
		return false
	}
	clean := path.Clean(name)
	return clean == name && clean != ".." && !strings.HasPrefix(clean, "../")
}

// lookup returns the entry this context knows for name, or nil.
func (c *importContext) lookup(name string) ImportEntry {
	if e, ok := c.files[name]; ok {
		return e
	}
	if e, ok := c.folders[name]; ok {
		return e
	}
	if e, ok := c.externals[name]; ok {
		return e
	}
	return nil
}

func (c *importContext) entry(name string) ImportEntry {
	if e := c.lookup(name); e != nil {
		return e
	}
	return c.empty(name)
}

func (c *importContext) empty(name string) ImportEntry {
	if e, ok := c.empties[name]; ok {
		return e
	}
	e := &importEmptyEntry{ctx: c, name: name, path: c.resolve(name)}
	c.empties[name] = e
	return e
}

// referenced resolves a property reference, looking at the other
// components when this one did not archive the file.
func (c *importContext) referenced(name string) ImportEntry {
	if e := c.lookup(name); e != nil {
		return e
	}
	if e := c.manager.lookupElsewhere(name, c); e != nil {
		return e
	}
	return c.empty(name)
}

func (c *importContext) Entry(p string) ImportEntry {
	return c.entry(c.normalize(p))
}

func (c *importContext) Entries(p string, filter Filter) []ImportEntry {
	root := c.normalize(p)
	prefix := root + "/"
	if root == "." {
		prefix = ""
	}
	var names []string
	for name := range c.files {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	for name := range c.externals {
		if strings.HasPrefix(name, prefix) {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]ImportEntry, 0, len(names))
	for _, name := range names {
		if filter != nil && !filter(name) {
			continue
		}
		out = append(out, c.lookup(name))
	}
	return out
}

func (c *importContext) SystemPropertyReferencedEntry(name string) (ImportEntry, bool) {
	e, ok := c.sysRefs[name]
	if !ok {
		return nil, false
	}
	return e, true
}

func (c *importContext) JavaPropertyReferencedEntry(propertiesPath, name string) (ImportEntry, bool) {
	e, ok := c.javaRefs[javaRefKey{file: c.normalize(propertiesPath), property: name}]
	if !ok {
		return nil, false
	}
	return e, true
}

func (c *importContext) CleanDirectory(p string) bool {
	name := c.normalize(p)
	dir := c.resolve(name)
	if filepath.IsAbs(name) || !c.paths.IsUnderHome(dir) {
		c.report.RecordError(NewError(name, nil, "cannot clean [%s] outside [%s]", name, c.paths.Home()))
		return false
	}
	if pathutil.Canonical(dir) == c.paths.Home() {
		c.report.RecordError(NewError(name, nil, "refusing to clean the home directory [%s]", c.paths.Home()))
		return false
	}
	children, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return true
		}
		c.report.RecordError(NewError(name, err, "cannot list [%s]", name))
		return false
	}
	ok := true
	for _, child := range children {
		if err := os.RemoveAll(filepath.Join(dir, child.Name())); err != nil {
			c.report.RecordError(NewError(name, err, "failed to clean [%s]", name))
			ok = false
		}
	}
	return ok
}

// run imports the component, then verifies the externals it left alone.
func (c *importContext) run() {
	var err error
	switch {
	case c.meta == nil:
		if mi, ok := c.migratable.(MissingImporter); ok {
			err = mi.MissingImport(c)
		} else {
			c.logger.Info("Nothing was exported for [%s]", c.id)
		}
	case c.meta.Version != c.migratable.Version():
		c.logger.Warning("[%s] was exported by version [%s]; installed version is [%s]", c.id, c.meta.Version, c.migratable.Version())
		err = c.migratable.IncompatibleImport(c, c.meta.Version)
	default:
		err = c.migratable.Import(c)
		for _, ext := range c.extOrder {
			if ext.outcome == OutcomePending {
				ext.Restore(!ext.meta.Optional)
			}
		}
	}
	if err != nil {
		c.report.RecordError(NewError("", err, "migratable [%s] failed to import", c.id))
	}
}
