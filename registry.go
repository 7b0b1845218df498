package imageio

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/logicossoftware/go-imageio/dynlib"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/ustring"
)

// PluginVersion is the value a plugin's <format>_imageio_version entry
// point must return.
const PluginVersion = 1

// EnvLibraryPath names the environment variable holding extra plugin
// directories, separated by os.PathListSeparator.
const EnvLibraryPath = "IMAGEIO_LIBRARY_PATH"

// Format declares one codec family: its name, the file extensions it
// claims and the factories for its readers and writers. Either factory
// may be nil.
type Format struct {
	Name             string
	InputExtensions  []string
	OutputExtensions []string
	NewReader        func() ReaderImpl
	NewWriter        func() WriterImpl
	LibraryVersion   string
}

// FormatInfo describes a declared format.
type FormatInfo struct {
	Name             string
	InputExtensions  []string
	OutputExtensions []string
	LibraryVersion   string
	Plugin           string // path of the backing library, "" if built in
}

// Binder turns an opened plugin library into a Format.
type Binder interface {
	Bind(loader *dynlib.Loader, lib *dynlib.Library, format string) (Format, error)
}

type entry struct {
	format   Format
	name     ustring.String
	lib      *dynlib.Library
	live     int
	unloaded bool
}

// Registry resolves filenames and format names to codecs. Built-in
// formats are declared up front; plugins are loaded from the search path
// the first time a lookup misses.
type Registry struct {
	mu         sync.Mutex
	byName     map[ustring.String]*entry
	inExt      map[string]*entry
	outExt     map[string]*entry
	order      []*entry
	searchPath []string
	loader     *dynlib.Loader
	binder     Binder
	logger     *slog.Logger
	limits     Limits
	disabled   map[string]bool
	cataloged  bool
	closed     bool
	scanned    map[string]bool
	lastErr    string
}

// NewRegistry returns a registry holding the formats given by WithFormats.
func NewRegistry(opts ...Option) *Registry {
	var c registryConfig
	for _, o := range opts {
		o(&c)
	}
	r := &Registry{
		byName:     make(map[ustring.String]*entry),
		inExt:      make(map[string]*entry),
		outExt:     make(map[string]*entry),
		searchPath: c.searchPath,
		loader:     c.loader,
		binder:     c.binder,
		logger:     c.logger,
		limits:     c.limits.withDefaults(),
		disabled:   make(map[string]bool),
		scanned:    make(map[string]bool),
	}
	if r.loader == nil {
		r.loader = dynlib.Default()
	}
	if r.binder == nil {
		r.binder = CABIBinder()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if !c.noEnv {
		for _, d := range filepath.SplitList(os.Getenv(EnvLibraryPath)) {
			if d != "" {
				r.searchPath = append(r.searchPath, d)
			}
		}
	}
	for _, n := range c.disabled {
		r.disabled[strings.ToLower(n)] = true
	}
	for _, f := range c.formats {
		r.Declare(f)
	}
	return r
}

// Declare adds a built-in format. It reports false if the name is empty,
// disabled or already declared; the first declaration of a name wins.
func (r *Registry) Declare(f Format) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.declareLocked(f, nil) != nil
}

func (r *Registry) declareLocked(f Format, lib *dynlib.Library) *entry {
	name := strings.ToLower(f.Name)
	if name == "" || (f.NewReader == nil && f.NewWriter == nil) || r.disabled[name] {
		return nil
	}
	key := ustring.New(name)
	if _, dup := r.byName[key]; dup {
		r.logger.Debug("imageio: duplicate format ignored", "format", name)
		return nil
	}
	f.Name = name
	e := &entry{format: f, name: key, lib: lib}
	r.byName[key] = e
	r.order = append(r.order, e)
	if f.NewReader != nil {
		for _, ext := range extensionsOr(f.InputExtensions, name) {
			if _, ok := r.inExt[ext]; !ok {
				r.inExt[ext] = e
			}
		}
	}
	if f.NewWriter != nil {
		for _, ext := range extensionsOr(f.OutputExtensions, name) {
			if _, ok := r.outExt[ext]; !ok {
				r.outExt[ext] = e
			}
		}
	}
	return e
}

func extensionsOr(exts []string, name string) []string {
	if len(exts) == 0 {
		return []string{name}
	}
	out := make([]string, 0, len(exts))
	for _, x := range exts {
		x = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(x), "."))
		if x != "" {
			out = append(out, x)
		}
	}
	return out
}

// formatKey derives the lookup key of a filename: its lowercased
// extension, or the whole name when it has none.
func formatKey(filename string) (string, error) {
	name, _, err := SplitREST(filename)
	if err != nil {
		return "", err
	}
	if name == "" {
		return "", fmt.Errorf("%w: empty file name", ErrUnknownFormat)
	}
	ext := strings.TrimPrefix(filepath.Ext(name), ".")
	if ext == "" {
		ext = name
	}
	return strings.ToLower(ext), nil
}

func (r *Registry) findLocked(key string, writer bool) *entry {
	exts := r.inExt
	if writer {
		exts = r.outExt
	}
	if e, ok := exts[key]; ok {
		return e
	}
	if e, ok := r.byName[ustring.New(key)]; ok {
		if (writer && e.format.NewWriter != nil) || (!writer && e.format.NewReader != nil) {
			return e
		}
	}
	return nil
}

// resolve finds the entry for filename. With acquire set the entry is
// returned holding a reference the caller must drop with release.
func (r *Registry) resolve(filename string, writer, acquire bool) (*entry, error) {
	key, err := formatKey(filename)
	if err != nil {
		return nil, r.fail(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, fmt.Errorf("%w: registry is closed", ErrState)
	}
	e := r.findLocked(key, writer)
	if e == nil {
		r.loadDirectLocked(key)
		e = r.findLocked(key, writer)
	}
	if e == nil {
		r.catalogLocked()
		e = r.findLocked(key, writer)
	}
	if e == nil {
		kind := "reader"
		if writer {
			kind = "writer"
		}
		err = fmt.Errorf("%w: no %s for %q", ErrUnknownFormat, kind, filename)
		r.lastErr = err.Error()
		return nil, err
	}
	if acquire {
		e.live++
	}
	return e, nil
}

// acquire takes a reference on e unless it has been unloaded. The
// reference keeps its library mapped until release.
func (r *Registry) acquire(e *entry) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e.unloaded || r.closed {
		return false
	}
	e.live++
	return true
}

func (r *Registry) pluginPath(dir, format string) string {
	return filepath.Join(dir, format+"."+dynlib.PluginExtension())
}

// loadDirectLocked tries <dir>/<key>.<suffix> in each search directory.
func (r *Registry) loadDirectLocked(key string) {
	if r.disabled[key] {
		return
	}
	for _, dir := range r.searchPath {
		p := r.pluginPath(dir, key)
		if r.scanned[p] {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			continue
		}
		if r.loadPluginLocked(p, key) != nil {
			return
		}
	}
}

// catalogLocked loads every plugin library found in the search path.
func (r *Registry) catalogLocked() {
	if r.cataloged || r.closed {
		return
	}
	r.cataloged = true
	suffix := "." + dynlib.PluginExtension()
	for _, dir := range r.searchPath {
		ents, err := os.ReadDir(dir)
		if err != nil {
			r.logger.Debug("imageio: skipping plugin directory", "dir", dir, "err", err)
			continue
		}
		for _, de := range ents {
			if de.IsDir() || !strings.HasSuffix(de.Name(), suffix) {
				continue
			}
			format := strings.ToLower(strings.TrimSuffix(de.Name(), suffix))
			p := filepath.Join(dir, de.Name())
			if r.scanned[p] || r.disabled[format] {
				continue
			}
			if _, ok := r.byName[ustring.New(format)]; ok {
				r.logger.Debug("imageio: plugin shadowed by an earlier format", "format", format, "path", p)
				continue
			}
			r.loadPluginLocked(p, format)
		}
	}
}

func (r *Registry) loadPluginLocked(path, format string) *entry {
	r.scanned[path] = true
	lib, err := r.loader.Open(path)
	if err != nil {
		r.logger.Warn("imageio: cannot load plugin", "path", path, "err", err)
		r.lastErr = err.Error()
		return nil
	}
	f, err := r.binder.Bind(r.loader, lib, format)
	if err != nil {
		r.loader.Close(lib)
		r.logger.Warn("imageio: rejected plugin", "path", path, "err", err)
		r.lastErr = err.Error()
		return nil
	}
	if f.Name == "" {
		f.Name = format
	}
	e := r.declareLocked(f, lib)
	if e == nil {
		r.loader.Close(lib)
		return nil
	}
	r.logger.Debug("imageio: loaded plugin", "format", e.format.Name, "path", path, "version", f.LibraryVersion)
	return e
}

func (r *Registry) fail(err error) error {
	r.mu.Lock()
	r.lastErr = err.Error()
	r.mu.Unlock()
	return err
}

// FormatFor returns the name of the format that would handle filename.
func (r *Registry) FormatFor(filename string) (string, error) {
	e, err := r.resolve(filename, false, false)
	if err != nil {
		var werr error
		if e, werr = r.resolve(filename, true, false); werr != nil {
			return "", err
		}
	}
	return e.format.Name, nil
}

// newReader builds a reader from e, which the caller has acquired. The
// reference passes to the reader and is dropped by its Destroy.
func (r *Registry) newReader(e *entry) (*GuardReader, error) {
	impl := e.format.NewReader()
	if impl == nil {
		r.release(e)
		return nil, r.fail(fmt.Errorf("%w: %s reader factory returned nothing", ErrUnknownFormat, e.format.Name))
	}
	g := NewGuardReader(impl)
	g.limits = r.limits
	g.release = func() { r.release(e) }
	return g, nil
}

// newWriter builds a writer from e, which the caller has acquired. The
// reference passes to the writer and is dropped by its Destroy.
func (r *Registry) newWriter(e *entry) (*GuardWriter, error) {
	impl := e.format.NewWriter()
	if impl == nil {
		r.release(e)
		return nil, r.fail(fmt.Errorf("%w: %s writer factory returned nothing", ErrUnknownFormat, e.format.Name))
	}
	g := NewGuardWriter(impl)
	g.limits = r.limits
	g.release = func() { r.release(e) }
	return g, nil
}

// CreateReader returns an unopened reader for the format of filename.
// Call Destroy when done with it.
func (r *Registry) CreateReader(filename string) (Reader, error) {
	e, err := r.resolve(filename, false, true)
	if err != nil {
		return nil, err
	}
	return r.newReader(e)
}

// CreateWriter returns an unopened writer for the format of filename.
// Call Destroy when done with it.
func (r *Registry) CreateWriter(filename string) (Writer, error) {
	e, err := r.resolve(filename, true, true)
	if err != nil {
		return nil, err
	}
	return r.newWriter(e)
}

// OpenReader creates and opens a reader for filename. REST arguments in
// the filename are added to config. When the reader chosen by extension
// cannot open the file, every other reader that recognizes it is tried.
func (r *Registry) OpenReader(filename string, config *param.List) (Reader, ImageSpec, error) {
	path, args, err := SplitREST(filename)
	if err != nil {
		return nil, ImageSpec{}, r.fail(err)
	}
	var cfg param.List
	if config != nil {
		cfg = config.Clone()
	}
	for _, v := range args.All() {
		cfg.Set(v.Clone())
	}

	var tried *entry
	var specific error
	if e, err := r.resolve(filename, false, true); err == nil {
		tried = e
		rd, err := r.newReader(e)
		if err != nil {
			return nil, ImageSpec{}, err
		}
		spec, err := rd.Open(path, &cfg)
		if err == nil {
			return rd, spec, nil
		}
		specific = err
		rd.Destroy()
	}

	r.mu.Lock()
	r.catalogLocked()
	candidates := make([]*entry, 0, len(r.order))
	for _, e := range r.order {
		if e != tried && e.format.NewReader != nil {
			candidates = append(candidates, e)
		}
	}
	r.mu.Unlock()

	tryCfg := cfg.Clone()
	tryCfg.SetInt(AttrNoWait, 1)
	for _, e := range candidates {
		if !r.acquire(e) {
			continue
		}
		rd, err := r.newReader(e)
		if err != nil {
			continue
		}
		if !rd.ValidFile(path) {
			rd.Destroy()
			continue
		}
		if spec, err := rd.Open(path, &tryCfg); err == nil {
			r.logger.Debug("imageio: opened by trying", "file", path, "format", e.format.Name)
			return rd, spec, nil
		}
		rd.Destroy()
	}
	if specific == nil {
		specific = fmt.Errorf("%w: no reader could open %q", ErrUnknownFormat, filename)
	}
	return nil, ImageSpec{}, r.fail(specific)
}

// Formats lists every declared format, loading all plugins in the search
// path first.
func (r *Registry) Formats() []FormatInfo {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.catalogLocked()
	out := make([]FormatInfo, 0, len(r.order))
	for _, e := range r.order {
		fi := FormatInfo{Name: e.format.Name, LibraryVersion: e.format.LibraryVersion}
		if e.format.NewReader != nil {
			fi.InputExtensions = extensionsOr(e.format.InputExtensions, e.format.Name)
		}
		if e.format.NewWriter != nil {
			fi.OutputExtensions = extensionsOr(e.format.OutputExtensions, e.format.Name)
		}
		if e.lib != nil {
			fi.Plugin = e.lib.Path()
		}
		out = append(out, fi)
	}
	slices.SortFunc(out, func(a, b FormatInfo) int { return strings.Compare(a.Name, b.Name) })
	return out
}

// Unload removes a plugin format. Its library is released now if no codec
// created from it is alive, otherwise when the last one is destroyed. A
// later lookup may load the plugin again.
func (r *Registry) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byName[ustring.New(strings.ToLower(name))]
	if !ok {
		err := fmt.Errorf("%w: %s", ErrUnknownFormat, name)
		r.lastErr = err.Error()
		return err
	}
	if e.lib == nil {
		err := fmt.Errorf("%w: %s is built in", ErrUnknownFormat, name)
		r.lastErr = err.Error()
		return err
	}
	r.removeLocked(e)
	delete(r.scanned, e.lib.Path())
	r.cataloged = false
	e.unloaded = true
	if e.live == 0 {
		return r.releaseLibLocked(e)
	}
	r.logger.Debug("imageio: plugin unload deferred", "format", name, "live", e.live)
	return nil
}

func (r *Registry) removeLocked(e *entry) {
	delete(r.byName, e.name)
	for k, v := range r.inExt {
		if v == e {
			delete(r.inExt, k)
		}
	}
	for k, v := range r.outExt {
		if v == e {
			delete(r.outExt, k)
		}
	}
	r.order = slices.DeleteFunc(r.order, func(x *entry) bool { return x == e })
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e.live--
	if e.live == 0 && e.unloaded {
		r.releaseLibLocked(e)
	}
}

func (r *Registry) releaseLibLocked(e *entry) error {
	if e.lib == nil {
		return nil
	}
	lib := e.lib
	e.lib = nil
	if err := r.loader.Close(lib); err != nil {
		r.lastErr = err.Error()
		return err
	}
	r.logger.Debug("imageio: plugin released", "format", e.format.Name, "path", lib.Path())
	return nil
}

// Close tears the registry down. Plugin libraries with live codecs are
// released when those codecs are destroyed.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	for _, e := range r.order {
		e.unloaded = true
		if e.lib != nil && e.live == 0 {
			if err := r.releaseLibLocked(e); err != nil {
				errs = append(errs, err)
			}
		}
	}
	r.order = nil
	clear(r.byName)
	clear(r.inExt)
	clear(r.outExt)
	clear(r.scanned)
	r.closed = true
	return errors.Join(errs...)
}

// LastError returns the most recent registry-level failure message.
func (r *Registry) LastError(clear bool) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := r.lastErr
	if clear {
		r.lastErr = ""
	}
	return s
}

// SearchPath returns the plugin directories in search order.
func (r *Registry) SearchPath() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.searchPath)
}
