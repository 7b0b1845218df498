package imageio

import (
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/logicossoftware/go-imageio/dynlib"
	"github.com/logicossoftware/go-imageio/param"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// fileBackend "loads" any existing file and counts opens and closes.
type fileBackend struct {
	mu     sync.Mutex
	next   uintptr
	opens  map[string]int
	closes int
}

func (b *fileBackend) Open(path string) (uintptr, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, err := os.Stat(path); err != nil {
		return 0, err
	}
	if b.opens == nil {
		b.opens = make(map[string]int)
	}
	b.opens[path]++
	b.next++
	return b.next, nil
}

func (b *fileBackend) Sym(uintptr, string) (uintptr, error) { return 0, errors.New("no symbols") }

func (b *fileBackend) Close(uintptr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return nil
}

// memBinder serves an in-memory format for every plugin it binds, except
// names listed in reject.
type memBinder struct {
	img    *memImage
	reject map[string]bool
	binds  int
}

func (b *memBinder) Bind(_ *dynlib.Loader, lib *dynlib.Library, format string) (Format, error) {
	b.binds++
	if b.reject[format] {
		return Format{}, ErrPluginVersion
	}
	return Format{
		Name:            format,
		InputExtensions: []string{format, format + "x"},
		NewReader:       func() ReaderImpl { return &memReader{img: b.img} },
		NewWriter:       func() WriterImpl { return &memWriter{} },
		LibraryVersion:  "test-1",
	}, nil
}

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func pluginDir(t *testing.T, names ...string) string {
	t.Helper()
	dir := t.TempDir()
	for _, n := range names {
		p := filepath.Join(dir, n+"."+dynlib.PluginExtension())
		if err := os.WriteFile(p, []byte("not really a library"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

func memFormat(img *memImage) Format {
	return Format{
		Name:             "mem",
		InputExtensions:  []string{"mem", "memory"},
		OutputExtensions: []string{"mem"},
		NewReader:        func() ReaderImpl { return &memReader{img: img} },
		NewWriter:        func() WriterImpl { return &memWriter{} },
	}
}

func newPluginRegistry(t *testing.T, dir string, binder Binder) (*Registry, *fileBackend) {
	t.Helper()
	fb := &fileBackend{}
	loader := dynlib.NewLoader(dynlib.WithBackend(fb), dynlib.WithLogger(quietLogger()))
	r := NewRegistry(
		WithoutEnvSearchPath(),
		WithSearchPath(dir),
		WithLoader(loader),
		WithBinder(binder),
		WithLogger(quietLogger()),
	)
	return r, fb
}

func TestRegistryBuiltinLookup(t *testing.T) {
	img := newMemImage(2, 2, 1, typedesc.TypeUInt8)
	r := NewRegistry(WithoutEnvSearchPath(), WithLogger(quietLogger()), WithFormats(memFormat(img)))
	for _, name := range []string{"a.mem", "A.MEM", "dir/b.memory", "mem", "c.mem?x=1"} {
		got, err := r.FormatFor(name)
		if err != nil {
			t.Fatalf("%s: %v", name, err)
		}
		if got != "mem" {
			t.Fatalf("%s resolved to %q", name, got)
		}
	}
	if _, err := r.FormatFor("a.nothing"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
	if r.LastError(true) == "" {
		t.Fatal("miss should be recorded")
	}
	w, err := r.CreateWriter("out.mem")
	if err != nil {
		t.Fatal(err)
	}
	w.Destroy()
	if _, err := r.CreateWriter("out.memory"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("memory is an input-only extension: %v", err)
	}
}

func TestRegistryDeclareKeepsFirst(t *testing.T) {
	r := NewRegistry(WithoutEnvSearchPath(), WithLogger(quietLogger()))
	img := newMemImage(1, 1, 1, typedesc.TypeUInt8)
	if !r.Declare(memFormat(img)) {
		t.Fatal("first declare should succeed")
	}
	if r.Declare(memFormat(img)) {
		t.Fatal("duplicate declare should be ignored")
	}
	if r.Declare(Format{Name: "nothing"}) {
		t.Fatal("format without factories should be rejected")
	}
	if len(r.Formats()) != 1 {
		t.Fatalf("formats=%v", r.Formats())
	}
}

func TestRegistryDisabledFormats(t *testing.T) {
	img := newMemImage(1, 1, 1, typedesc.TypeUInt8)
	r := NewRegistry(WithoutEnvSearchPath(), WithLogger(quietLogger()), WithDisabledFormats("MEM"), WithFormats(memFormat(img)))
	if _, err := r.CreateReader("x.mem"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("disabled format resolved: %v", err)
	}
}

func TestRegistryOpenReaderRESTArgs(t *testing.T) {
	img := newMemImage(2, 2, 1, typedesc.TypeUInt8)
	var seen param.List
	f := memFormat(img)
	f.NewReader = func() ReaderImpl { return &configReader{memReader: memReader{img: img}, seen: &seen} }
	r := NewRegistry(WithoutEnvSearchPath(), WithLogger(quietLogger()), WithFormats(f))
	var cfg param.List
	cfg.SetInt("user", 5)
	rd, spec, err := r.OpenReader("mem.mem?RES=64x64&TYPE=half", &cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Destroy()
	if spec.Width != 2 {
		t.Fatalf("spec=%+v", spec)
	}
	if seen.GetString("RES", "") != "64x64" || seen.GetString("TYPE", "") != "half" || seen.GetInt("user", 0) != 5 {
		t.Fatal("config did not carry REST arguments and caller attributes")
	}
	if cfg.Len() != 1 {
		t.Fatal("caller config must not be modified")
	}
}

type configReader struct {
	memReader
	seen *param.List
}

func (c *configReader) Open(name string, cfg *param.List) (ImageSpec, error) {
	*c.seen = cfg.Clone()
	return c.memReader.Open(name, cfg)
}

func TestRegistryOpenReaderTrysOtherFormats(t *testing.T) {
	img := newMemImage(3, 1, 1, typedesc.TypeUInt8)
	other := Format{
		Name:      "wrong",
		NewReader: func() ReaderImpl { return &memReader{img: &memImage{spec: ImageSpec{}}} },
	}
	r := NewRegistry(WithoutEnvSearchPath(), WithLogger(quietLogger()), WithFormats(other, memFormat(img)))
	// the extension says "wrong", whose reader produces an invalid spec
	rd, spec, err := r.OpenReader("memfile.wrong", nil)
	if err != nil {
		t.Fatal(err)
	}
	defer rd.Destroy()
	if rd.FormatName() != "mem" || spec.Width != 3 {
		t.Fatalf("opened by %s with %+v", rd.FormatName(), spec)
	}
	if _, _, err := r.OpenReader("bad.mem", nil); err == nil {
		t.Fatal("expected error")
	}
}

func TestRegistryLoadsPluginOnce(t *testing.T) {
	img := newMemImage(2, 1, 1, typedesc.TypeUInt8)
	dir := pluginDir(t, "fake")
	binder := &memBinder{img: img}
	r, fb := newPluginRegistry(t, dir, binder)
	for i := 0; i < 3; i++ {
		rd, err := r.CreateReader("image.fake")
		if err != nil {
			t.Fatal(err)
		}
		rd.Destroy()
	}
	path := filepath.Join(dir, "fake."+dynlib.PluginExtension())
	if fb.opens[path] != 1 || binder.binds != 1 {
		t.Fatalf("opens=%d binds=%d", fb.opens[path], binder.binds)
	}
	if got, _ := r.FormatFor("image.fakex"); got != "fake" {
		t.Fatalf("plugin extension resolved to %q", got)
	}
	infos := r.Formats()
	if len(infos) != 1 || infos[0].Plugin != path || infos[0].LibraryVersion != "test-1" {
		t.Fatalf("formats=%+v", infos)
	}
}

func TestRegistryCatalogsByExtension(t *testing.T) {
	img := newMemImage(2, 1, 1, typedesc.TypeUInt8)
	dir := pluginDir(t, "fake", "broken")
	binder := &memBinder{img: img, reject: map[string]bool{"broken": true}}
	r, fb := newPluginRegistry(t, dir, binder)
	// "fakex" has no plugin of its own; the catalog finds fake.so claiming it
	name, err := r.FormatFor("a.fakex")
	if err != nil || name != "fake" {
		t.Fatalf("name=%q err=%v", name, err)
	}
	if fb.closes != 1 {
		t.Fatalf("rejected plugin should be closed, closes=%d", fb.closes)
	}
	if r.LastError(true) == "" {
		t.Fatal("rejected plugin should be recorded")
	}
	if _, err := r.FormatFor("a.broken"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("rejected plugin resolved: %v", err)
	}
}

func TestRegistryUnloadDefersWhileLive(t *testing.T) {
	img := newMemImage(2, 1, 1, typedesc.TypeUInt8)
	dir := pluginDir(t, "fake")
	r, fb := newPluginRegistry(t, dir, &memBinder{img: img})
	rd, err := r.CreateReader("x.fake")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := rd.Open("mem", nil); err != nil {
		t.Fatal(err)
	}
	if err := r.Unload("fake"); err != nil {
		t.Fatal(err)
	}
	if fb.closes != 0 {
		t.Fatal("library released while a reader is alive")
	}
	if err := rd.ReadScanline(0, 0, typedesc.TypeUnknown, make([]byte, 2)); err != nil {
		t.Fatalf("reader should keep working: %v", err)
	}
	rd.Destroy()
	if fb.closes != 1 {
		t.Fatalf("closes=%d after last reader", fb.closes)
	}
	// a later lookup reloads the plugin
	rd, err = r.CreateReader("y.fake")
	if err != nil {
		t.Fatal(err)
	}
	rd.Destroy()
	path := filepath.Join(dir, "fake."+dynlib.PluginExtension())
	if fb.opens[path] != 2 {
		t.Fatalf("opens=%d", fb.opens[path])
	}
	if err := r.Unload("nothing"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("unload unknown: %v", err)
	}
}

// unloadingBinder unloads its format from inside the reader factory, the
// window between lookup and codec construction.
type unloadingBinder struct {
	memBinder
	reg       *Registry
	unloadErr error
	nilReader bool
}

func (b *unloadingBinder) Bind(loader *dynlib.Loader, lib *dynlib.Library, format string) (Format, error) {
	f, err := b.memBinder.Bind(loader, lib, format)
	newReader := f.NewReader
	f.NewReader = func() ReaderImpl {
		if b.nilReader {
			return nil
		}
		b.unloadErr = b.reg.Unload(format)
		return newReader()
	}
	return f, err
}

func TestRegistryUnloadDuringCreateKeepsLibrary(t *testing.T) {
	img := newMemImage(2, 1, 1, typedesc.TypeUInt8)
	binder := &unloadingBinder{memBinder: memBinder{img: img}}
	r, fb := newPluginRegistry(t, pluginDir(t, "fake"), binder)
	binder.reg = r
	rd, err := r.CreateReader("x.fake")
	if err != nil {
		t.Fatal(err)
	}
	if binder.unloadErr != nil {
		t.Fatal(binder.unloadErr)
	}
	if fb.closes != 0 {
		t.Fatal("library released while a reader was being built from it")
	}
	if _, err := rd.Open("mem", nil); err != nil {
		t.Fatal(err)
	}
	rd.Destroy()
	if fb.closes != 1 {
		t.Fatalf("closes=%d after destroy", fb.closes)
	}
}

func TestRegistryFailedFactoryDropsReference(t *testing.T) {
	img := newMemImage(2, 1, 1, typedesc.TypeUInt8)
	binder := &unloadingBinder{memBinder: memBinder{img: img}, nilReader: true}
	r, fb := newPluginRegistry(t, pluginDir(t, "fake"), binder)
	binder.reg = r
	if _, err := r.CreateReader("x.fake"); !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
	if _, _, err := r.OpenReader("x.fake", nil); err == nil {
		t.Fatal("open succeeded without a reader")
	}
	if err := r.Unload("fake"); err != nil {
		t.Fatal(err)
	}
	if fb.closes != 1 {
		t.Fatalf("library kept alive by a failed factory, closes=%d", fb.closes)
	}
}

func TestRegistryCloseDefersWhileLive(t *testing.T) {
	img := newMemImage(2, 1, 1, typedesc.TypeUInt8)
	r, fb := newPluginRegistry(t, pluginDir(t, "fake"), &memBinder{img: img})
	w, err := r.CreateWriter("x.fake")
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Close(); err != nil {
		t.Fatal(err)
	}
	if fb.closes != 0 {
		t.Fatal("registry close released a library in use")
	}
	w.Destroy()
	if fb.closes != 1 {
		t.Fatalf("closes=%d", fb.closes)
	}
	if _, err := r.CreateReader("x.fake"); !errors.Is(err, ErrState) {
		t.Fatalf("lookup after close: %v", err)
	}
}

func TestRegistryConcurrentLookups(t *testing.T) {
	img := newMemImage(2, 1, 1, typedesc.TypeUInt8)
	dir := pluginDir(t, "fake")
	binder := &memBinder{img: img}
	r, fb := newPluginRegistry(t, dir, binder)
	r.Declare(memFormat(img))
	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := "a.mem"
			if i%2 == 1 {
				name = "a.fake"
			}
			rd, err := r.CreateReader(name)
			if err != nil {
				errs <- err
				return
			}
			if _, err := rd.Open("mem", nil); err != nil {
				errs <- err
			}
			rd.Destroy()
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatal(err)
	}
	path := filepath.Join(dir, "fake."+dynlib.PluginExtension())
	if fb.opens[path] != 1 {
		t.Fatalf("opens=%d", fb.opens[path])
	}
}

func TestSplitREST(t *testing.T) {
	name, args, err := SplitREST("tex.null?RES=64x64&TYPE=half&PIXEL=0.5%2C1")
	if err != nil {
		t.Fatal(err)
	}
	if name != "tex.null" || args.Len() != 3 {
		t.Fatalf("name=%q len=%d", name, args.Len())
	}
	if args.GetString("PIXEL", "") != "0.5,1" {
		t.Fatalf("PIXEL=%q", args.GetString("PIXEL", ""))
	}
	name, args, err = SplitREST("plain.exr")
	if err != nil || name != "plain.exr" || args.Len() != 0 {
		t.Fatalf("plain: %q %d %v", name, args.Len(), err)
	}
	for _, bad := range []string{"?a=b", "x.null?novalue", "x.null?=v", "x.null?a=%zz"} {
		if _, _, err := SplitREST(bad); !errors.Is(err, ErrInvalidFile) {
			t.Fatalf("%q: expected ErrInvalidFile, got %v", bad, err)
		}
	}
}
