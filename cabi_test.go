package imageio_test

import (
	"encoding/binary"
	"errors"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/builtin"
	"github.com/logicossoftware/go-imageio/dynlib"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// cCompiler returns the C compiler cgo would use, or skips the test.
func cCompiler(t *testing.T) string {
	t.Helper()
	if testing.Short() {
		t.Skip("builds shared libraries")
	}
	if runtime.GOOS != "linux" && runtime.GOOS != "darwin" {
		t.Skipf("no plugin loading on %s", runtime.GOOS)
	}
	gobin, err := exec.LookPath("go")
	if err != nil {
		t.Skip("go tool not found")
	}
	out, err := exec.Command(gobin, "env", "CGO_ENABLED", "CC").Output()
	if err != nil {
		t.Skipf("go env: %v", err)
	}
	fields := strings.Fields(string(out))
	if len(fields) < 2 || fields[0] != "1" {
		t.Skip("cgo disabled")
	}
	cc, err := exec.LookPath(fields[1])
	if err != nil {
		t.Skipf("C compiler %s not found", fields[1])
	}
	return cc
}

var (
	nullPluginOnce sync.Once
	nullPluginDir  string
	nullPluginErr  error
)

// nullPlugin builds cmd/nullplugin once per test binary and returns the
// directory holding it.
func nullPlugin(t *testing.T) string {
	t.Helper()
	cCompiler(t)
	nullPluginOnce.Do(func() {
		dir, err := os.MkdirTemp("", "imageio-plugin-")
		if err != nil {
			nullPluginErr = err
			return
		}
		out := filepath.Join(dir, "null."+dynlib.PluginExtension())
		cmd := exec.Command("go", "build", "-buildmode=c-shared", "-o", out, "./cmd/nullplugin")
		if b, err := cmd.CombinedOutput(); err != nil {
			nullPluginErr = errors.New(string(b))
			return
		}
		nullPluginDir = dir
	})
	if nullPluginErr != nil {
		t.Fatalf("building plugin: %v", nullPluginErr)
	}
	return nullPluginDir
}

func pluginRegistry(dir string) (*imageio.Registry, *dynlib.Loader) {
	loader := dynlib.NewLoader()
	return builtin.New(imageio.WithoutEnvSearchPath(), imageio.WithSearchPath(dir), imageio.WithLoader(loader)), loader
}

func TestNullPluginReads(t *testing.T) {
	dir := nullPlugin(t)
	reg, loader := pluginRegistry(dir)

	r, spec, err := reg.OpenReader("x.null?RES=4x2&CHANNELS=3&TYPE=uint8&PIXEL=0,0.5,1", nil)
	if err != nil {
		t.Fatal(err)
	}
	if r.FormatName() != "null" || !r.Supports(imageio.CapTiles) {
		t.Fatalf("format=%s", r.FormatName())
	}
	if spec.Width != 4 || spec.Height != 2 || spec.NChannels != 3 || spec.Format != typedesc.TypeUInt8 {
		t.Fatalf("spec=%+v", spec)
	}
	line := make([]byte, spec.ScanlineBytes(typedesc.TypeUnknown))
	if err := r.ReadScanline(1, 0, typedesc.TypeUnknown, line); err != nil {
		t.Fatal(err)
	}
	if line[0] != 0 || line[1] != 128 || line[2] != 255 {
		t.Fatalf("native pixel=%v", line[:3])
	}
	px := make([]byte, spec.ImageBytes(typedesc.TypeFloat))
	if err := r.ReadImage(typedesc.TypeFloat, px); err != nil {
		t.Fatal(err)
	}
	want := []float32{0, 128.0 / 255, 1}
	for i := 0; i < len(px)/4; i++ {
		f := math.Float32frombits(binary.NativeEndian.Uint32(px[4*i:]))
		if math.Abs(float64(f-want[i%3])) > 1e-6 {
			t.Fatalf("value %d = %v", i, f)
		}
	}
	r.Destroy()

	r, spec, err = reg.OpenReader("t.null?RES=4x4&TILE=2x2&CHANNELS=1&TYPE=float&PIXEL=0.25", nil)
	if err != nil {
		t.Fatal(err)
	}
	tile := make([]byte, spec.TileBytes(typedesc.TypeUnknown))
	if err := r.ReadTile(2, 2, 0, typedesc.TypeUnknown, tile); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < len(tile); i += 4 {
		if f := math.Float32frombits(binary.NativeEndian.Uint32(tile[i:])); f != 0.25 {
			t.Fatalf("tile value %d = %v", i/4, f)
		}
	}
	r.Destroy()

	if _, _, err := reg.OpenReader("bad.null?RES=-1", nil); err == nil || !strings.Contains(err.Error(), "null plugin") {
		t.Fatalf("plugin error not carried: %v", err)
	}

	var info imageio.FormatInfo
	for _, fi := range reg.Formats() {
		if fi.Name == "null" {
			info = fi
		}
	}
	path := filepath.Join(dir, "null."+dynlib.PluginExtension())
	if info.Plugin != path || info.LibraryVersion != "null 1.0" || len(info.InputExtensions) != 2 {
		t.Fatalf("info=%+v", info)
	}
	if err := reg.Close(); err != nil {
		t.Fatal(err)
	}
	if n := loader.OpenCount(path); n != 0 {
		t.Fatalf("library still open %d times", n)
	}
}

func TestNullPluginWrites(t *testing.T) {
	reg, _ := pluginRegistry(nullPlugin(t))
	defer reg.Close()

	w, err := reg.CreateWriter("out.null")
	if err != nil {
		t.Fatal(err)
	}
	defer w.Destroy()
	if w.Supports(imageio.CapRectangles) || !w.Supports(imageio.CapAppendSubimage) {
		t.Fatal("capabilities wrong")
	}
	spec := imageio.NewImageSpec(4, 4, 2, typedesc.TypeHalf)
	spec.TileWidth, spec.TileHeight = 2, 2
	spec.Attributes.SetString("Software", "test")
	if err := w.Open("out.null", spec, imageio.Create); err != nil {
		t.Fatal(err)
	}
	if got := w.Spec(); got.Format != typedesc.TypeHalf || got.Attributes.GetString("Software", "") != "test" {
		t.Fatalf("spec=%+v", got)
	}
	if err := w.WriteImage(typedesc.TypeFloat, make([]byte, 4*4*2*4)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteTile(0, 0, 0, typedesc.TypeUnknown, make([]byte, 2*2*2*2)); !errors.Is(err, imageio.ErrState) {
		t.Fatalf("write after close: %v", err)
	}
}

func TestPluginVersionMismatch(t *testing.T) {
	cc := cCompiler(t)
	dir := t.TempDir()
	src := filepath.Join(dir, "old.c")
	if err := os.WriteFile(src, []byte("int old_imageio_version(void) { return 99; }\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	lib := filepath.Join(dir, "old."+dynlib.PluginExtension())
	if b, err := exec.Command(cc, "-shared", "-fPIC", "-o", lib, src).CombinedOutput(); err != nil {
		t.Skipf("cannot build C library: %v\n%s", err, b)
	}

	loader := dynlib.NewLoader()
	l, err := loader.Open(lib)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := imageio.CABIBinder().Bind(loader, l, "old"); !errors.Is(err, imageio.ErrPluginVersion) || !strings.Contains(err.Error(), "reports 99") {
		t.Fatalf("expected ErrPluginVersion, got %v", err)
	}
	if err := loader.Close(l); err != nil {
		t.Fatal(err)
	}

	// Through the registry the rejected library is closed again.
	reg := builtin.New(imageio.WithoutEnvSearchPath(), imageio.WithSearchPath(dir), imageio.WithLoader(loader))
	defer reg.Close()
	if _, err := reg.CreateReader("x.old"); !errors.Is(err, imageio.ErrUnknownFormat) {
		t.Fatalf("expected ErrUnknownFormat, got %v", err)
	}
	if n := loader.OpenCount(lib); n != 0 {
		t.Fatalf("rejected library still open %d times", n)
	}
}
