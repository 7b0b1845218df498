package main

import (
	"bytes"
	"encoding/hex"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/zeebo/blake3"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/builtin"
	"github.com/logicossoftware/go-imageio/config"
	"github.com/logicossoftware/go-imageio/typedesc"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv(config.EnvConfig, "")
	t.Setenv(imageio.EnvLibraryPath, "")
}

func writePNG(t *testing.T, path string) []byte {
	t.Helper()
	reg := builtin.New(imageio.WithoutEnvSearchPath())
	defer reg.Close()
	w, err := reg.CreateWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	defer w.Destroy()
	spec := imageio.NewImageSpec(4, 2, 3, typedesc.TypeUInt8)
	px := make([]byte, 4*2*3)
	for i := range px {
		px[i] = byte(i * 9)
	}
	if err := w.Open(path, spec, imageio.Create); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteImage(typedesc.TypeUInt8, px); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return px
}

func TestDescribe(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "small.png")
	px := writePNG(t, path)

	var out, errOut bytes.Buffer
	if err := run([]string{"-v", "--hash", path}, &out, &errOut); err != nil {
		t.Fatalf("run: %v (%s)", err, errOut.String())
	}
	s := out.String()
	sum := blake3.Sum256(px)
	for _, want := range []string{
		path + " :    4 x    2, 3 channel, uint8 png",
		"channel list: R, G, B",
		"pixel data: 24 B",
		"BLAKE3: " + hex.EncodeToString(sum[:]),
	} {
		if !strings.Contains(s, want) {
			t.Fatalf("output lacks %q:\n%s", want, s)
		}
	}
}

func TestList(t *testing.T) {
	isolate(t)
	var out bytes.Buffer
	if err := run([]string{"--list"}, &out, &bytes.Buffer{}); err != nil {
		t.Fatal(err)
	}
	s := out.String()
	for _, want := range []string{"pxc: read pxc write pxc", "webp: read webp\n", "jpeg: read jpg,"} {
		if !strings.Contains(s, want) {
			t.Fatalf("output lacks %q:\n%s", want, s)
		}
	}
}

func TestFailures(t *testing.T) {
	isolate(t)
	var out, errOut bytes.Buffer
	missing := filepath.Join(t.TempDir(), "missing.png")
	if err := run([]string{missing}, &out, &errOut); !errors.Is(err, errFailed) {
		t.Fatalf("expected errFailed, got %v", err)
	}
	if !strings.Contains(errOut.String(), missing) {
		t.Fatalf("stderr=%q", errOut.String())
	}
	if err := run(nil, &out, &errOut); err == nil {
		t.Fatal("no files accepted")
	}
	if err := run([]string{"--bogus"}, &out, &errOut); err == nil {
		t.Fatal("unknown flag accepted")
	}
}
