// Command iinfo prints the resolution, channels, pixel format and
// metadata of image files, or lists the formats the registry knows.
//
//	iinfo [-v] [--hash] [--list] [--searchpath dir] files...
//
// Settings come from the file named by IMAGEIO_CONFIG, if set.
package main

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"
	"github.com/zeebo/blake3"

	imageio "github.com/logicossoftware/go-imageio"
	"github.com/logicossoftware/go-imageio/builtin"
	"github.com/logicossoftware/go-imageio/config"
	"github.com/logicossoftware/go-imageio/typedesc"
)

// errFailed reports that at least one file could not be read. The
// message for each was already printed.
var errFailed = errors.New("some files could not be read")

type options struct {
	verbose    bool
	hash       bool
	list       bool
	searchPath []string
}

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if !errors.Is(err, errFailed) {
			fmt.Fprintf(os.Stderr, "iinfo: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(args []string, stdout, stderr io.Writer) error {
	var o options
	fs := pflag.NewFlagSet("iinfo", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.BoolVarP(&o.verbose, "verbose", "v", false, "print channel names and metadata")
	fs.BoolVar(&o.hash, "hash", false, "print a BLAKE3 digest of the native pixels")
	fs.BoolVar(&o.list, "list", false, "list known formats and their extensions")
	fs.StringSliceVar(&o.searchPath, "searchpath", nil, "extra plugin directories")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if !o.list && fs.NArg() == 0 {
		fmt.Fprintln(stderr, "usage: iinfo [-v] [--hash] [--list] [--searchpath dir] files...")
		fs.PrintDefaults()
		return errors.New("no files given")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger, err := cfg.LoggerTo(stderr)
	if err != nil {
		return err
	}
	opts := cfg.Options(logger)
	if len(o.searchPath) > 0 {
		opts = append(opts, imageio.WithSearchPath(o.searchPath...))
	}
	reg := builtin.New(opts...)
	defer reg.Close()

	if o.list {
		listFormats(stdout, reg)
	}
	failed := false
	for _, name := range fs.Args() {
		if err := describe(stdout, reg, name, o); err != nil {
			fmt.Fprintf(stderr, "iinfo: %s: %v\n", name, err)
			failed = true
		}
	}
	if failed {
		return errFailed
	}
	return nil
}

func listFormats(w io.Writer, reg *imageio.Registry) {
	for _, fi := range reg.Formats() {
		fmt.Fprintf(w, "%s:", fi.Name)
		if len(fi.InputExtensions) > 0 {
			fmt.Fprintf(w, " read %s", strings.Join(fi.InputExtensions, ","))
		}
		if len(fi.OutputExtensions) > 0 {
			fmt.Fprintf(w, " write %s", strings.Join(fi.OutputExtensions, ","))
		}
		if fi.LibraryVersion != "" {
			fmt.Fprintf(w, " (%s)", fi.LibraryVersion)
		}
		if fi.Plugin != "" {
			fmt.Fprintf(w, " [%s]", fi.Plugin)
		}
		fmt.Fprintln(w)
	}
}

func describe(w io.Writer, reg *imageio.Registry, name string, o options) error {
	r, spec, err := reg.OpenReader(name, nil)
	if err != nil {
		return err
	}
	defer r.Destroy()

	fmt.Fprintf(w, "%s : %4d x %4d", name, spec.Width, spec.Height)
	if spec.Depth > 1 {
		fmt.Fprintf(w, " x %4d", spec.Depth)
	}
	fmt.Fprintf(w, ", %d channel, %s %s\n", spec.NChannels, formatString(&spec), r.FormatName())

	if o.verbose {
		fmt.Fprintf(w, "    channel list: %s\n", strings.Join(spec.ChannelNames, ", "))
		if spec.Tiled() {
			fmt.Fprintf(w, "    tile size: %d x %d x %d\n", spec.TileWidth, spec.TileHeight, spec.TileDepth)
		}
		if spec.X != 0 || spec.Y != 0 || spec.Z != 0 {
			fmt.Fprintf(w, "    origin: %d, %d, %d\n", spec.X, spec.Y, spec.Z)
		}
		if spec.FullWidth != spec.Width || spec.FullHeight != spec.Height || spec.FullX != spec.X || spec.FullY != spec.Y {
			fmt.Fprintf(w, "    full/display size: %d x %d at %d, %d\n", spec.FullWidth, spec.FullHeight, spec.FullX, spec.FullY)
		}
		fmt.Fprintf(w, "    pixel data: %s\n", humanize.IBytes(spec.ImageBytes()))
		for _, v := range spec.Attributes.All() {
			fmt.Fprintf(w, "    %s: %s\n", v.Name(), v.Format())
		}
	}

	if o.hash {
		sum, err := pixelHash(r, &spec)
		if err != nil {
			return fmt.Errorf("hash: %w", err)
		}
		fmt.Fprintf(w, "    BLAKE3: %s\n", sum)
	}
	return nil
}

// formatString names the pixel format, listing per-channel formats when
// they differ.
func formatString(spec *imageio.ImageSpec) string {
	if len(spec.ChannelFormats) == 0 {
		return spec.Format.String()
	}
	names := make([]string, spec.NChannels)
	for c := range names {
		names[c] = spec.ChannelFormat(c).String()
	}
	return strings.Join(names, "/")
}

// pixelHash digests the image in its native layout. Images too large to
// allocate in one piece are refused by the registry limits before this.
func pixelHash(r imageio.Reader, spec *imageio.ImageSpec) (string, error) {
	buf := make([]byte, spec.ImageBytes(typedesc.TypeUnknown))
	if err := r.ReadImage(typedesc.TypeUnknown, buf); err != nil {
		return "", err
	}
	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:]), nil
}
