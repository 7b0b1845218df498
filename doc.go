// Package imageio presents image file formats through one codec interface.
//
// Every format implements [ReaderImpl] and/or [WriterImpl]. A [Registry]
// maps file extensions and format names to those implementations and
// hands out [Reader] and [Writer] values wrapped in [GuardReader] and
// [GuardWriter], which enforce the codec state machine:
//
//	CLOSED --Open--> OPEN --ReadScanline/ReadTile/...--> OPEN --Close--> CLOSED
//
// Data calls on a CLOSED codec fail with [ErrState] and touch nothing.
// Opening an OPEN codec first resets it. Close always leaves the codec
// CLOSED. Every failure is also kept in the codec's error channel, read
// with LastError.
//
// Optional features are queried by name with Supports, using the
// capability constants ([CapTiles], [CapMultiImage], ...). Unknown names
// are simply unsupported.
//
// # Plugins
//
// Formats not declared up front are looked up in the plugin search path
// (see [WithSearchPath] and [EnvLibraryPath]) as shared libraries named
// <format>.<suffix>, where suffix is so, dylib or dll. A plugin exports
// the C entry points described by [CABIBinder]. Libraries stay loaded
// while any codec created from them is alive, even across [Registry.Unload]
// and [Registry.Close].
//
// # Basic Usage
//
//	r := builtin.Default()
//	in, spec, err := r.OpenReader("depth.zfile", nil)
//	if err != nil {
//		return err
//	}
//	defer in.Destroy()
//	buf := make([]byte, spec.ImageBytes(typedesc.TypeFloat))
//	err = in.ReadImage(typedesc.TypeFloat, buf)
//
// Filenames may carry REST-style arguments, for example
// "pattern.null?RES=640x480&TYPE=half", which reach the reader as config
// attributes.
//
// # Security Considerations
//
// [Limits] cap dimensions, channel counts and pixel bytes before any
// allocation sized from file contents. Readers accept per-open overrides
// through the imageio:max_* config attributes.
package imageio
