// Package openocd implements probe.Connection on top of OpenOCD's Tcl RPC
// server (port 6666 by default).
//
// Every command is sent wrapped in a Tcl catch so that errors come back
// in-band as "<rc> <result>"; a non-zero rc becomes a *CommandError.
//
// Images are downloaded by writing RAM directly, by "flash write_image" from
// a temporary file, or by a Flasher such as the gdb package's. With
// SkipUnchanged the target memory is compared first and the download is
// skipped when it already holds the image.
package openocd
