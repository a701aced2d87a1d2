// Package artifacts turns catalog records into build input: the source files
// of compiled-from-source records or the module bytes of prebuilt records.
//
// Records with a local origin are read from their folder, after running the
// record's build step when one is declared. Records with a remote origin are
// downloaded once per revision and kept under
// <cache dir>/artifacts/<sha256(id@revision)>/ with a meta.json holding the
// checksum, size and download time. A cached artifact whose checksum no
// longer matches is downloaded again.
package artifacts
