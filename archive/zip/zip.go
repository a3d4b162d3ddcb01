// Package zip reads ZIP archives forward-only, one local file entry at a
// time, handing each entry's decompressed body to a caller-supplied
// function as it streams past. It never seeks to the central directory:
// entries are discovered purely from their local headers, which lets it
// process archives arriving over a pipe.
package zip

import (
	"bufio"
	"compress/flate"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"

	opentracing "github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"
	log15 "gopkg.in/inconshreveable/log15.v2"
)

// Signatures for the record types a forward scan can encounter. Only
// sigLocalFile opens an entry; sigDataDescriptor optionally starts the
// trailer of a streamed entry; the rest mark the start of the central
// directory, where this reader stops.
const (
	sigLocalFile                 = 0x04034b50
	sigCentralDir                = 0x02014b50
	sigEndCentralDir             = 0x06054b50
	sigZip64EndCentralDir        = 0x06064b50
	sigZip64EndCentralDirLocator = 0x07064b50
	sigExtraData                 = 0x08064b50
	sigDataDescriptor            = 0x08074b50
)

const (
	tagZip64       = 0x0001
	tagUnicodePath = 0x7075
)

const (
	methodStore   = 0
	methodDeflate = 8
)

// Flag bits within the general purpose bit flag field.
const (
	flagEncrypted      = 1 << 0
	flagDataDescriptor = 1 << 3
	flagPatched        = 1 << 5
	flagUTF8           = 1 << 11
)

// Action tells ForEachEntry whether to keep scanning the archive after an
// entry's callback returns.
type Action int

const (
	Continue Action = iota
	Stop
)

// EntryFunc is called once per archive entry. entryErr is non-nil when the
// entry itself couldn't be read as a usable compressed stream (an
// encrypted, patched, or unrecognized-method entry) — body is nil in that
// case. Returning a non-nil error aborts ForEachEntry immediately with
// that error.
type EntryFunc func(name string, body io.Reader, entryErr error) (Action, error)

// ForEachEntry scans r as a ZIP archive, calling f once per local file
// entry in archive order, until the central directory is reached, f
// returns Stop, or an error occurs.
func ForEachEntry(ctx context.Context, r io.Reader, f EntryFunc) (err error) {
	span, _ := opentracing.StartSpanFromContext(ctx, "ForEachEntry")
	ext.Component.Set(span, "zip")
	defer func() {
		if err != nil {
			ext.Error.Set(span, true)
			span.SetTag("err", err.Error())
		}
		span.Finish()
	}()

	br := bufio.NewReader(r)
	entries := 0

	for {
		sig, rerr := readUint32(br)
		if rerr != nil {
			return ioError(rerr)
		}
		switch sig {
		case sigLocalFile:
			// fall through to parse the header below
		case sigCentralDir, sigEndCentralDir, sigZip64EndCentralDir,
			sigZip64EndCentralDirLocator, sigExtraData:
			span.SetTag("entries", entries)
			return nil
		default:
			return &Error{Kind: KindUnknownRecord, Record: sig}
		}

		action, rerr := readEntry(br, f)
		if rerr != nil {
			return rerr
		}
		entries++
		if action == Stop {
			span.SetTag("entries", entries)
			return nil
		}
	}
}

func readEntry(br *bufio.Reader, f EntryFunc) (Action, error) {
	version, err := readUint16(br)
	if err != nil {
		return Continue, ioError(err)
	}
	flags, err := readUint16(br)
	if err != nil {
		return Continue, ioError(err)
	}
	method, err := readUint16(br)
	if err != nil {
		return Continue, ioError(err)
	}
	if _, err := readUint16(br); err != nil { // last-modified time
		return Continue, ioError(err)
	}
	if _, err := readUint16(br); err != nil { // last-modified date
		return Continue, ioError(err)
	}
	if _, err := readUint32(br); err != nil { // crc-32 (re-read from the data descriptor when streamed)
		return Continue, ioError(err)
	}
	compressed32, err := readUint32(br)
	if err != nil {
		return Continue, ioError(err)
	}
	uncompressed32, err := readUint32(br)
	if err != nil {
		return Continue, ioError(err)
	}
	nameLen, err := readUint16(br)
	if err != nil {
		return Continue, ioError(err)
	}
	extraLen, err := readUint16(br)
	if err != nil {
		return Continue, ioError(err)
	}

	nameBuf := make([]byte, nameLen)
	if _, err := io.ReadFull(br, nameBuf); err != nil {
		return Continue, ioError(err)
	}
	extraBuf := make([]byte, extraLen)
	if _, err := io.ReadFull(br, extraBuf); err != nil {
		return Continue, ioError(err)
	}

	// A truncated extra field is not fatal to the overall scan: it only
	// means zip64/unicode-path metadata is unavailable for this entry.
	extra, extraErr := parseExtra(extraBuf, nameBuf)
	if extraErr != nil {
		log15.Debug("zip: truncated extra field, ignoring", "name", string(nameBuf), "err", extraErr)
	}

	compressed := uint64(compressed32)
	uncompressed := uint64(uncompressed32)
	if extra.zip64 != nil {
		if uncompressed == 0xffffffff {
			uncompressed = extra.zip64.uncompressed
		}
		if compressed == 0xffffffff {
			compressed = extra.zip64.compressed
		}
	}
	_ = uncompressed

	name := entryName(flags, nameBuf, extra)

	var methodErr error
	switch {
	case version > 45:
		methodErr = &Error{Kind: KindNewerVersionNeeded, Version: version}
	case flags&flagEncrypted != 0:
		methodErr = &Error{Kind: KindEncrypted}
	case flags&flagPatched != 0:
		methodErr = &Error{Kind: KindPatched}
	case method != methodStore && method != methodDeflate:
		methodErr = &Error{Kind: KindUnknownMethod, Method: method}
	}

	if flags&flagDataDescriptor != 0 {
		return readStreamedEntry(br, f, name, method, methodErr, extra.zip64 != nil)
	}
	return readSizedEntry(br, f, name, method, methodErr, compressed)
}

// entryName resolves an entry's display name from its raw bytes, following
// spec.md's priority: the UTF-8 general-purpose flag first, then a
// validated Info-ZIP Unicode Path extra field, then legacy CP437.
func entryName(flags uint16, nameBuf []byte, extra extraFields) string {
	switch {
	case flags&flagUTF8 != 0:
		return string(nameBuf)
	case extra.unicodePath != nil:
		return string(extra.unicodePath)
	default:
		return cp437Decode(nameBuf)
	}
}

// readSizedEntry handles an entry whose compressed size is known from its
// local header, reading exactly that many bytes regardless of what the
// callback consumes.
func readSizedEntry(br *bufio.Reader, f EntryFunc, name string, method uint16, methodErr error, compressed uint64) (Action, error) {
	data := io.LimitReader(br, int64(compressed))

	var (
		action Action
		err    error
	)
	switch {
	case methodErr != nil:
		action, err = f(name, nil, methodErr)
	case method == methodStore:
		action, err = f(name, data, nil)
	default: // methodDeflate
		fr := flate.NewReader(data)
		action, err = f(name, fr, nil)
		fr.Close()
	}
	if err != nil {
		return Continue, err
	}
	if action == Stop {
		return Stop, nil
	}
	if _, err := io.Copy(io.Discard, data); err != nil {
		return Continue, ioError(err)
	}
	return Continue, nil
}

// readStreamedEntry handles an entry whose size was unknown at the local
// header (general purpose bit 3 set): the compressed size, uncompressed
// size, and CRC-32 instead trail the entry as a data descriptor record.
// Only deflate-compressed streamed entries are resumable; stored and
// unrecognized-method streamed entries have no way to locate the data
// descriptor without decompressing, so spec.md treats them as a hard
// UnknownDataSize error, matching the original implementation.
func readStreamedEntry(br *bufio.Reader, f EntryFunc, name string, method uint16, methodErr error, hasZip64 bool) (Action, error) {
	if methodErr != nil {
		if _, err := f(name, nil, methodErr); err != nil {
			return Continue, err
		}
		return Continue, &Error{Kind: KindUnknownDataSize}
	}
	if method == methodStore {
		if _, err := f(name, nil, &Error{Kind: KindUnknownDataSize}); err != nil {
			return Continue, err
		}
		return Continue, &Error{Kind: KindUnknownDataSize}
	}

	// cr counts bytes pulled from br by the deflate decoder. It exposes
	// ReadByte so flate.NewReader reads directly from it one byte at a
	// time instead of wrapping it in its own look-ahead buffer, which
	// would otherwise consume bytes belonging to the trailing data
	// descriptor before we get to parse it.
	cr := &countingReader{r: br}
	fr := flate.NewReader(cr)
	action, err := f(name, fr, nil)
	if err != nil {
		return Continue, err
	}
	if action == Stop {
		return Stop, nil
	}
	if _, err := io.Copy(io.Discard, fr); err != nil {
		return Continue, ioError(err)
	}
	fr.Close()

	total := cr.n

	sigOrCRC, err := readUint32(br)
	if err != nil {
		return Continue, ioError(err)
	}
	if sigOrCRC == sigDataDescriptor {
		if _, err := readUint32(br); err != nil { // crc-32
			return Continue, ioError(err)
		}
	}

	var gotCompressed uint64
	if !hasZip64 {
		c, err := readUint32(br)
		if err != nil {
			return Continue, ioError(err)
		}
		gotCompressed = uint64(c)
		if _, err := readUint32(br); err != nil { // uncompressed size
			return Continue, ioError(err)
		}
	} else {
		gotCompressed, err = readUint64(br)
		if err != nil {
			return Continue, ioError(err)
		}
		if _, err := readUint64(br); err != nil { // uncompressed size
			return Continue, ioError(err)
		}
	}

	if total != gotCompressed {
		return Continue, &Error{Kind: KindDataDescriptorMismatch}
	}
	return Continue, nil
}

type countingReader struct {
	r *bufio.Reader
	n uint64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += uint64(n)
	return n, err
}

func (c *countingReader) ReadByte() (byte, error) {
	b, err := c.r.ReadByte()
	if err == nil {
		c.n++
	}
	return b, err
}

func readUint16(r io.Reader) (uint16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

func readUint32(r io.Reader) (uint32, error) {
	var buf [4]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

func readUint64(r io.Reader) (uint64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

type zip64Extra struct {
	uncompressed uint64
	compressed   uint64
}

type extraFields struct {
	unicodePath []byte
	zip64       *zip64Extra
}

// parseExtra walks the local header's extra field records, picking out the
// zip64 sizes extra (tag 0x0001) and a CRC-validated Info-ZIP Unicode Path
// extra (tag 0x7075); unrecognized tags are skipped. A declared record
// size that runs past the end of buf is not an error by itself (mirroring
// the upstream implementation, which treats that case as having simply
// reached the end of the usable extra data); io.ErrUnexpectedEOF is
// returned only for a record header cut short (fewer than 4 bytes left)
// or a known tag whose own fixed-width fields don't fit.
func parseExtra(buf, nameBuf []byte) (extraFields, error) {
	var extra extraFields
	for len(buf) > 0 {
		if len(buf) < 4 {
			return extra, io.ErrUnexpectedEOF
		}
		tag := binary.LittleEndian.Uint16(buf[0:2])
		size := int(binary.LittleEndian.Uint16(buf[2:4]))
		buf = buf[4:]

		avail := size
		if avail > len(buf) {
			avail = len(buf)
		}
		data := buf[:avail]

		switch tag {
		case tagZip64:
			if len(data) < 16 {
				return extra, io.ErrUnexpectedEOF
			}
			extra.zip64 = &zip64Extra{
				uncompressed: binary.LittleEndian.Uint64(data[0:8]),
				compressed:   binary.LittleEndian.Uint64(data[8:16]),
			}
		case tagUnicodePath:
			if len(data) < 5 {
				return extra, io.ErrUnexpectedEOF
			}
			if data[0] == 1 {
				crc := binary.LittleEndian.Uint32(data[1:5])
				if crc == crc32.ChecksumIEEE(nameBuf) {
					extra.unicodePath = data[5:]
				}
			}
		}

		buf = buf[avail:]
	}
	return extra, nil
}
