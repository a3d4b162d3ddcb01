package zip

import (
	"bytes"
	"compress/flate"
	"context"
	"encoding/binary"
	"hash/crc32"
	"io"
	"io/ioutil"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseExtra(t *testing.T) {
	t.Run("empty", func(t *testing.T) {
		extra, err := parseExtra(nil, []byte("file.txt"))
		require.NoError(t, err)
		assert.Nil(t, extra.zip64)
		assert.Nil(t, extra.unicodePath)
	})

	t.Run("unknown tag is skipped", func(t *testing.T) {
		data := []byte{
			0x34, 0x12, 0x04, 0x00, 0xaa, 0xbb, 0xcc, 0xdd,
			0x78, 0x56, 0x02, 0x00, 0xee, 0xff,
		}
		extra, err := parseExtra(data, []byte("file.txt"))
		require.NoError(t, err)
		assert.Nil(t, extra.zip64)
		assert.Nil(t, extra.unicodePath)
	})

	t.Run("zip64 short form", func(t *testing.T) {
		data := []byte{
			0x01, 0x00, 0x10, 0x00,
			0x21, 0x43, 0x65, 0x87, 0x09, 0x00, 0x00, 0x00,
			0x89, 0x67, 0x45, 0x23, 0x01, 0x00, 0x00, 0x00,
		}
		extra, err := parseExtra(data, []byte("file.txt"))
		require.NoError(t, err)
		require.NotNil(t, extra.zip64)
		assert.Equal(t, uint64(0x987654321), extra.zip64.uncompressed)
		assert.Equal(t, uint64(0x123456789), extra.zip64.compressed)
		assert.Nil(t, extra.unicodePath)
	})

	t.Run("zip64 long form ignores trailing fields", func(t *testing.T) {
		data := []byte{
			0x01, 0x00, 0x1c, 0x00,
			0x21, 0x43, 0x65, 0x87, 0x09, 0x00, 0x00, 0x00,
			0x89, 0x67, 0x45, 0x23, 0x01, 0x00, 0x00, 0x00,
			0xef, 0xcd, 0xab, 0x00, 0x00, 0x00, 0x00, 0x00,
			0x01, 0x00, 0x00, 0x00,
		}
		extra, err := parseExtra(data, []byte("file.txt"))
		require.NoError(t, err)
		require.NotNil(t, extra.zip64)
		assert.Equal(t, uint64(0x987654321), extra.zip64.uncompressed)
		assert.Equal(t, uint64(0x123456789), extra.zip64.compressed)
		assert.Nil(t, extra.unicodePath)
	})

	t.Run("unicode path with matching crc", func(t *testing.T) {
		data := []byte{
			0x75, 0x70, 0x0d, 0x00,
			0x01, 0x25, 0x16, 0xf7, 0xe0,
			0x61, 0x73, 0x64, 0x66, 0x2e, 0x74, 0x78, 0x74,
		}
		extra, err := parseExtra(data, []byte("file.txt"))
		require.NoError(t, err)
		assert.Nil(t, extra.zip64)
		assert.Equal(t, []byte("asdf.txt"), extra.unicodePath)
	})

	t.Run("unicode path wrong version", func(t *testing.T) {
		data := []byte{
			0x75, 0x70, 0x0d, 0x00,
			0x02, 0x25, 0x16, 0xf7, 0xe0,
			0x61, 0x73, 0x64, 0x66, 0x2e, 0x74, 0x78, 0x74,
		}
		extra, err := parseExtra(data, []byte("file.txt"))
		require.NoError(t, err)
		assert.Nil(t, extra.zip64)
		assert.Nil(t, extra.unicodePath)
	})

	t.Run("unicode path wrong crc", func(t *testing.T) {
		data := []byte{
			0x75, 0x70, 0x0d, 0x00,
			0x01, 0x25, 0x16, 0xf7, 0xe1,
			0x61, 0x73, 0x64, 0x66, 0x2e, 0x74, 0x78, 0x74,
		}
		extra, err := parseExtra(data, []byte("file.txt"))
		require.NoError(t, err)
		assert.Nil(t, extra.zip64)
		assert.Nil(t, extra.unicodePath)
	})

	t.Run("both extras present", func(t *testing.T) {
		data := []byte{
			0x01, 0x00, 0x10, 0x00,
			0x21, 0x43, 0x65, 0x87, 0x09, 0x00, 0x00, 0x00,
			0x89, 0x67, 0x45, 0x23, 0x01, 0x00, 0x00, 0x00,
			0x75, 0x70, 0x0d, 0x00,
			0x01, 0x25, 0x16, 0xf7, 0xe0,
			0x61, 0x73, 0x64, 0x66, 0x2e, 0x74, 0x78, 0x74,
		}
		extra, err := parseExtra(data, []byte("file.txt"))
		require.NoError(t, err)
		require.NotNil(t, extra.zip64)
		assert.Equal(t, uint64(0x987654321), extra.zip64.uncompressed)
		assert.Equal(t, uint64(0x123456789), extra.zip64.compressed)
		assert.Equal(t, []byte("asdf.txt"), extra.unicodePath)
	})

	t.Run("both extras present reversed order", func(t *testing.T) {
		data := []byte{
			0x75, 0x70, 0x0d, 0x00,
			0x01, 0x25, 0x16, 0xf7, 0xe0,
			0x61, 0x73, 0x64, 0x66, 0x2e, 0x74, 0x78, 0x74,
			0x01, 0x00, 0x10, 0x00,
			0x21, 0x43, 0x65, 0x87, 0x09, 0x00, 0x00, 0x00,
			0x89, 0x67, 0x45, 0x23, 0x01, 0x00, 0x00, 0x00,
		}
		extra, err := parseExtra(data, []byte("file.txt"))
		require.NoError(t, err)
		require.NotNil(t, extra.zip64)
		assert.Equal(t, uint64(0x987654321), extra.zip64.uncompressed)
		assert.Equal(t, uint64(0x123456789), extra.zip64.compressed)
		assert.Equal(t, []byte("asdf.txt"), extra.unicodePath)
	})
}

// entryBuilder assembles a minimal, well-formed local file header plus body
// for test fixtures, since no precomputed binary ZIP fixtures shipped with
// this package's sources.
type entryBuilder struct {
	name       string
	flags      uint16
	method     uint16
	version    uint16
	body       []byte // stored or already-deflated bytes
	crc32      uint32
	compressed uint32 // defaults to len(body) when unset; ignored by the reader when streaming
}

func (e entryBuilder) write(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, uint32(sigLocalFile))
	binary.Write(buf, binary.LittleEndian, e.version)
	binary.Write(buf, binary.LittleEndian, e.flags)
	binary.Write(buf, binary.LittleEndian, e.method)
	binary.Write(buf, binary.LittleEndian, uint16(0)) // time
	binary.Write(buf, binary.LittleEndian, uint16(0)) // date
	binary.Write(buf, binary.LittleEndian, e.crc32)
	compressed := e.compressed
	if compressed == 0 {
		// body is already in its compressed form, so its length is the
		// compressed size.
		compressed = uint32(len(e.body))
	}
	binary.Write(buf, binary.LittleEndian, compressed)
	binary.Write(buf, binary.LittleEndian, uint32(len(e.body)))
	binary.Write(buf, binary.LittleEndian, uint16(len(e.name)))
	binary.Write(buf, binary.LittleEndian, uint16(0)) // extra len
	buf.WriteString(e.name)
	buf.Write(e.body)

	if e.flags&flagDataDescriptor != 0 {
		binary.Write(buf, binary.LittleEndian, uint32(sigDataDescriptor))
		binary.Write(buf, binary.LittleEndian, e.crc32)
		binary.Write(buf, binary.LittleEndian, uint32(len(e.body)))
		binary.Write(buf, binary.LittleEndian, e.compressed) // uncompressed size, unused by the reader
	}
}

func writeEOCD(buf *bytes.Buffer) {
	binary.Write(buf, binary.LittleEndian, uint32(sigEndCentralDir))
	buf.Write([]byte{0, 0, 0, 0})
}

func deflate(t *testing.T, content []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	require.NoError(t, err)
	_, err = w.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestForEachEntry_Stored(t *testing.T) {
	content := []byte("Hello, world!")
	var archive bytes.Buffer
	entryBuilder{
		name:   "hello.txt",
		method: methodStore,
		body:   content,
		crc32:  crc32.ChecksumIEEE(content),
	}.write(&archive)
	writeEOCD(&archive)

	var gotName string
	var gotBody []byte
	err := ForEachEntry(context.Background(), &archive, func(name string, body io.Reader, entryErr error) (Action, error) {
		gotName = name
		require.NoError(t, entryErr)
		data, err := ioutil.ReadAll(body)
		require.NoError(t, err)
		gotBody = data
		return Continue, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello.txt", gotName)
	assert.Equal(t, content, gotBody)
}

func TestForEachEntry_Deflate(t *testing.T) {
	content := []byte("Hello, world! Hello, world! Hello, world!")
	compressed := deflate(t, content)

	var archive bytes.Buffer
	entryBuilder{
		name:       "hello.txt",
		method:     methodDeflate,
		body:       compressed,
		compressed: uint32(len(compressed)),
		crc32:      crc32.ChecksumIEEE(content),
	}.write(&archive)
	writeEOCD(&archive)

	var gotBody []byte
	err := ForEachEntry(context.Background(), &archive, func(name string, body io.Reader, entryErr error) (Action, error) {
		require.NoError(t, entryErr)
		data, err := ioutil.ReadAll(body)
		require.NoError(t, err)
		gotBody = data
		return Continue, nil
	})
	require.NoError(t, err)
	assert.Equal(t, content, gotBody)
}

func TestForEachEntry_StreamingDeflate(t *testing.T) {
	content := []byte("Hello, world! streamed over a pipe with no prior seek")
	compressed := deflate(t, content)

	var archive bytes.Buffer
	entryBuilder{
		name:       "-",
		method:     methodDeflate,
		flags:      flagDataDescriptor,
		body:       compressed,
		compressed: uint32(len(compressed)),
		crc32:      crc32.ChecksumIEEE(content),
	}.write(&archive)
	writeEOCD(&archive)

	var gotName string
	var gotBody []byte
	err := ForEachEntry(context.Background(), &archive, func(name string, body io.Reader, entryErr error) (Action, error) {
		gotName = name
		require.NoError(t, entryErr)
		data, err := ioutil.ReadAll(body)
		require.NoError(t, err)
		gotBody = data
		return Continue, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "-", gotName)
	assert.Equal(t, content, gotBody)
}

func TestForEachEntry_Stop(t *testing.T) {
	var archive bytes.Buffer
	entryBuilder{name: "one.txt", method: methodStore, body: []byte("1")}.write(&archive)
	entryBuilder{name: "two.txt", method: methodStore, body: []byte("2")}.write(&archive)
	writeEOCD(&archive)

	var seen []string
	err := ForEachEntry(context.Background(), &archive, func(name string, body io.Reader, entryErr error) (Action, error) {
		seen = append(seen, name)
		return Stop, nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"one.txt"}, seen)
}

func TestForEachEntry_UnknownRecord(t *testing.T) {
	archive := bytes.NewBuffer([]byte{0xff, 0xff, 0xff, 0xff})
	err := ForEachEntry(context.Background(), archive, func(name string, body io.Reader, entryErr error) (Action, error) {
		t.Fatal("callback should not run")
		return Continue, nil
	})
	require.Error(t, err)
	zerr, ok := err.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindUnknownRecord, zerr.Kind)
}

func TestForEachEntry_Encrypted(t *testing.T) {
	var archive bytes.Buffer
	entryBuilder{
		name:   "secret.bin",
		method: methodStore,
		flags:  flagEncrypted,
		body:   []byte{0xde, 0xad, 0xbe, 0xef},
	}.write(&archive)
	writeEOCD(&archive)

	var gotErr error
	err := ForEachEntry(context.Background(), &archive, func(name string, body io.Reader, entryErr error) (Action, error) {
		gotErr = entryErr
		assert.Nil(t, body)
		return Continue, nil
	})
	require.NoError(t, err)
	require.Error(t, gotErr)
	zerr, ok := gotErr.(*Error)
	require.True(t, ok)
	assert.Equal(t, KindEncrypted, zerr.Kind)
}

func TestForEachEntry_CP437Fallback(t *testing.T) {
	var archive bytes.Buffer
	e := entryBuilder{method: methodStore, body: []byte("x")}
	e.name = string([]byte{0x80}) // cp437 0x80 -> U+00C7 'Ç', invalid as UTF-8 alone
	e.write(&archive)
	writeEOCD(&archive)

	var gotName string
	err := ForEachEntry(context.Background(), &archive, func(name string, body io.Reader, entryErr error) (Action, error) {
		gotName = name
		ioutil.ReadAll(body)
		return Continue, nil
	})
	require.NoError(t, err)
	assert.Equal(t, string(rune(0x00c7)), gotName)
}

func TestForEachEntry_UTF8Flag(t *testing.T) {
	var archive bytes.Buffer
	entryBuilder{
		name:   "héllo.txt",
		flags:  flagUTF8,
		method: methodStore,
		body:   []byte("x"),
	}.write(&archive)
	writeEOCD(&archive)

	var gotName string
	err := ForEachEntry(context.Background(), &archive, func(name string, body io.Reader, entryErr error) (Action, error) {
		gotName = name
		ioutil.ReadAll(body)
		return Continue, nil
	})
	require.NoError(t, err)
	assert.Equal(t, "héllo.txt", gotName)
}
