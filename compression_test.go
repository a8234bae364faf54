//nolint:errcheck // Test cleanup error handling is intentionally ignored
package sheetsql

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/klauspost/compress/zstd"
	"github.com/nao1215/sheetsql/domain/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ulikunitz/xz"
)

func TestCompressionHandler(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name            string
		compressionType model.CompressionType
		extension       string
		canWrite        bool
	}{
		{name: "none", compressionType: model.CompressionNone, extension: "", canWrite: true},
		{name: "gzip", compressionType: model.CompressionGZ, extension: ".gz", canWrite: true},
		{name: "bzip2", compressionType: model.CompressionBZ2, extension: ".bz2", canWrite: false},
		{name: "xz", compressionType: model.CompressionXZ, extension: ".xz", canWrite: true},
		{name: "zstd", compressionType: model.CompressionZSTD, extension: ".zst", canWrite: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			handler := NewCompressionHandler(tt.compressionType)
			assert.Equal(t, tt.extension, handler.Extension())

			var compressed bytes.Buffer
			writer, cleanup, err := handler.CreateWriter(&compressed)
			if !tt.canWrite {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			_, err = writer.Write([]byte("Region,Amount\nEast,10\n"))
			require.NoError(t, err)
			require.NoError(t, cleanup())

			reader, cleanup, err := handler.CreateReader(&compressed)
			require.NoError(t, err)
			defer cleanup()

			got, err := io.ReadAll(reader)
			require.NoError(t, err)
			assert.Equal(t, "Region,Amount\nEast,10\n", string(got))
		})
	}
}

func TestCompressionHandler_InvalidInput(t *testing.T) {
	t.Parallel()

	for _, ct := range []model.CompressionType{model.CompressionGZ, model.CompressionXZ} {
		ct := ct
		t.Run(ct.String(), func(t *testing.T) {
			t.Parallel()
			_, _, err := NewCompressionHandler(ct).CreateReader(bytes.NewReader([]byte("not compressed")))
			assert.Error(t, err)
		})
	}
}

func TestOpenWorkbook_Compressed(t *testing.T) {
	t.Parallel()

	const content = "Region,Amount\nEast,10\nWest,5\n"
	dir := t.TempDir()

	var xzBuf bytes.Buffer
	xzWriter, err := xz.NewWriter(&xzBuf)
	require.NoError(t, err)
	_, _ = xzWriter.Write([]byte(content))
	require.NoError(t, xzWriter.Close())

	var zstBuf bytes.Buffer
	zstWriter, err := zstd.NewWriter(&zstBuf)
	require.NoError(t, err)
	_, _ = zstWriter.Write([]byte(content))
	require.NoError(t, zstWriter.Close())

	files := map[string][]byte{
		"sales.csv.xz":  xzBuf.Bytes(),
		"sales.csv.zst": zstBuf.Bytes(),
	}

	for name, data := range files {
		name := name
		data := data
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			path := filepath.Join(dir, name)
			require.NoError(t, os.WriteFile(path, data, 0o600))

			src, err := OpenWorkbook(context.Background(), path)
			require.NoError(t, err)
			defer src.Close()

			assert.Equal(t, []string{"sales"}, src.Workbook().SheetNames())
			rows, err := ReadRows(context.Background(), src, "sales", 1, 0)
			require.NoError(t, err)
			require.Len(t, rows, 3)
			assert.Equal(t, model.Record{"West", "5"}, rows[2])
		})
	}
}

func TestCreateCompressedFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "out.csv.gz")
	w, cleanup, err := createCompressedFile(path, model.CompressionGZ)
	require.NoError(t, err)
	_, err = w.Write([]byte("a\n1\n"))
	require.NoError(t, err)
	require.NoError(t, cleanup())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	plain, err := decompress(path, data)
	require.NoError(t, err)
	assert.Equal(t, "a\n1\n", string(plain))
}
