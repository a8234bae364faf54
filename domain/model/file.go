package model

import (
	"path/filepath"
	"strings"
)

// FileType represents supported source file types
type FileType int

const (
	// FileTypeCSV represents CSV file type
	FileTypeCSV FileType = iota
	// FileTypeTSV represents TSV file type
	FileTypeTSV
	// FileTypeLTSV represents LTSV file type
	FileTypeLTSV
	// FileTypeParquet represents Parquet file type
	FileTypeParquet
	// FileTypeXLSX represents Excel workbook file type
	FileTypeXLSX
	// FileTypeUnsupported represents unsupported file type
	FileTypeUnsupported
)

// File extensions
const (
	// ExtCSV is the CSV file extension
	ExtCSV = ".csv"
	// ExtTSV is the TSV file extension
	ExtTSV = ".tsv"
	// ExtLTSV is the LTSV file extension
	ExtLTSV = ".ltsv"
	// ExtParquet is the Parquet file extension
	ExtParquet = ".parquet"
	// ExtXLSX is the Excel workbook extension
	ExtXLSX = ".xlsx"
	// ExtXLSM is the macro-enabled workbook extension; macros are never run
	ExtXLSM = ".xlsm"
	// ExtJSON is the JSON file extension (export only)
	ExtJSON = ".json"
	// ExtJSONL is the JSON Lines file extension (export only)
	ExtJSONL = ".jsonl"
	// ExtGZ is the gzip compression extension
	ExtGZ = ".gz"
	// ExtBZ2 is the bzip2 compression extension
	ExtBZ2 = ".bz2"
	// ExtXZ is the xz compression extension
	ExtXZ = ".xz"
	// ExtZSTD is the zstd compression extension
	ExtZSTD = ".zst"
)

// String returns the lower-case file type name.
func (ft FileType) String() string {
	switch ft {
	case FileTypeCSV:
		return "csv"
	case FileTypeTSV:
		return "tsv"
	case FileTypeLTSV:
		return "ltsv"
	case FileTypeParquet:
		return "parquet"
	case FileTypeXLSX:
		return "xlsx"
	default:
		return "unsupported"
	}
}

// IsWorkbook reports whether the type holds several sheets.
func (ft FileType) IsWorkbook() bool {
	return ft == FileTypeXLSX
}

// DetectCompression returns the compression implied by the path suffix.
func DetectCompression(path string) CompressionType {
	lower := strings.ToLower(path)
	switch {
	case strings.HasSuffix(lower, ExtGZ):
		return CompressionGZ
	case strings.HasSuffix(lower, ExtBZ2):
		return CompressionBZ2
	case strings.HasSuffix(lower, ExtXZ):
		return CompressionXZ
	case strings.HasSuffix(lower, ExtZSTD):
		return CompressionZSTD
	default:
		return CompressionNone
	}
}

// TrimCompressionExt removes a trailing compression extension.
func TrimCompressionExt(path string) string {
	ext := DetectCompression(path).Extension()
	if ext == "" {
		return path
	}
	return path[:len(path)-len(ext)]
}

// DetectFileType detects file type from extension, considering compressed files.
// Workbooks and Parquet files are never accepted in compressed form.
func DetectFileType(path string) FileType {
	compressed := DetectCompression(path) != CompressionNone
	ext := strings.ToLower(filepath.Ext(TrimCompressionExt(path)))
	switch ext {
	case ExtCSV:
		return FileTypeCSV
	case ExtTSV:
		return FileTypeTSV
	case ExtLTSV:
		return FileTypeLTSV
	case ExtParquet:
		if compressed {
			return FileTypeUnsupported
		}
		return FileTypeParquet
	case ExtXLSX, ExtXLSM:
		if compressed {
			return FileTypeUnsupported
		}
		return FileTypeXLSX
	default:
		return FileTypeUnsupported
	}
}

// IsSupportedFile checks if the file has a supported extension
func IsSupportedFile(path string) bool {
	return DetectFileType(path) != FileTypeUnsupported
}

// SheetNameFromPath derives the single sheet name of a flat file:
// the base name without compression and format extensions.
func SheetNameFromPath(path string) string {
	name := filepath.Base(TrimCompressionExt(path))
	return strings.TrimSuffix(name, filepath.Ext(name))
}
