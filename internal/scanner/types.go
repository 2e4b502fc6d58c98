package scanner

import "time"

// FileType is the classification assigned to a discovered file.
type FileType string

const (
	FileTypeFASTQ      FileType = "fastq"
	FileTypeBAM        FileType = "bam"
	FileTypeSAM        FileType = "sam"
	FileTypeCRAM       FileType = "cram"
	FileTypeVCF        FileType = "vcf"
	FileTypeBED        FileType = "bed"
	FileTypeGTF        FileType = "gtf"
	FileTypeMetricsCSV FileType = "metrics_csv"
	FileTypeWebSummary FileType = "web_summary"
	FileTypeUnknown    FileType = "unknown"
)

// DirTypeCellRanger tags CellRanger output bundles.
const DirTypeCellRanger = "cellranger_outs"

// FileMetadata describes one classified file.
type FileMetadata struct {
	Path            string    `json:"path"`
	Filename        string    `json:"filename"`
	FileType        FileType  `json:"file_type"`
	SizeBytes       int64     `json:"size_bytes"`
	SizeHuman       string    `json:"size_human"`
	ModifiedAt      time.Time `json:"modified_at"`
	IsCompressed    bool      `json:"is_compressed"`
	CompressionType *string   `json:"compression_type"`
	ParentDir       string    `json:"parent_dir"`
	SampleName      *string   `json:"sample_name"`
	ReadNumber      *int      `json:"read_number"`
	Lane            *string   `json:"lane"`
	Barcode         *string   `json:"barcode"`
}

// DirectoryMetadata summarises a bundle directory that is not enumerated file by file.
type DirectoryMetadata struct {
	Path           string   `json:"path"`
	Name           string   `json:"name"`
	DirType        string   `json:"dir_type"`
	TotalSizeBytes int64    `json:"total_size_bytes"`
	TotalSizeHuman string   `json:"total_size_human"`
	FileCount      int      `json:"file_count"`
	KeyFiles       []string `json:"key_files"`
}

// ScanResult is the inventory of one directory tree. It is replaced wholesale on rescan.
type ScanResult struct {
	ScanPath        string              `json:"scan_path"`
	ScannedAt       time.Time           `json:"scanned_at"`
	Files           []FileMetadata      `json:"files"`
	Directories     []DirectoryMetadata `json:"directories"`
	TotalFiles      int                 `json:"total_files"`
	TotalSizeBytes  int64               `json:"total_size_bytes"`
	TotalSizeHuman  string              `json:"total_size_human"`
	FastqCount      int                 `json:"fastq_count"`
	BamCount        int                 `json:"bam_count"`
	CellRangerCount int                 `json:"cellranger_count"`
	OtherCount      int                 `json:"other_count"`
	UnknownCount    int                 `json:"unknown_count"`
	Samples         []string            `json:"samples"`
	Warnings        []string            `json:"warnings"`
	ScanDurationMS  int64               `json:"scan_duration_ms"`
}

// FilesOfType returns the files classified as t, in scan order.
func (r *ScanResult) FilesOfType(t FileType) []FileMetadata {
	if r == nil {
		return nil
	}
	var out []FileMetadata
	for _, f := range r.Files {
		if f.FileType == t {
			out = append(out, f)
		}
	}
	return out
}
