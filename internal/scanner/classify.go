package scanner

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

var compressionSuffixes = []struct {
	suffix string
	kind   string
}{
	{".gz", "gzip"},
	{".bz2", "bzip2"},
	{".xz", "xz"},
	{".zst", "zstd"},
}

// cellRangerMarkers are the top-level entries that identify a CellRanger outs directory.
var cellRangerMarkers = map[string]struct{}{
	"metrics_summary.csv":        {},
	"web_summary.html":           {},
	"filtered_feature_bc_matrix": {},
	"raw_feature_bc_matrix":      {},
	"possorted_genome_bam.bam":   {},
}

var (
	illuminaPattern = regexp.MustCompile(`^([^_]+)_(S\d+)_(L\d+)_(R[12])_(\d+)\.fastq(\.gz)?$`)
	samplePattern   = regexp.MustCompile(`^([^_.]+)`)
)

// Classify returns the file type implied by a file name.
func Classify(name string) FileType {
	lower := strings.ToLower(name)
	switch lower {
	case "metrics_summary.csv":
		return FileTypeMetricsCSV
	case "web_summary.html":
		return FileTypeWebSummary
	}

	base := strings.TrimSuffix(lower, ".gz")
	switch {
	case strings.HasSuffix(base, ".fastq"), strings.HasSuffix(base, ".fq"):
		return FileTypeFASTQ
	case strings.HasSuffix(base, ".vcf"), strings.HasSuffix(lower, ".bcf"):
		return FileTypeVCF
	case strings.HasSuffix(base, ".bed"):
		return FileTypeBED
	case strings.HasSuffix(base, ".gtf"), strings.HasSuffix(base, ".gff"), strings.HasSuffix(base, ".gff3"):
		return FileTypeGTF
	}
	switch {
	case strings.HasSuffix(lower, ".bam"):
		return FileTypeBAM
	case strings.HasSuffix(lower, ".sam"):
		return FileTypeSAM
	case strings.HasSuffix(lower, ".cram"):
		return FileTypeCRAM
	}
	return FileTypeUnknown
}

// DetectCompression reports whether name carries a known compression suffix.
func DetectCompression(name string) (bool, string) {
	lower := strings.ToLower(name)
	for _, c := range compressionSuffixes {
		if strings.HasSuffix(lower, c.suffix) {
			return true, c.kind
		}
	}
	return false, ""
}

// ParsedName holds the fields recovered from a FASTQ file name. Unknown fields are nil.
type ParsedName struct {
	Sample  *string
	Barcode *string
	Lane    *string
	Read    *int
}

// ParseFASTQName extracts sample, barcode, lane, and read number from a file name.
// Illumina names (sample_S1_L001_R1_001.fastq.gz) are parsed fully; other names
// yield the leading token as the sample and a read number from _R1/_r1/.R1 markers.
func ParseFASTQName(name string) ParsedName {
	var parsed ParsedName
	if m := illuminaPattern.FindStringSubmatch(name); m != nil {
		parsed.Sample = ptr(m[1])
		parsed.Barcode = ptr(m[2])
		parsed.Lane = ptr(m[3])
		if n, err := strconv.Atoi(m[4][1:]); err == nil {
			parsed.Read = &n
		}
		return parsed
	}
	if m := samplePattern.FindStringSubmatch(name); m != nil {
		parsed.Sample = ptr(m[1])
	}
	switch {
	case containsAny(name, "_R1", "_r1", ".R1"):
		parsed.Read = ptr(1)
	case containsAny(name, "_R2", "_r2", ".R2"):
		parsed.Read = ptr(2)
	}
	return parsed
}

// HumanSize renders bytes with one decimal in B, KB, MB, GB, TB, or PB.
func HumanSize(size int64) string {
	value := float64(size)
	for _, unit := range []string{"B", "KB", "MB", "GB", "TB"} {
		if value < 1024 && value > -1024 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024
	}
	return fmt.Sprintf("%.1f PB", value)
}

func containsAny(s string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(s, n) {
			return true
		}
	}
	return false
}

func ptr[T any](v T) *T {
	return &v
}
