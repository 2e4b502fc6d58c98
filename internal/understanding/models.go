package understanding

import (
	"time"

	"aco/internal/services/llm"
)

// ExperimentTypes lists the accepted experiment_type values.
var ExperimentTypes = []string{
	"bulk_rna_seq", "single_cell_rna_seq", "single_cell_atac_seq", "single_cell_multiome",
	"whole_genome_seq", "whole_exome_seq", "targeted_seq", "amplicon_seq", "chip_seq",
	"atac_seq", "methylation_seq", "spatial_transcriptomics", "long_read_seq",
	"metagenomics", "other",
}

// AssayPlatforms lists the accepted assay_platform values.
var AssayPlatforms = []string{
	"illumina_novaseq", "illumina_nextseq", "illumina_miseq", "illumina_hiseq",
	"pacbio_sequel", "pacbio_revio", "ont_minion", "ont_promethion", "10x_chromium",
	"10x_visium", "parse_biosciences", "scale_bio", "unknown",
}

// Segment types, severities, and check priorities.
var (
	SegmentTypes    = []string{"barcode", "umi", "insert", "linker", "index", "other"}
	Severities      = []string{"info", "warning", "critical"}
	CheckPriorities = []string{"required", "recommended", "optional"}
)

// ReadSegment is one region of a sequencing read.
type ReadSegment struct {
	Name          string  `json:"name" jsonschema:"Segment name such as Cell Barcode or UMI"`
	SegmentType   string  `json:"segment_type"`
	StartPosition int     `json:"start_position" jsonschema:"1-based start position"`
	EndPosition   int     `json:"end_position" jsonschema:"1-based inclusive end position"`
	Length        int     `json:"length" jsonschema:"Segment length in bp"`
	ReadNumber    int     `json:"read_number" jsonschema:"Read carrying the segment: 1 or 2, 3 and 4 for index reads"`
	Description   *string `json:"description,omitempty"`
	WhitelistFile *string `json:"whitelist_file,omitempty" jsonschema:"Barcode whitelist file name if applicable"`
}

// ReadStructure describes how reads of one library are laid out.
type ReadStructure struct {
	AssayName    string        `json:"assay_name"`
	LibraryType  string        `json:"library_type,omitempty" jsonschema:"Library within a multimodal experiment such as gex, adt, hto, atac"`
	ReadSegments []ReadSegment `json:"read_segments" jsonschema:"Ordered segments across all reads"`
	TotalReads   int           `json:"total_reads" jsonschema:"Number of reads per fragment, 2 for paired end"`
	Notes        *string       `json:"notes,omitempty"`
}

// AssayStructure summarises library preparation parameters.
type AssayStructure struct {
	LibraryType        string  `json:"library_type"`
	ReadConfiguration  *string `json:"read_configuration,omitempty" jsonschema:"Read configuration such as 28+90"`
	ExpectedReadLength *int    `json:"expected_read_length,omitempty"`
	IndexType          *string `json:"index_type,omitempty"`
	UMIPresent         bool    `json:"umi_present"`
	UMILength          *int    `json:"umi_length,omitempty"`
	CellBarcodeLength  *int    `json:"cell_barcode_length,omitempty"`
	ReferenceGenome    *string `json:"reference_genome,omitempty"`
	AnnotationVersion  *string `json:"annotation_version,omitempty"`
}

// SampleInfo describes one sample.
type SampleInfo struct {
	SampleID  string   `json:"sample_id"`
	Condition *string  `json:"condition,omitempty"`
	Replicate *int     `json:"replicate,omitempty"`
	Files     []string `json:"files"`
}

// QualityConcern flags a potential problem with the data.
type QualityConcern struct {
	Title           string   `json:"title"`
	Description     string   `json:"description"`
	Severity        string   `json:"severity"`
	AffectedFiles   []string `json:"affected_files"`
	SuggestedAction *string  `json:"suggested_action,omitempty"`
}

// RecommendedCheck is a QC check worth running.
type RecommendedCheck struct {
	Name            string  `json:"name"`
	Description     string  `json:"description"`
	Priority        string  `json:"priority"`
	Tool            *string `json:"tool,omitempty"`
	CommandTemplate *string `json:"command_template,omitempty"`
	ExpectedOutput  *string `json:"expected_output,omitempty"`
}

// draft is the part of an understanding the model authors.
type draft struct {
	ExperimentType           string             `json:"experiment_type"`
	ExperimentTypeConfidence float64            `json:"experiment_type_confidence" jsonschema:"Confidence between 0 and 1"`
	Reasoning                string             `json:"reasoning" jsonschema:"Evidence behind the experiment type"`
	AssayName                string             `json:"assay_name"`
	AssayPlatform            string             `json:"assay_platform"`
	AssayStructure           *AssayStructure    `json:"assay_structure,omitempty"`
	ReadStructure            *ReadStructure     `json:"read_structure,omitempty"`
	AdditionalReadStructures []ReadStructure    `json:"additional_read_structures,omitempty"`
	Samples                  []SampleInfo       `json:"samples"`
	SampleCount              int                `json:"sample_count"`
	KeyParameters            map[string]string  `json:"key_parameters,omitempty"`
	QualityConcerns          []QualityConcern   `json:"quality_concerns"`
	RecommendedChecks        []RecommendedCheck `json:"recommended_checks"`
	Summary                  string             `json:"summary"`
}

var draftSchema = llm.MustSchemaFor[draft](map[string][]string{
	"experiment_type": ExperimentTypes,
	"assay_platform":  AssayPlatforms,
	"read_structure.read_segments.segment_type":             SegmentTypes,
	"additional_read_structures.read_segments.segment_type": SegmentTypes,
	"quality_concerns.severity":                             Severities,
	"recommended_checks.priority":                           CheckPriorities,
})

// ExperimentUnderstanding is the approved-or-pending interpretation of a run.
type ExperimentUnderstanding struct {
	ExperimentType           string             `json:"experiment_type"`
	ExperimentTypeConfidence float64            `json:"experiment_type_confidence"`
	Reasoning                string             `json:"reasoning"`
	AssayName                string             `json:"assay_name"`
	AssayPlatform            string             `json:"assay_platform"`
	AssayStructure           *AssayStructure    `json:"assay_structure"`
	ReadStructure            *ReadStructure     `json:"read_structure"`
	AdditionalReadStructures []ReadStructure    `json:"additional_read_structures"`
	Samples                  []SampleInfo       `json:"samples"`
	SampleCount              int                `json:"sample_count"`
	KeyParameters            map[string]string  `json:"key_parameters"`
	QualityConcerns          []QualityConcern   `json:"quality_concerns"`
	RecommendedChecks        []RecommendedCheck `json:"recommended_checks"`
	Summary                  string             `json:"summary"`
	GeneratedAt              time.Time          `json:"generated_at"`
	ModelUsed                string             `json:"model_used"`
	IsApproved               bool               `json:"is_approved"`
	ApprovedAt               *time.Time         `json:"approved_at"`
	UserEdits                map[string]string  `json:"user_edits"`
}

func (d draft) understanding(model string, at time.Time) *ExperimentUnderstanding {
	u := &ExperimentUnderstanding{
		ExperimentType:           d.ExperimentType,
		ExperimentTypeConfidence: clamp01(d.ExperimentTypeConfidence),
		Reasoning:                d.Reasoning,
		AssayName:                d.AssayName,
		AssayPlatform:            d.AssayPlatform,
		AssayStructure:           d.AssayStructure,
		ReadStructure:            d.ReadStructure,
		AdditionalReadStructures: d.AdditionalReadStructures,
		Samples:                  d.Samples,
		SampleCount:              d.SampleCount,
		KeyParameters:            d.KeyParameters,
		QualityConcerns:          d.QualityConcerns,
		RecommendedChecks:        d.RecommendedChecks,
		Summary:                  d.Summary,
		GeneratedAt:              at,
		ModelUsed:                model,
	}
	u.normalize()
	return u
}

// normalize fills empty collections and derived fields.
func (u *ExperimentUnderstanding) normalize() {
	if u.Samples == nil {
		u.Samples = []SampleInfo{}
	}
	if u.SampleCount == 0 {
		u.SampleCount = len(u.Samples)
	}
	if u.AdditionalReadStructures == nil {
		u.AdditionalReadStructures = []ReadStructure{}
	}
	if u.KeyParameters == nil {
		u.KeyParameters = map[string]string{}
	}
	if u.QualityConcerns == nil {
		u.QualityConcerns = []QualityConcern{}
	}
	if u.RecommendedChecks == nil {
		u.RecommendedChecks = []RecommendedCheck{}
	}
	if u.UserEdits == nil {
		u.UserEdits = map[string]string{}
	}
	if u.ReadStructure != nil {
		fillLengths(u.ReadStructure.ReadSegments)
	}
	for i := range u.AdditionalReadStructures {
		fillLengths(u.AdditionalReadStructures[i].ReadSegments)
	}
}

func fillLengths(segments []ReadSegment) {
	for i := range segments {
		s := &segments[i]
		if s.Length == 0 && s.EndPosition >= s.StartPosition && s.StartPosition > 0 {
			s.Length = s.EndPosition - s.StartPosition + 1
		}
		if s.ReadNumber == 0 {
			s.ReadNumber = 1
		}
	}
}

func clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}
