package manifest

import (
	"fmt"
	"strings"

	"aco/internal/scanner"
)

const documentExcerptRunes = 500

// ToLLMContext renders the manifest as markdown for prompts.
func (m *Manifest) ToLLMContext() string {
	var b strings.Builder
	intake := m.UserIntake

	b.WriteString("## Experiment Description\n")
	b.WriteString(intake.ExperimentDescription)
	b.WriteString("\n")
	writeOptional(&b, "Goals", intake.Goals)
	writeOptional(&b, "Known Issues/Concerns", intake.KnownIssues)

	if len(intake.Documents) > 0 {
		b.WriteString("\n## Referenced Documentation\n")
		for _, doc := range intake.Documents {
			fmt.Fprintf(&b, "- %s\n", doc.Filename)
			if doc.Description != nil && *doc.Description != "" {
				fmt.Fprintf(&b, "  Description: %s\n", *doc.Description)
			}
			if doc.ExtractedText != nil && *doc.ExtractedText != "" {
				fmt.Fprintf(&b, "  Content: %s...\n", excerpt(*doc.ExtractedText, documentExcerptRunes))
			}
		}
	}

	if scan := m.ScanResult; scan != nil {
		b.WriteString("\n## Discovered Files\n")
		fmt.Fprintf(&b, "Scanned: %s\n", scan.ScanPath)
		fmt.Fprintf(&b, "Total files: %d\n", scan.TotalFiles)
		fmt.Fprintf(&b, "Total size: %s\n", scan.TotalSizeHuman)
		if len(scan.Samples) > 0 {
			fmt.Fprintf(&b, "Samples: %s\n", strings.Join(scan.Samples, ", "))
		}

		if scan.FastqCount > 0 {
			fmt.Fprintf(&b, "\n### FASTQ Files (%d)\n", scan.FastqCount)
			for _, f := range scan.FilesOfType(scanner.FileTypeFASTQ) {
				fmt.Fprintf(&b, "- %s (%s)\n", f.Filename, f.SizeHuman)
				if f.SampleName != nil {
					fmt.Fprintf(&b, "  Sample: %s\n", *f.SampleName)
				}
			}
		}
		if scan.BamCount > 0 {
			fmt.Fprintf(&b, "\n### Alignment Files (%d)\n", scan.BamCount)
			for _, f := range scan.Files {
				switch f.FileType {
				case scanner.FileTypeBAM, scanner.FileTypeSAM, scanner.FileTypeCRAM:
					fmt.Fprintf(&b, "- %s (%s)\n", f.Filename, f.SizeHuman)
				}
			}
		}
		if scan.OtherCount > 0 {
			fmt.Fprintf(&b, "\n### Other Files (%d)\n", scan.OtherCount)
			for _, f := range scan.Files {
				switch f.FileType {
				case scanner.FileTypeFASTQ, scanner.FileTypeBAM, scanner.FileTypeSAM, scanner.FileTypeCRAM:
				default:
					fmt.Fprintf(&b, "- %s [%s] (%s)\n", f.Filename, f.FileType, f.SizeHuman)
				}
			}
		}
		if len(scan.Directories) > 0 {
			b.WriteString("\n### Special Directories\n")
			for _, d := range scan.Directories {
				fmt.Fprintf(&b, "- %s (%s)\n", d.Name, d.DirType)
				fmt.Fprintf(&b, "  Files: %d, Size: %s\n", d.FileCount, d.TotalSizeHuman)
			}
		}
	}

	writeOptional(&b, "Additional Notes", intake.AdditionalNotes)
	return strings.TrimSpace(b.String())
}

func writeOptional(b *strings.Builder, heading string, value *string) {
	if value == nil || strings.TrimSpace(*value) == "" {
		return
	}
	fmt.Fprintf(b, "\n## %s\n%s\n", heading, strings.TrimSpace(*value))
}

func excerpt(s string, limit int) string {
	r := []rune(s)
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}
