package strategy

import "strings"

// Module describes a deterministic QC module that can run without generated code.
type Module struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Version     string   `json:"version"`
	Inputs      []string `json:"inputs"`
	Outputs     []string `json:"outputs"`
}

// modules is kept sorted by name.
var modules = []Module{
	{
		Name:        "barcode_validator",
		Description: "Validate cell barcodes and UMIs against whitelist",
		Version:     "0.1.0",
		Inputs:      []string{"*.fastq.gz", "*.fastq"},
		Outputs:     []string{"barcode_report.json", "barcode_distribution.csv"},
	},
	{
		Name:        "read_structure_checker",
		Description: "Validate read lengths and segment positions against expected structure",
		Version:     "0.1.0",
		Inputs:      []string{"*.fastq.gz", "*.fastq"},
		Outputs:     []string{"read_structure_report.json"},
	},
	{
		Name:        "sequencing_health",
		Description: "Check overall sequencing quality metrics",
		Version:     "0.1.0",
		Inputs:      []string{"*.fastq.gz", "*.fastq", "*.bam"},
		Outputs:     []string{"sequencing_health_report.json"},
	},
}

// Modules lists the registered QC modules sorted by name.
func Modules() []Module {
	return append([]Module(nil), modules...)
}

// LookupModule finds a module by name.
func LookupModule(name string) (Module, bool) {
	name = strings.TrimSpace(name)
	for _, m := range modules {
		if m.Name == name {
			return m, true
		}
	}
	return Module{}, false
}

func moduleCatalog() string {
	var b strings.Builder
	for _, m := range modules {
		b.WriteString("- ")
		b.WriteString(m.Name)
		b.WriteString(": ")
		b.WriteString(m.Description)
		b.WriteString(" (inputs ")
		b.WriteString(strings.Join(m.Inputs, ", "))
		b.WriteString(")\n")
	}
	return b.String()
}
