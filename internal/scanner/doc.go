// Package scanner walks a target directory and inventories sequencing data.
//
// Files are classified by name (FASTQ, BAM/SAM/CRAM, VCF/BCF, BED, GTF/GFF,
// CellRanger metrics and web summaries). Anything else is counted but not
// listed. CellRanger output bundles (any directory named outs, or one holding
// at least two CellRanger markers) are summarised as a single DirectoryMetadata
// and not descended into; their top-level files are still classified.
//
// FASTQ names are parsed for sample, barcode, lane, and read number using the
// Illumina convention with a best-effort fallback. Parsing never fails.
//
// Scanning is read-only. Unreadable subdirectories become warnings; a missing
// or non-directory root is a validation error.
package scanner
