package ingest

import (
	"fmt"
	"path/filepath"
	"strings"
)

// Hard safety cap applied regardless of the configured MaxFileSize.
const maliciousSizeCap = 100 * 1024 * 1024

var suspiciousExtensions = map[string]bool{
	".exe": true, ".bat": true, ".cmd": true, ".com": true,
	".scr": true, ".pif": true, ".vbs": true, ".js": true,
}

var contentTypeExtensions = map[string][]string{
	"text/plain":    {".txt", ".md", ".csv"},
	"text/markdown": {".md"},
	"text/csv":      {".csv"},
}

// processing rate estimates, relative to 1 MB/s
var typeMultipliers = map[string]float64{
	".txt": 1.0,
	".md":  1.2,
	".csv": 1.5,
}

// ValidationReport is the outcome of pre-upload validation. A file with a
// non-empty Errors list is rejected; warnings do not block the upload.
type ValidationReport struct {
	Valid             bool     `json:"is_valid"`
	Errors            []string `json:"errors,omitempty"`
	Warnings          []string `json:"warnings,omitempty"`
	Extension         string   `json:"file_extension"`
	EstimatedSeconds  float64  `json:"estimated_processing_time"`
	SupportedFeatures []string `json:"supported_features,omitempty"`
}

// FileValidator checks uploads before any bytes are persisted.
type FileValidator struct {
	maxFileSize int64
	supported   map[string]bool
}

func NewFileValidator(maxFileSize int64, supportedExtensions []string) *FileValidator {
	supported := make(map[string]bool, len(supportedExtensions))
	for _, ext := range supportedExtensions {
		supported[ext] = true
	}
	return &FileValidator{maxFileSize: maxFileSize, supported: supported}
}

// Validate checks size, extension, content-type hints, and malicious-file
// heuristics. A content-type mismatch is a warning, not a rejection.
func (v *FileValidator) Validate(filename string, fileSize int64, contentType string) *ValidationReport {
	report := &ValidationReport{Extension: strings.ToLower(filepath.Ext(filename))}

	if fileSize > v.maxFileSize {
		report.Errors = append(report.Errors,
			fmt.Sprintf("file size %d bytes exceeds maximum %d bytes", fileSize, v.maxFileSize))
	}
	if !v.supported[report.Extension] {
		report.Errors = append(report.Errors,
			fmt.Sprintf("unsupported file format: %s", report.Extension))
	}

	if contentType != "" {
		if expected, ok := contentTypeExtensions[contentType]; ok && !contains(expected, report.Extension) {
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("content type %s does not match file extension %s", contentType, report.Extension))
		}
	}

	if isPotentiallyMalicious(filename, fileSize) {
		report.Errors = append(report.Errors, "file appears to be potentially malicious")
	}

	report.EstimatedSeconds = estimateProcessingSeconds(fileSize, report.Extension)
	report.SupportedFeatures = supportedFeatures(report.Extension)
	report.Valid = len(report.Errors) == 0
	return report
}

func isPotentiallyMalicious(filename string, fileSize int64) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	if suspiciousExtensions[ext] {
		return true
	}
	// Double extensions like report.pdf.exe.
	if strings.Count(filename, ".") > 1 {
		return true
	}
	return fileSize > maliciousSizeCap
}

func estimateProcessingSeconds(fileSize int64, ext string) float64 {
	const baseRate = 1024 * 1024 // bytes per second

	multiplier, ok := typeMultipliers[ext]
	if !ok {
		multiplier = 1.5
	}
	estimate := float64(fileSize) / baseRate * multiplier
	return min(estimate, 300)
}

func supportedFeatures(ext string) []string {
	features := []string{"text_extraction", "chunking", "embedding"}
	switch ext {
	case ".md":
		features = append(features, "markdown_rendering")
	case ".csv":
		features = append(features, "table_parsing", "data_analysis")
	}
	return features
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
