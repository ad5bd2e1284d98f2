package migration

import (
	"encoding/json"
	"fmt"
	"io"
)

// MetadataEntryName is the archive entry holding the export description.
const MetadataEntryName = "export.json"

// Metadata is the content of export.json.
type Metadata struct {
	Version        string                         `json:"version"`
	ProductVersion string                         `json:"product.version"`
	Date           string                         `json:"date,omitempty"`
	ReportID       string                         `json:"id,omitempty"`
	Migratables    map[string]*MigratableMetadata `json:"migratables"`
}

// MigratableMetadata describes what one component exported.
type MigratableMetadata struct {
	Version          string                   `json:"version"`
	Name             string                   `json:"name"`
	Description      string                   `json:"description,omitempty"`
	Organization     string                   `json:"organization,omitempty"`
	Externals        []ExternalMetadata       `json:"externals,omitempty"`
	Folders          []FolderMetadata         `json:"folders,omitempty"`
	SystemProperties []SystemPropertyMetadata `json:"system.properties,omitempty"`
	JavaProperties   []JavaPropertyMetadata   `json:"java.properties,omitempty"`
}

// ExternalMetadata describes a file that was not embedded. Optional marks a
// file that did not exist at export time and was not required.
type ExternalMetadata struct {
	Name     string `json:"name"`
	Checksum string `json:"checksum,omitempty"`
	Softlink bool   `json:"softlink,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Optional bool   `json:"optional,omitempty"`
}

// FolderMetadata lists the files stored for a directory. LastModified is
// in unix milliseconds.
type FolderMetadata struct {
	Name         string   `json:"name"`
	Filtered     bool     `json:"filtered,omitempty"`
	Files        []string `json:"files"`
	LastModified int64    `json:"last-modified,omitempty"`
}

type SystemPropertyMetadata struct {
	Property  string `json:"property"`
	Reference string `json:"reference"`
}

type JavaPropertyMetadata struct {
	Name      string `json:"name"`
	Property  string `json:"property"`
	Reference string `json:"reference"`
}

func encodeMetadata(w io.Writer, md *Metadata) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(md)
}

func decodeMetadata(r io.Reader) (*Metadata, error) {
	var md Metadata
	if err := json.NewDecoder(r).Decode(&md); err != nil {
		return nil, fmt.Errorf("invalid %s: %w", MetadataEntryName, err)
	}
	if md.Migratables == nil {
		md.Migratables = map[string]*MigratableMetadata{}
	}
	return &md, nil
}
