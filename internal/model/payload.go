package model

import "time"

// ChecksumSpec names a checksum algorithm and optional salt.
type ChecksumSpec struct {
	Algorithm string `json:"algorithm"`
	Salt      string `json:"salt,omitempty"`
}

// ChecksumData is an opaque checksum value as reported by a contributor.
type ChecksumData struct {
	FileID       string    `json:"file_id,omitempty"`
	Value        string    `json:"value"`
	CalculatedAt time.Time `json:"calculated_at,omitempty"`
}

// GetFileRequest asks one contributor to deliver a file to URL.
type GetFileRequest struct {
	URL string `json:"url"`
}

// GetFileIDsRequest asks contributors for the file ids they hold.
type GetFileIDsRequest struct {
	Queries []ContributorQuery `json:"queries,omitempty"`
}

// GetChecksumsRequest asks contributors for checksums of a file or of all files.
type GetChecksumsRequest struct {
	ChecksumSpec ChecksumSpec       `json:"checksum_spec"`
	Queries      []ContributorQuery `json:"queries,omitempty"`
	ResultURL    string             `json:"result_url,omitempty"`
}

// GetAuditTrailsRequest asks contributors for audit trail events.
type GetAuditTrailsRequest struct {
	Queries []ContributorQuery `json:"queries,omitempty"`
}

// PutFileRequest asks contributors to fetch and store a new file.
type PutFileRequest struct {
	URL             string        `json:"url"`
	Size            int64         `json:"size"`
	ChecksumForNew  *ChecksumData `json:"checksum_for_new,omitempty"`
	ChecksumRequest *ChecksumSpec `json:"checksum_request,omitempty"`
}

// ReplaceFileRequest asks contributors to replace an existing file.
type ReplaceFileRequest struct {
	URL                 string        `json:"url"`
	Size                int64         `json:"size"`
	ChecksumForExisting *ChecksumData `json:"checksum_for_existing,omitempty"`
	ChecksumForNew      *ChecksumData `json:"checksum_for_new,omitempty"`
}

// DeleteFileRequest asks contributors to delete a file.
type DeleteFileRequest struct {
	ChecksumForExisting *ChecksumData `json:"checksum_for_existing,omitempty"`
}

// ChecksumResult is returned by GetChecksums.
type ChecksumResult struct {
	Checksums []ChecksumData `json:"checksums"`
	Partial   bool           `json:"partial,omitempty"`
}

// FileIDsResult is returned by GetFileIDs.
type FileIDsResult struct {
	FileIDs []string `json:"file_ids"`
	Partial bool     `json:"partial,omitempty"`
}

// StatusResult is returned by GetStatus.
type StatusResult struct {
	Status    string    `json:"status"`
	Info      string    `json:"info,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// AuditTrailEvent is one entry of a contributor's audit trail.
type AuditTrailEvent struct {
	SequenceNumber int64     `json:"sequence_number"`
	FileID         string    `json:"file_id,omitempty"`
	Actor          string    `json:"actor"`
	Action         string    `json:"action"`
	Info           string    `json:"info,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

// AuditTrailResult is returned by GetAuditTrails.
type AuditTrailResult struct {
	Events  []AuditTrailEvent `json:"events"`
	Partial bool              `json:"partial,omitempty"`
}

// FileResult is returned by GetFile, PutFile and ReplaceFile.
type FileResult struct {
	URL      string        `json:"url,omitempty"`
	Checksum *ChecksumData `json:"checksum,omitempty"`
}
