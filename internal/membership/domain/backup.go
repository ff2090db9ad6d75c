package domain

import "time"

const BackupVersion = "1.0"

// Backup is the portable export document.
type Backup struct {
	Version   string         `json:"version"`
	Timestamp time.Time      `json:"timestamp"`
	Data      *BackupData    `json:"data"`
	Metadata  BackupMetadata `json:"metadata"`
}

type BackupData struct {
	Clients         []Member  `json:"clients"`
	MembershipTypes []Plan    `json:"membership_types"`
	Payments        []Payment `json:"payments,omitempty"`
	Settings        []Setting `json:"settings"`
}

type BackupMetadata struct {
	Counts   map[string]int `json:"counts"`
	Size     int            `json:"size"`
	DeviceID string         `json:"device_id,omitempty"`
}

// Validate rejects documents without a version or a clients list. An empty
// list is valid.
func (b *Backup) Validate() error {
	if b == nil || b.Version == "" || b.Data == nil || b.Data.Clients == nil {
		return ErrInvalidBackup
	}
	return nil
}
