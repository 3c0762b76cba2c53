// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.

package internal_state

import (
	"time"

	"gorm.io/gorm"
)

// Session descriptor status constants.
const (
	StatusActive   = "active"   // Recording in progress, owned by OwnerPID
	StatusStopping = "stopping" // Stop requested, owner is tearing tracks down
	StatusStopped  = "stopped"  // Teardown finished, output files are final
)

// SessionDescriptor is the durable record of one recording session. It is
// what makes a recording addressable from outside the owning process: a stop
// or status command started later, in a different process, resolves the
// active descriptor and acts on it.
//
// Stored in sqlite (session_descriptors table). The status field only moves
// forward: active → stopping → stopped.
type SessionDescriptor struct {
	Id          uint64    `json:"id" gorm:"primaryKey;autoIncrement;<-:create"`
	SessionID   string    `json:"sessionId" gorm:"column:session_id;type:varchar(36);not null;uniqueIndex"`
	Channel     string    `json:"channel" gorm:"column:channel;type:varchar(200);not null;default:''"`
	OutputDir   string    `json:"outputDir" gorm:"column:output_dir;type:text;not null"`
	Format      string    `json:"format" gorm:"column:format;type:varchar(10);not null"`
	Bitrate     int       `json:"bitrate" gorm:"column:bitrate;not null;default:0"`
	OwnerPID    int       `json:"ownerPid" gorm:"column:owner_pid;not null"`
	Status      string    `json:"status" gorm:"column:status;type:varchar(20);not null;default:active"`
	StartedAt   time.Time `json:"startedAt" gorm:"column:started_at;not null"`
	CreatedDate time.Time `json:"createdDate" gorm:"column:created_date;not null;<-:create"`
	UpdatedDate time.Time `json:"updatedDate" gorm:"column:updated_date;default:null"`
}

func (SessionDescriptor) TableName() string {
	return "session_descriptors"
}

func (sd *SessionDescriptor) BeforeCreate(tx *gorm.DB) (err error) {
	if sd.CreatedDate.IsZero() {
		sd.CreatedDate = time.Now()
	}
	return nil
}

// IsActive returns true while the owning process is still recording.
func (sd *SessionDescriptor) IsActive() bool {
	return sd.Status == StatusActive
}

// Elapsed is the recording time accumulated so far.
func (sd *SessionDescriptor) Elapsed() time.Duration {
	return time.Since(sd.StartedAt)
}
