// Copyright (c) 2023-2025 RapidaAI
// Author: Prashant Srivastav <prashant@rapida.ai>
//
// Licensed under GPL-2.0 with Rapida Additional Terms.
// See LICENSE.md or contact sales@rapida.ai for commercial usage.
package internal_upload

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/rapidaai/recorder/pkg/commons"
)

const (
	uploadAttempts = 5
	uploadBackoff  = 5 * time.Second
)

// DriveUploader pushes a finished session folder to Google Drive. Upload is
// strictly post-stop: it never runs while tracks are still being written.
type DriveUploader struct {
	logger   commons.Logger
	service  *drive.Service
	parentID string
}

// NewDriveUploader authenticates with a service-account credentials file and
// targets the configured parent folder.
func NewDriveUploader(ctx context.Context, logger commons.Logger, credentialsPath, parentFolderID string) (*DriveUploader, error) {
	service, err := drive.NewService(ctx,
		option.WithCredentialsFile(credentialsPath),
		option.WithScopes(drive.DriveFileScope),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}
	return &DriveUploader{logger: logger, service: service, parentID: parentFolderID}, nil
}

// UploadSession creates a `recording_<id>` folder under the configured
// parent and uploads every listed file into it. Each file gets up to five
// attempts with a fixed back-off; a file that fails all attempts fails the
// whole upload. Returns the Drive id of the created folder.
func (u *DriveUploader) UploadSession(ctx context.Context, sessionID string, files []string) (string, error) {
	folder, err := u.service.Files.Create(&drive.File{
		Name:     "recording_" + sessionID,
		MimeType: "application/vnd.google-apps.folder",
		Parents:  []string{u.parentID},
	}).Fields("id").Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("failed to create drive folder for session %s: %w", sessionID, err)
	}
	u.logger.Infof("drive upload: created folder %s under %s", folder.Id, u.parentID)

	for _, path := range files {
		if err := u.uploadFile(ctx, folder.Id, path); err != nil {
			return folder.Id, err
		}
	}
	return folder.Id, nil
}

func (u *DriveUploader) uploadFile(ctx context.Context, folderID, path string) error {
	var lastErr error
	for attempt := 1; attempt <= uploadAttempts; attempt++ {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("failed to open %s for upload: %w", path, err)
		}
		file, err := u.service.Files.Create(&drive.File{
			Name:    filepath.Base(path),
			Parents: []string{folderID},
		}).Media(f).Fields("id").Context(ctx).Do()
		f.Close()
		if err == nil {
			u.logger.Infof("drive upload: %s uploaded (id %s)", filepath.Base(path), file.Id)
			return nil
		}
		lastErr = err
		if attempt < uploadAttempts {
			u.logger.Warnf("drive upload: attempt %d for %s failed: %v, retrying", attempt, path, err)
			select {
			case <-time.After(uploadBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return fmt.Errorf("failed to upload %s after %d attempts: %w", path, uploadAttempts, lastErr)
}
