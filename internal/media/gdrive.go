package media

import (
	"context"
	"fmt"
	"io"
	"os"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
)

// DriveClient downloads audio files from Google Drive
type DriveClient struct {
	service *drive.Service
}

// NewDriveClient creates a Drive client from a service-account key file
func NewDriveClient(ctx context.Context, credentialsFile string) (*DriveClient, error) {
	b, err := os.ReadFile(credentialsFile)
	if err != nil {
		return nil, fmt.Errorf("unable to read credentials file: %w", err)
	}

	creds, err := google.CredentialsFromJSON(ctx, b, drive.DriveReadonlyScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse credentials: %w", err)
	}

	client := oauth2.NewClient(ctx, creds.TokenSource)
	srv, err := drive.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, fmt.Errorf("unable to create Drive service: %w", err)
	}

	return &DriveClient{service: srv}, nil
}

// Open streams the file content and returns the extension to store it under
func (dc *DriveClient) Open(ctx context.Context, fileID string) (io.ReadCloser, string, error) {
	meta, err := dc.service.Files.Get(fileID).
		Fields("name, mimeType").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return nil, "", fmt.Errorf("unable to read Drive file metadata: %w", err)
	}

	resp, err := dc.service.Files.Get(fileID).
		SupportsAllDrives(true).
		Context(ctx).
		Download()
	if err != nil {
		return nil, "", fmt.Errorf("unable to download Drive file: %w", err)
	}

	return resp.Body, ExtensionFor(meta.MimeType, meta.Name), nil
}
