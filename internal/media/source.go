package media

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrFetch wraps every audio acquisition failure
var ErrFetch = errors.New("audio fetch failed")

// SourceKind identifies how audio is acquired for a URL
type SourceKind string

const (
	SourceHTTP    SourceKind = "http"
	SourceS3      SourceKind = "s3"
	SourceDrive   SourceKind = "gdrive"
	SourceYouTube SourceKind = "youtube"
)

var youtubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

// Classify picks the acquisition source for an audio URL
func Classify(rawURL string) (SourceKind, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", fmt.Errorf("malformed url: %v", err)
	}

	switch strings.ToLower(u.Scheme) {
	case "s3":
		if u.Host == "" || strings.Trim(u.Path, "/") == "" {
			return "", fmt.Errorf("s3 url must look like s3://bucket/key")
		}
		return SourceS3, nil
	case "gdrive":
		if u.Host == "" && u.Opaque == "" {
			return "", fmt.Errorf("gdrive url must look like gdrive://FILE_ID")
		}
		return SourceDrive, nil
	case "http", "https":
		if u.Host == "" {
			return "", fmt.Errorf("missing host")
		}
	default:
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "drive.google.com" || host == "docs.google.com":
		if ExtractDriveFileID(rawURL) == "" {
			return "", fmt.Errorf("no file id in Google Drive url")
		}
		return SourceDrive, nil
	case youtubeHosts[host]:
		return SourceYouTube, nil
	default:
		return SourceHTTP, nil
	}
}

var (
	driveFilePath = regexp.MustCompile(`/file/d/([a-zA-Z0-9_-]+)`)
	driveIDParam  = regexp.MustCompile(`[?&]id=([a-zA-Z0-9_-]+)`)
	driveBareID   = regexp.MustCompile(`^([a-zA-Z0-9_-]{25,40})$`)
)

// ExtractDriveFileID extracts the file ID from the Google Drive URL formats
func ExtractDriveFileID(raw string) string {
	if id, ok := strings.CutPrefix(raw, "gdrive://"); ok {
		return strings.Trim(id, "/")
	}

	// https://drive.google.com/file/d/{ID}/view
	if m := driveFilePath.FindStringSubmatch(raw); len(m) > 1 {
		return m[1]
	}
	// https://drive.google.com/open?id={ID}
	if m := driveIDParam.FindStringSubmatch(raw); len(m) > 1 {
		return m[1]
	}
	if m := driveBareID.FindStringSubmatch(raw); len(m) > 1 {
		return m[1]
	}
	return ""
}

// splitS3 returns bucket and key for s3://bucket/key
func splitS3(rawURL string) (string, string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", "", err
	}
	key := strings.TrimPrefix(u.Path, "/")
	if u.Host == "" || key == "" {
		return "", "", fmt.Errorf("s3 url must look like s3://bucket/key")
	}
	return u.Host, key, nil
}
