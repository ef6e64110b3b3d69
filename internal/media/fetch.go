package media

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Config configures audio acquisition
type Config struct {
	TempDir string
	// MaxBytes caps a single download; zero disables the cap
	MaxBytes int64

	FFmpegCommand string
	YtDlpCommand  string

	// DriveCredentialsFile is a service-account JSON key; when empty, Drive
	// files are fetched through their public download link
	DriveCredentialsFile string
	S3Region             string

	HTTPClient *http.Client
}

// Fetcher downloads audio from any supported source and normalizes it
type Fetcher struct {
	cfg  Config
	http *http.Client

	driveOnce sync.Once
	drive     *DriveClient
	driveErr  error

	s3Once sync.Once
	s3     *S3Client
	s3Err  error
}

// NewFetcher creates a fetcher; cloud clients are created on first use
func NewFetcher(cfg Config) *Fetcher {
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	return &Fetcher{cfg: cfg, http: client}
}

// Fetch acquires the audio behind rawURL and returns it as normalized WAV
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Audio, error) {
	kind, err := Classify(rawURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	log.Info().Str("source", string(kind)).Str("url", redact(rawURL)).Msg("downloading audio")

	var downloaded string
	switch kind {
	case SourceS3:
		downloaded, err = f.fetchS3(ctx, rawURL)
	case SourceDrive:
		downloaded, err = f.fetchDrive(ctx, rawURL)
	case SourceYouTube:
		downloaded, err = f.fetchYouTube(ctx, rawURL)
	default:
		downloaded, err = f.fetchHTTP(ctx, rawURL)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFetch, err)
	}

	wavPath, err := Normalize(ctx, f.cfg.FFmpegCommand, downloaded, f.cfg.TempDir)
	if err != nil {
		removeTemp(downloaded)
		return nil, fmt.Errorf("%w: unsupported or corrupt audio: %w", ErrFetch, err)
	}

	duration, err := WAVDuration(wavPath)
	if err != nil {
		log.Warn().Err(err).Str("path", wavPath).Msg("could not read wav duration")
	}

	log.Info().Str("path", wavPath).Float64("duration", duration).Msg("audio ready")
	return &Audio{
		Path:     wavPath,
		Duration: duration,
		temp:     []string{downloaded, wavPath},
	}, nil
}

func (f *Fetcher) fetchHTTP(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := f.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("download: unexpected status %d", resp.StatusCode)
	}

	var urlPath string
	if u, err := url.Parse(rawURL); err == nil {
		urlPath = u.Path
	}
	return f.saveTemp(resp.Body, ExtensionFor(resp.Header.Get("Content-Type"), urlPath))
}

func (f *Fetcher) fetchDrive(ctx context.Context, rawURL string) (string, error) {
	fileID := ExtractDriveFileID(rawURL)
	if fileID == "" {
		return "", fmt.Errorf("invalid Google Drive url")
	}

	if f.cfg.DriveCredentialsFile == "" {
		public := fmt.Sprintf("https://drive.google.com/uc?export=download&id=%s", url.QueryEscape(fileID))
		return f.fetchHTTP(ctx, public)
	}

	f.driveOnce.Do(func() {
		f.drive, f.driveErr = NewDriveClient(context.Background(), f.cfg.DriveCredentialsFile)
	})
	if f.driveErr != nil {
		return "", f.driveErr
	}

	body, ext, err := f.drive.Open(ctx, fileID)
	if err != nil {
		return "", err
	}
	defer body.Close()
	return f.saveTemp(body, ext)
}

func (f *Fetcher) fetchS3(ctx context.Context, rawURL string) (string, error) {
	bucket, key, err := splitS3(rawURL)
	if err != nil {
		return "", err
	}

	f.s3Once.Do(func() {
		f.s3, f.s3Err = NewS3Client(context.Background(), f.cfg.S3Region)
	})
	if f.s3Err != nil {
		return "", f.s3Err
	}

	body, ext, err := f.s3.Open(ctx, bucket, key)
	if err != nil {
		return "", err
	}
	defer body.Close()
	return f.saveTemp(body, ext)
}

// fetchYouTube extracts the audio track with yt-dlp
func (f *Fetcher) fetchYouTube(ctx context.Context, rawURL string) (string, error) {
	ytdlp := f.cfg.YtDlpCommand
	if ytdlp == "" {
		ytdlp = "yt-dlp"
	}
	base := filepath.Join(f.cfg.TempDir, uuid.New().String())

	cmd := exec.CommandContext(ctx, ytdlp,
		"-x",
		"--audio-format", "opus",
		"--no-playlist",
		"-o", base+".%(ext)s",
		rawURL,
	)
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("yt-dlp failed: %w\nOutput: %s", err, string(output))
	}

	path := base + ".opus"
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("yt-dlp produced no audio: %w", err)
	}
	return path, nil
}

// saveTemp streams body into a new temp file, enforcing the size cap
func (f *Fetcher) saveTemp(body io.Reader, ext string) (string, error) {
	if err := os.MkdirAll(f.cfg.TempDir, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(f.cfg.TempDir, uuid.New().String()+ext)
	out, err := os.Create(path)
	if err != nil {
		return "", err
	}

	src := body
	if f.cfg.MaxBytes > 0 {
		src = io.LimitReader(body, f.cfg.MaxBytes+1)
	}
	n, err := io.Copy(out, src)
	closeErr := out.Close()
	switch {
	case err != nil:
		removeTemp(path)
		return "", fmt.Errorf("write download: %w", err)
	case closeErr != nil:
		removeTemp(path)
		return "", closeErr
	case f.cfg.MaxBytes > 0 && n > f.cfg.MaxBytes:
		removeTemp(path)
		return "", fmt.Errorf("audio exceeds %d bytes", f.cfg.MaxBytes)
	case n == 0:
		removeTemp(path)
		return "", fmt.Errorf("empty download")
	}
	return path, nil
}

// redact drops userinfo and query strings before a url is logged
func redact(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<unparseable>"
	}
	u.RawQuery = ""
	u.User = nil
	return u.String()
}
