package media

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Classify", func() {
	DescribeTable("routes urls to sources",
		func(raw string, want SourceKind) {
			kind, err := Classify(raw)
			Expect(err).ToNot(HaveOccurred())
			Expect(kind).To(Equal(want))
		},
		Entry("plain https", "https://example.com/a.mp3?sig=1", SourceHTTP),
		Entry("s3 object", "s3://bucket/path/to/a.wav", SourceS3),
		Entry("drive share link", "https://drive.google.com/file/d/1AbCdEfGhIjKlMnOpQrStUvWxYz/view", SourceDrive),
		Entry("gdrive scheme", "gdrive://1AbCdEfGhIjKlMnOpQrStUvWxYz", SourceDrive),
		Entry("youtube watch", "https://www.youtube.com/watch?v=dQw4w9WgXcQ", SourceYouTube),
		Entry("youtube short", "https://youtu.be/dQw4w9WgXcQ", SourceYouTube),
	)

	DescribeTable("rejects unusable urls",
		func(raw string) {
			_, err := Classify(raw)
			Expect(err).To(HaveOccurred())
		},
		Entry("ftp", "ftp://example.com/a.mp3"),
		Entry("no scheme", "example.com/a.mp3"),
		Entry("s3 without key", "s3://bucket"),
		Entry("drive without id", "https://drive.google.com/drive/my-drive"),
	)
})

var _ = Describe("ExtractDriveFileID", func() {
	It("understands the common link shapes", func() {
		Expect(ExtractDriveFileID("https://drive.google.com/file/d/abc_DEF-123/view?usp=sharing")).To(Equal("abc_DEF-123"))
		Expect(ExtractDriveFileID("https://drive.google.com/open?id=xyz987")).To(Equal("xyz987"))
		Expect(ExtractDriveFileID("gdrive://xyz987")).To(Equal("xyz987"))
		Expect(ExtractDriveFileID("https://example.com")).To(BeEmpty())
	})
})

var _ = Describe("ExtensionFor", func() {
	It("prefers the content type, then the path, then wav", func() {
		Expect(ExtensionFor("audio/mpeg; charset=binary", "/a.ogg")).To(Equal(".mp3"))
		Expect(ExtensionFor("application/octet-stream", "/talk.FLAC")).To(Equal(".flac"))
		Expect(ExtensionFor("", "/download")).To(Equal(".wav"))
	})
})

var _ = Describe("Fetcher downloads", func() {
	var (
		server *httptest.Server
		dir    string
	)

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.URL.Path {
			case "/ok.ogg":
				w.Header().Set("Content-Type", "audio/ogg")
				_, _ = w.Write([]byte("OggS-fake-audio"))
			case "/big":
				_, _ = w.Write([]byte(strings.Repeat("x", 64)))
			default:
				http.NotFound(w, r)
			}
		}))
		DeferCleanup(server.Close)
	})

	It("stores the body under a content-type extension", func() {
		f := NewFetcher(Config{TempDir: dir})
		path, err := f.fetchHTTP(context.Background(), server.URL+"/ok.ogg")
		Expect(err).ToNot(HaveOccurred())
		Expect(filepath.Ext(path)).To(Equal(".ogg"))
		Expect(os.ReadFile(path)).To(Equal([]byte("OggS-fake-audio")))
	})

	It("fails on non-200 responses", func() {
		f := NewFetcher(Config{TempDir: dir})
		_, err := f.fetchHTTP(context.Background(), server.URL+"/missing")
		Expect(err).To(MatchError(ContainSubstring("404")))
	})

	It("enforces the size cap and leaves nothing behind", func() {
		f := NewFetcher(Config{TempDir: dir, MaxBytes: 16})
		_, err := f.fetchHTTP(context.Background(), server.URL+"/big")
		Expect(err).To(MatchError(ContainSubstring("exceeds")))
		entries, _ := os.ReadDir(dir)
		Expect(entries).To(BeEmpty())
	})

	It("wraps failures in ErrFetch", func() {
		f := NewFetcher(Config{TempDir: dir})
		_, err := f.Fetch(context.Background(), server.URL+"/missing")
		Expect(err).To(MatchError(ErrFetch))
	})
})

var _ = Describe("WAVDuration", func() {
	It("reads the duration from the header", func() {
		path := filepath.Join(GinkgoT().TempDir(), "one-second.wav")
		out, err := os.Create(path)
		Expect(err).ToNot(HaveOccurred())

		enc := wav.NewEncoder(out, 16000, 16, 1, 1)
		buf := &audio.IntBuffer{
			Format:         &audio.Format{NumChannels: 1, SampleRate: 16000},
			Data:           make([]int, 16000),
			SourceBitDepth: 16,
		}
		Expect(enc.Write(buf)).To(Succeed())
		Expect(enc.Close()).To(Succeed())
		Expect(out.Close()).To(Succeed())

		Expect(WAVDuration(path)).To(BeNumerically("~", 1.0, 0.001))
	})

	It("rejects files that are not wav", func() {
		path := filepath.Join(GinkgoT().TempDir(), "junk.wav")
		Expect(os.WriteFile(path, []byte("definitely not riff"), 0644)).To(Succeed())
		_, err := WAVDuration(path)
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Audio", func() {
	It("removes its temp files on cleanup", func() {
		dir := GinkgoT().TempDir()
		a := filepath.Join(dir, "a.mp3")
		b := filepath.Join(dir, "b.wav")
		Expect(os.WriteFile(a, []byte("a"), 0644)).To(Succeed())
		Expect(os.WriteFile(b, []byte("b"), 0644)).To(Succeed())

		clip := &Audio{Path: b, temp: []string{a, b}}
		clip.Cleanup()
		Expect(a).ToNot(BeAnExistingFile())
		Expect(b).ToNot(BeAnExistingFile())
	})
})
