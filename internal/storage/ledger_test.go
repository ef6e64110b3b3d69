package storage_test

import (
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/codebuildervaibhav/diarized-transcription/internal/storage"
)

var _ = Describe("JobDB", func() {
	var db *storage.JobDB

	BeforeEach(func() {
		var err error
		db, err = storage.NewJobDB(filepath.Join(GinkgoT().TempDir(), "nested", "jobs.db"))
		Expect(err).ToNot(HaveOccurred())
		DeferCleanup(db.Close)
	})

	newJob := func(id string, created time.Time) storage.JobRecord {
		return storage.JobRecord{
			JobID:        id,
			AudioURL:     "https://example.com/" + id + ".wav",
			Language:     "auto",
			OutputFormat: "json",
			Status:       "QUEUED",
			Stage:        "Received",
			CreatedAt:    created,
		}
	}

	It("tracks a job from creation to completion", func() {
		Expect(db.CreateJob(newJob("a", time.Now()))).To(Succeed())
		Expect(db.UpdateStage("a", "PROCESSING", "Transcribing")).To(Succeed())

		rec, err := db.GetJob("a")
		Expect(err).ToNot(HaveOccurred())
		Expect(rec.Status).To(Equal("PROCESSING"))
		Expect(rec.Stage).To(Equal("Transcribing"))
		Expect(rec.FinishedAt).To(BeNil())

		Expect(db.FinishJob(storage.JobRecord{
			JobID:          "a",
			Status:         "COMPLETED",
			Stage:          "Completed",
			Duration:       12.5,
			ProcessingTime: 3.25,
			SpeakerCount:   2,
			SegmentCount:   7,
		})).To(Succeed())

		rec, err = db.GetJob("a")
		Expect(err).ToNot(HaveOccurred())
		Expect(rec.Status).To(Equal("COMPLETED"))
		Expect(rec.Duration).To(Equal(12.5))
		Expect(rec.SpeakerCount).To(Equal(2))
		Expect(rec.SegmentCount).To(Equal(7))
		Expect(rec.FinishedAt).ToNot(BeNil())
		Expect(rec.AudioURL).To(Equal("https://example.com/a.wav"))
	})

	It("records failures", func() {
		Expect(db.CreateJob(newJob("b", time.Now()))).To(Succeed())
		Expect(db.FinishJob(storage.JobRecord{
			JobID:        "b",
			Status:       "FAILED",
			Stage:        "Downloading",
			ErrorKind:    "FetchError",
			ErrorMessage: "unexpected status 404",
		})).To(Succeed())

		rec, err := db.GetJob("b")
		Expect(err).ToNot(HaveOccurred())
		Expect(rec.ErrorKind).To(Equal("FetchError"))
		Expect(rec.ErrorMessage).To(ContainSubstring("404"))
	})

	It("reports unknown jobs", func() {
		_, err := db.GetJob("nope")
		Expect(err).To(MatchError(storage.ErrJobNotFound))
		Expect(db.FinishJob(storage.JobRecord{JobID: "nope", Status: "FAILED"})).To(MatchError(storage.ErrJobNotFound))
	})

	It("rejects duplicate ids", func() {
		Expect(db.CreateJob(newJob("c", time.Now()))).To(Succeed())
		Expect(db.CreateJob(newJob("c", time.Now()))).ToNot(Succeed())
	})

	It("lists the newest jobs first", func() {
		base := time.Now().Add(-time.Hour)
		for i, id := range []string{"old", "mid", "new"} {
			Expect(db.CreateJob(newJob(id, base.Add(time.Duration(i)*time.Minute)))).To(Succeed())
		}

		jobs, err := db.ListJobs(2)
		Expect(err).ToNot(HaveOccurred())
		Expect(jobs).To(HaveLen(2))
		Expect(jobs[0].JobID).To(Equal("new"))
		Expect(jobs[1].JobID).To(Equal("mid"))
	})

	It("prunes only finished jobs older than the cutoff", func() {
		old := time.Now().Add(-48 * time.Hour)
		Expect(db.CreateJob(newJob("done-old", old))).To(Succeed())
		Expect(db.FinishJob(storage.JobRecord{JobID: "done-old", Status: "COMPLETED", Stage: "Completed", FinishedAt: &old})).To(Succeed())
		Expect(db.CreateJob(newJob("done-new", time.Now()))).To(Succeed())
		Expect(db.FinishJob(storage.JobRecord{JobID: "done-new", Status: "COMPLETED", Stage: "Completed"})).To(Succeed())
		Expect(db.CreateJob(newJob("running", old))).To(Succeed())

		n, err := db.PruneFinished(time.Now().Add(-24 * time.Hour))
		Expect(err).ToNot(HaveOccurred())
		Expect(n).To(Equal(int64(1)))

		jobs, err := db.ListJobs(10)
		Expect(err).ToNot(HaveOccurred())
		ids := []string{}
		for _, j := range jobs {
			ids = append(ids, j.JobID)
		}
		Expect(ids).To(ConsistOf("done-new", "running"))
	})
})
