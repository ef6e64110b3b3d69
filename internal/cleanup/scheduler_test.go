package cleanup

import (
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type recorder struct {
	cutoffs []time.Time
	rows    int64
	err     error
}

func (r *recorder) EvictFinished(cutoff time.Time) int {
	r.cutoffs = append(r.cutoffs, cutoff)
	return 2
}

func (r *recorder) PruneFinished(cutoff time.Time) (int64, error) {
	r.cutoffs = append(r.cutoffs, cutoff)
	return r.rows, r.err
}

var _ = Describe("Scheduler", func() {
	var (
		dir string
		now time.Time
	)

	write := func(name string, age time.Duration) string {
		path := filepath.Join(dir, name)
		Expect(os.MkdirAll(filepath.Dir(path), 0755)).To(Succeed())
		Expect(os.WriteFile(path, []byte("data"), 0644)).To(Succeed())
		mtime := now.Add(-age)
		Expect(os.Chtimes(path, mtime, mtime)).To(Succeed())
		return path
	}

	BeforeEach(func() {
		dir = GinkgoT().TempDir()
		now = time.Now()
	})

	It("removes only files older than the max age", func() {
		stale := write("old.wav", 48*time.Hour)
		nested := write("job/old.json", 25*time.Hour)
		fresh := write("new.wav", time.Hour)

		s := NewScheduler(dir, time.Hour, 24*time.Hour, nil, nil)
		s.now = func() time.Time { return now }
		s.Sweep()

		Expect(stale).NotTo(BeAnExistingFile())
		Expect(nested).NotTo(BeAnExistingFile())
		Expect(fresh).To(BeAnExistingFile())
		Expect(filepath.Join(dir, "job")).To(BeADirectory())
	})

	It("evicts jobs and prunes the ledger with the same cutoff", func() {
		rec := &recorder{rows: 3}
		s := NewScheduler(dir, time.Hour, 24*time.Hour, rec, rec)
		s.now = func() time.Time { return now }
		s.Sweep()

		Expect(rec.cutoffs).To(HaveLen(2))
		Expect(rec.cutoffs[0]).To(Equal(now.Add(-24 * time.Hour)))
		Expect(rec.cutoffs[1]).To(Equal(rec.cutoffs[0]))
	})

	It("keeps sweeping when the ledger cannot be pruned", func() {
		stale := write("old.wav", 48*time.Hour)
		rec := &recorder{err: errors.New("database is locked")}
		s := NewScheduler(dir, time.Hour, 24*time.Hour, rec, rec)
		s.now = func() time.Time { return now }

		Expect(s.Sweep).NotTo(Panic())
		Expect(stale).NotTo(BeAnExistingFile())
	})

	It("tolerates a missing temp directory", func() {
		s := NewScheduler(filepath.Join(dir, "missing"), time.Hour, time.Hour, nil, nil)
		Expect(s.Sweep).NotTo(Panic())
	})

	It("sweeps once on start and stops cleanly", func() {
		stale := write("old.wav", 48*time.Hour)
		s := NewScheduler(dir, time.Hour, 24*time.Hour, nil, nil)
		Expect(s.Start()).To(Succeed())
		Expect(stale).NotTo(BeAnExistingFile())
		s.Stop()
	})

	It("creates the temp directory", func() {
		target := filepath.Join(dir, "a", "b")
		Expect(EnsureTempDirExists(target)).To(Succeed())
		Expect(target).To(BeADirectory())
	})
})
