package pipeline

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

type tempFile struct {
	released chan struct{}
}

func (t *tempFile) Cleanup() { close(t.released) }

var _ = Describe("call", func() {
	var file *tempFile

	BeforeEach(func() {
		file = &tempFile{released: make(chan struct{})}
	})

	late := func(context.Context) (*tempFile, error) {
		time.Sleep(150 * time.Millisecond)
		return file, nil
	}

	It("releases what a timed out download produces afterwards", func() {
		_, failure := call(context.Background(), StageDownloading, 50*time.Millisecond, late)
		Expect(failure.Kind).To(Equal(KindTimeout))
		Expect(file.released).ToNot(BeClosed())
		Eventually(file.released).Should(BeClosed())
	})

	It("releases what a cancelled download produces afterwards", func() {
		ctx, cancel := context.WithCancel(context.Background())
		time.AfterFunc(20*time.Millisecond, cancel)

		_, failure := call(ctx, StageDownloading, time.Second, late)
		Expect(failure.Kind).To(Equal(KindCanceled))
		Eventually(file.released).Should(BeClosed())
	})

	It("hands a timely result to the caller untouched", func() {
		got, failure := call(context.Background(), StageDownloading, time.Second, func(context.Context) (*tempFile, error) {
			return file, nil
		})
		Expect(failure).To(BeNil())
		Expect(got).To(BeIdenticalTo(file))
		Consistently(file.released, 100*time.Millisecond).ShouldNot(BeClosed())
	})
})
