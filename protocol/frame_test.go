package protocol

import (
	"bytes"
	"io"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Frames", func() {
	It("should write a delimiter after each frame", func() {
		buf := &bytes.Buffer{}
		w := NewFrameWriter(buf)

		Expect(w.WriteFrame([]byte(`{"a":1}`))).To(Succeed())
		Expect(w.WriteFrame([]byte(`{}`))).To(Succeed())

		Expect(buf.Bytes()).To(Equal([]byte("{\"a\":1}\x00{}\x00")))
	})

	It("should refuse payloads containing the delimiter", func() {
		w := NewFrameWriter(&bytes.Buffer{})

		Expect(w.WriteFrame([]byte("a\x00b"))).NotTo(Succeed())
	})

	It("should split a stream into frames", func() {
		r := NewFrameReader(bytes.NewBufferString("one\x00two\x00"))

		f, err := r.ReadFrame()
		Expect(err).To(BeNil())
		Expect(string(f)).To(Equal("one"))

		f, err = r.ReadFrame()
		Expect(err).To(BeNil())
		Expect(string(f)).To(Equal("two"))

		_, err = r.ReadFrame()
		Expect(err).To(Equal(io.EOF))
	})

	It("should assemble frames split across reads", func() {
		pr, pw := io.Pipe()
		r := NewFrameReader(pr)

		go func() {
			defer GinkgoRecover()
			_, _ = pw.Write([]byte(`{"type":`))
			_, _ = pw.Write([]byte(`"greeting"}`))
			_, _ = pw.Write([]byte{0})
			_ = pw.Close()
		}()

		f, err := r.ReadFrame()
		Expect(err).To(BeNil())
		Expect(string(f)).To(Equal(`{"type":"greeting"}`))
	})

	It("should report a truncated frame", func() {
		r := NewFrameReader(bytes.NewBufferString("partial"))

		_, err := r.ReadFrame()
		Expect(err).To(Equal(io.ErrUnexpectedEOF))
	})
})
