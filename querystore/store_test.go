package querystore

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/cxxrtlbridge/naming"
	"github.com/sarchlab/cxxrtlbridge/notify"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

func ts(fs uint64) timestamp.Timestamp {
	return timestamp.FromFemtosecondsUint64(fs)
}

var _ = Describe("Encoding", func() {
	It("should decode little-endian words", func() {
		words, err := DecodeWords("AQAAAAIAAAA=")

		Expect(err).To(BeNil())
		Expect(words).To(Equal([]uint32{1, 2}))
	})

	It("should reject partial words", func() {
		_, err := DecodeWords("AQAA")

		Expect(err).NotTo(BeNil())
	})

	It("should reject invalid base64", func() {
		_, err := DecodeWords("!!!")

		Expect(err).NotTo(BeNil())
	})

	It("should put the least significant word first", func() {
		v := WordsToInt([]uint32{0x1, 0x2})

		Expect(v.Text(16)).To(Equal("200000001"))
		Expect(IntToWords(v, 2)).To(Equal([]uint32{1, 2}))
	})

	It("should round trip through base64", func() {
		words := []uint32{0xdeadbeef, 0, 7}

		decoded, err := DecodeWords(EncodeWords(words))

		Expect(err).To(BeNil())
		Expect(decoded).To(Equal(words))
	})
})

var _ = Describe("Store", func() {
	var (
		r0    naming.VariableRef
		wide  naming.VariableRef
		items map[naming.VariableRef]protocol.Item
		store *Store
		n     *notify.ChannelNotifier
	)

	sample := func(fs uint64, words ...uint32) protocol.Sample {
		return protocol.Sample{Time: ts(fs), ItemValues: EncodeWords(words)}
	}

	BeforeEach(func() {
		r0 = naming.NewVariableRef(naming.NewScopeRef("top", "cpu"), "r0")
		wide = naming.NewVariableRef(naming.NewScopeRef("top"), "wide")
		items = map[naming.VariableRef]protocol.Item{
			r0:   {Type: "node", Width: 16},
			wide: {Type: "node", Width: 40},
		}
		store = New()
		n = notify.NewChannelNotifier(4)
	})

	It("should return nothing before it is populated", func() {
		Expect(store.Query(r0, ts(10))).To(Equal(Result{}))
	})

	It("should split each sample into per-signal values", func() {
		store.Populate(
			[]naming.VariableRef{r0, wide},
			items,
			[]protocol.Sample{
				sample(0, 5, 1, 0x2),
				sample(100, 6, 3, 0x4),
			},
			n,
		)

		Expect(store.Len(r0)).To(Equal(2))
		Expect(store.Len(wide)).To(Equal(2))
		Expect(store.Signals()).To(ConsistOf(r0, wide))

		res := store.Query(wide, ts(150))
		Expect(res.Current.Value.Text(16)).To(Equal("400000003"))
		Expect(res.Next).To(BeNil())

		Eventually(n.C()).Should(Receive(Equal(notify.Redraw())))
	})

	It("should return the last sample not after the queried time", func() {
		store.Populate(
			[]naming.VariableRef{r0},
			items,
			[]protocol.Sample{sample(10, 1), sample(20, 2), sample(30, 3)},
			n,
		)

		Expect(store.Query(r0, ts(5)).Current).To(BeNil())
		Expect(store.Query(r0, ts(5)).Next.Cmp(ts(10))).To(Equal(0))

		res := store.Query(r0, ts(10))
		Expect(res.Current.Value.Int64()).To(Equal(int64(1)))
		Expect(res.Next.Cmp(ts(20))).To(Equal(0))

		Expect(store.Query(r0, ts(25)).Current.Value.Int64()).To(Equal(int64(2)))
		Expect(store.Query(r0, ts(30)).Current.Value.Int64()).To(Equal(int64(3)))
		Expect(store.Query(r0, ts(1000)).Current.Value.Int64()).To(Equal(int64(3)))
	})

	It("should order samples by time", func() {
		store.Populate(
			[]naming.VariableRef{r0},
			items,
			[]protocol.Sample{sample(30, 3), sample(10, 1)},
			n,
		)

		Expect(store.Query(r0, ts(15)).Current.Value.Int64()).To(Equal(int64(1)))
	})

	It("should return nothing for signals that are not loaded", func() {
		store.Populate([]naming.VariableRef{r0}, items,
			[]protocol.Sample{sample(0, 1)}, n)

		Expect(store.Query(wide, ts(0))).To(Equal(Result{}))
	})

	It("should skip undecodable samples", func() {
		store.Populate(
			[]naming.VariableRef{r0},
			items,
			[]protocol.Sample{
				{Time: ts(0), ItemValues: "not base64"},
				sample(10, 9),
			},
			n,
		)

		Expect(store.Len(r0)).To(Equal(1))
	})

	It("should stop decoding a sample at a signal without metadata", func() {
		unknown := naming.NewVariableRef(naming.Root(), "unknown")

		store.Populate(
			[]naming.VariableRef{r0, unknown, wide},
			items,
			[]protocol.Sample{sample(0, 1, 2, 3)},
			n,
		)

		Expect(store.Len(r0)).To(Equal(1))
		Expect(store.Len(wide)).To(Equal(0))
	})

	It("should stop decoding a short sample", func() {
		store.Populate(
			[]naming.VariableRef{r0, wide},
			items,
			[]protocol.Sample{sample(0, 1, 2)},
			n,
		)

		Expect(store.Len(r0)).To(Equal(1))
		Expect(store.Len(wide)).To(Equal(0))
	})

	It("should replace previous contents", func() {
		store.Populate([]naming.VariableRef{r0}, items,
			[]protocol.Sample{sample(0, 1)}, n)
		store.Populate([]naming.VariableRef{wide}, items,
			[]protocol.Sample{sample(0, 1, 0)}, n)

		Expect(store.Len(r0)).To(Equal(0))
		Expect(store.Len(wide)).To(Equal(1))
	})
})
