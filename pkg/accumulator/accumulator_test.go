package accumulator

import (
	"testing"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/l7mp/docpipe/pkg/value"
)

func TestAccumulator(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Accumulator")
}

func feed(a Accumulator, vs ...Value) Value {
	for _, v := range vs {
		Expect(a.Process(v)).To(Succeed())
	}
	out, err := a.Finalize()
	Expect(err).NotTo(HaveOccurred())
	return out
}

var _ = Describe("Complete forms", func() {
	It("sums integers and promotes widths", func() {
		k, _ := Lookup("sum")
		out := feed(k.New(), value.Int64(1), value.Int64(2))
		i, _ := out.Int64()
		Expect(i).To(Equal(int64(3)))

		out = feed(k.New(), value.Int64(1), value.Double(0.5))
		f, _ := out.Double()
		Expect(f).To(Equal(1.5))
	})

	It("sums to zero over an empty or non-numeric group", func() {
		k, _ := Lookup("sum")
		out := feed(k.New(), value.String("x"), value.Null())
		i, _ := out.Int64()
		Expect(i).To(Equal(int64(0)))
	})

	It("averages with (sum, count) state", func() {
		k, _ := Lookup("avg")
		out := feed(k.New(), value.Int64(2), value.Int64(4), value.Int64(6))
		f, _ := out.Double()
		Expect(f).To(Equal(4.0))
	})

	It("averages null over an empty group", func() {
		k, _ := Lookup("avg")
		Expect(feed(k.New()).IsNull()).To(BeTrue())
	})

	It("takes extremes under the total ordering", func() {
		minK, _ := Lookup("min")
		maxK, _ := Lookup("max")
		vs := []Value{value.Int64(3), value.Double(1.5), value.Int64(2)}
		f, _ := feed(minK.New(), vs...).Double()
		Expect(f).To(Equal(1.5))
		i, _ := feed(maxK.New(), vs...).Int64()
		Expect(i).To(Equal(int64(3)))
	})

	It("keeps first and last", func() {
		firstK, _ := Lookup("first")
		lastK, _ := Lookup("last")
		vs := []Value{value.String("a"), value.String("b"), value.String("c")}
		s, _ := feed(firstK.New(), vs...).Str()
		Expect(s).To(Equal("a"))
		s, _ = feed(lastK.New(), vs...).Str()
		Expect(s).To(Equal("c"))
	})

	It("pushes values in arrival order", func() {
		k, _ := Lookup("push")
		arr, _ := feed(k.New(), value.Int64(1), value.Int64(1), value.Int64(2)).Arr()
		Expect(arr).To(HaveLen(3))
	})

	It("deduplicates addToSet under value equality", func() {
		k, _ := Lookup("addToSet")
		arr, _ := feed(k.New(), value.Int64(1), value.Double(1.0), value.Int64(2)).Arr()
		Expect(arr).To(HaveLen(2))
	})

	It("consumes its state exactly once", func() {
		k, _ := Lookup("sum")
		a := k.New()
		Expect(a.Process(value.Int64(1))).To(Succeed())
		_, err := a.Finalize()
		Expect(err).NotTo(HaveOccurred())
		_, err = a.Finalize()
		Expect(err).To(HaveOccurred())
	})
})

var _ = Describe("Shard and merge forms", func() {
	It("splits avg into partial (sum, count) and a merging divide", func() {
		k, _ := Lookup("avg")

		p1 := feed(k.NewShard(), value.Int64(2), value.Int64(4))
		p2 := feed(k.NewShard(), value.Int64(6))

		d1, ok := p1.Document()
		Expect(ok).To(BeTrue())
		s, _ := d1.Get("sum").Int64()
		Expect(s).To(Equal(int64(6)))
		c, _ := d1.Get("count").Int64()
		Expect(c).To(Equal(int64(2)))

		merged := feed(k.NewMerge(), p1, p2)
		f, _ := merged.Double()
		Expect(f).To(Equal(4.0))
	})

	It("merges sums by summing partials", func() {
		k, _ := Lookup("sum")
		p1 := feed(k.NewShard(), value.Int64(1), value.Int64(2))
		p2 := feed(k.NewShard(), value.Int64(3))
		i, _ := feed(k.NewMerge(), p1, p2).Int64()
		Expect(i).To(Equal(int64(6)))
	})

	It("concatenates push partials and unions addToSet partials", func() {
		pushK, _ := Lookup("push")
		p1 := feed(pushK.NewShard(), value.Int64(1))
		p2 := feed(pushK.NewShard(), value.Int64(2), value.Int64(3))
		arr, _ := feed(pushK.NewMerge(), p1, p2).Arr()
		Expect(arr).To(HaveLen(3))

		setK, _ := Lookup("addToSet")
		s1 := feed(setK.NewShard(), value.Int64(1), value.Int64(2))
		s2 := feed(setK.NewShard(), value.Int64(2), value.Int64(3))
		arr, _ = feed(setK.NewMerge(), s1, s2).Arr()
		Expect(arr).To(HaveLen(3))
	})

	It("merges extremes of extremes", func() {
		k, _ := Lookup("min")
		p1 := feed(k.NewShard(), value.Int64(5), value.Int64(3))
		p2 := feed(k.NewShard(), value.Int64(4))
		i, _ := feed(k.NewMerge(), p1, p2).Int64()
		Expect(i).To(Equal(int64(3)))
	})
})
