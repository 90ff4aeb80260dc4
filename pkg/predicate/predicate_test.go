package predicate

import (
	"testing"

	ginkgo "github.com/onsi/ginkgo/v2"
	gomega "github.com/onsi/gomega"

	"github.com/l7mp/docpipe/pkg/value"
)

func TestPredicate(t *testing.T) {
	gomega.RegisterFailHandler(ginkgo.Fail)
	ginkgo.RunSpecs(t, "Predicate")
}

func compile(spec string) Predicate {
	d, err := value.ParseDocument([]byte(spec))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	p, err := Parse(d)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return p
}

func matches(spec, doc string) bool {
	d, err := value.ParseDocument([]byte(doc))
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	ok, err := compile(spec).Matches(d)
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return ok
}

var _ = ginkgo.Describe("Matching", func() {
	ginkgo.It("matches literal equality", func() {
		gomega.Expect(matches(`{"a": 1}`, `{"a": 1}`)).To(gomega.BeTrue())
		gomega.Expect(matches(`{"a": 1}`, `{"a": 2}`)).To(gomega.BeFalse())
		gomega.Expect(matches(`{"a": 1}`, `{"b": 1}`)).To(gomega.BeFalse())
	})

	ginkgo.It("matches numeric equality across widths", func() {
		gomega.Expect(matches(`{"a": 1}`, `{"a": 1.0}`)).To(gomega.BeTrue())
	})

	ginkgo.It("applies comparison operators within one variant class", func() {
		gomega.Expect(matches(`{"a": {"$gt": 1}}`, `{"a": 2}`)).To(gomega.BeTrue())
		gomega.Expect(matches(`{"a": {"$gt": 1}}`, `{"a": 1}`)).To(gomega.BeFalse())
		gomega.Expect(matches(`{"a": {"$gt": 1}}`, `{"a": "x"}`)).To(gomega.BeFalse())
		gomega.Expect(matches(`{"a": {"$gte": 1, "$lt": 3}}`, `{"a": 2}`)).To(gomega.BeTrue())
		gomega.Expect(matches(`{"a": {"$gte": 1, "$lt": 3}}`, `{"a": 3}`)).To(gomega.BeFalse())
	})

	ginkgo.It("distinguishes missing from null", func() {
		gomega.Expect(matches(`{"a": null}`, `{"b": 1}`)).To(gomega.BeFalse())
		gomega.Expect(matches(`{"a": null}`, `{"a": null}`)).To(gomega.BeTrue())
		gomega.Expect(matches(`{"a": {"$exists": false}}`, `{"b": 1}`)).To(gomega.BeTrue())
		gomega.Expect(matches(`{"a": {"$exists": true}}`, `{"a": null}`)).To(gomega.BeTrue())
	})

	ginkgo.It("handles $in and $nin", func() {
		gomega.Expect(matches(`{"a": {"$in": [1, 2]}}`, `{"a": 2}`)).To(gomega.BeTrue())
		gomega.Expect(matches(`{"a": {"$in": [1, 2]}}`, `{"a": 3}`)).To(gomega.BeFalse())
		gomega.Expect(matches(`{"a": {"$nin": [1, 2]}}`, `{"a": 3}`)).To(gomega.BeTrue())
	})

	ginkgo.It("conjoins multiple top-level fields", func() {
		gomega.Expect(matches(`{"a": 1, "b": 2}`, `{"a": 1, "b": 2}`)).To(gomega.BeTrue())
		gomega.Expect(matches(`{"a": 1, "b": 2}`, `{"a": 1, "b": 3}`)).To(gomega.BeFalse())
	})

	ginkgo.It("combines with $and and $or", func() {
		spec := `{"$or": [{"a": 1}, {"b": {"$gt": 5}}]}`
		gomega.Expect(matches(spec, `{"a": 1}`)).To(gomega.BeTrue())
		gomega.Expect(matches(spec, `{"b": 6}`)).To(gomega.BeTrue())
		gomega.Expect(matches(spec, `{"a": 2, "b": 5}`)).To(gomega.BeFalse())
	})

	ginkgo.It("navigates dotted paths", func() {
		gomega.Expect(matches(`{"a.b": 1}`, `{"a": {"b": 1}}`)).To(gomega.BeTrue())
	})

	ginkgo.It("matches everything with the empty predicate", func() {
		gomega.Expect(matches(`{}`, `{"a": 1}`)).To(gomega.BeTrue())
	})
})

var _ = ginkgo.Describe("Dependencies", func() {
	ginkgo.It("enumerates referenced paths", func() {
		p := compile(`{"a.b": 1, "$or": [{"c": 2}, {"d": {"$lt": 5}}]}`)
		paths, ok := p.Paths()
		gomega.Expect(ok).To(gomega.BeTrue())
		names := []string{}
		for _, q := range paths {
			names = append(names, q.String())
		}
		gomega.Expect(names).To(gomega.ConsistOf("a.b", "c", "d"))
	})

	ginkgo.It("declines enumeration for opaque predicates", func() {
		p := Func{F: func(*value.Document) (bool, error) { return true, nil }}
		_, ok := p.Paths()
		gomega.Expect(ok).To(gomega.BeFalse())
	})
})

var _ = ginkgo.Describe("Composition and round-trip", func() {
	ginkgo.It("conjoins with And", func() {
		p := andFn(compile(`{"a": {"$gt": 1}}`), compile(`{"a": {"$lt": 3}}`))
		d := value.MustDocument(value.Field{Name: "a", Value: value.Int64(2)})
		ok, err := p.Matches(d)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeTrue())

		d = value.MustDocument(value.Field{Name: "a", Value: value.Int64(3)})
		ok, err = p.Matches(d)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(ok).To(gomega.BeFalse())
	})

	ginkgo.It("re-emits a parsable predicate document", func() {
		p := compile(`{"a": {"$gte": 2}, "b": "x"}`)
		d, ok := p.Serialize().Document()
		gomega.Expect(ok).To(gomega.BeTrue())
		rp, err := Parse(d)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())

		probe := value.MustDocument(
			value.Field{Name: "a", Value: value.Int64(2)},
			value.Field{Name: "b", Value: value.String("x")},
		)
		ok1, err := p.Matches(probe)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		ok2, err := rp.Matches(probe)
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		gomega.Expect(ok1).To(gomega.Equal(ok2))
		gomega.Expect(ok1).To(gomega.BeTrue())
	})

	ginkgo.It("rejects malformed predicates", func() {
		d, err := value.ParseDocument([]byte(`{"a": {"$frob": 1}}`))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		_, err = Parse(d)
		gomega.Expect(err).To(gomega.HaveOccurred())

		d, err = value.ParseDocument([]byte(`{"$and": "not-an-array"}`))
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		_, err = Parse(d)
		gomega.Expect(err).To(gomega.HaveOccurred())
	})
})
