package store

import (
	"path/filepath"
	"testing"

	"github.com/go-logr/zapr"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/l7mp/docpipe/pkg/fieldpath"
	"github.com/l7mp/docpipe/pkg/value"
)

var (
	loglevel = -4
	logger   = zapr.NewLogger(zap.New(zapcore.NewCore(
		zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()),
		zapcore.AddSync(GinkgoWriter),
		zapcore.Level(loglevel),
	)))
)

func TestStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Store")
}

func mustDoc(spec string) *value.Document {
	d, err := value.ParseDocument([]byte(spec))
	Expect(err).NotTo(HaveOccurred())
	return d
}

var _ = Describe("Collections", func() {
	var st *Store

	BeforeEach(func() {
		var err error
		st, err = Open(filepath.Join(GinkgoT().TempDir(), "docpipe.db"), logger)
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		Expect(st.Close()).To(Succeed())
	})

	It("round-trips documents in insertion order", func() {
		Expect(st.Insert("c", mustDoc(`{"n":1}`), mustDoc(`{"n":2}`))).To(Succeed())
		Expect(st.Insert("c", mustDoc(`{"n":3}`))).To(Succeed())

		cur, err := st.Find("c")
		Expect(err).NotTo(HaveOccurred())
		defer cur.Close() //nolint:errcheck

		var got []string
		for {
			doc, ok, err := cur.Next()
			Expect(err).NotTo(HaveOccurred())
			if !ok {
				break
			}
			b, err := doc.MarshalJSON()
			Expect(err).NotTo(HaveOccurred())
			got = append(got, string(b))
		}
		Expect(got).To(Equal([]string{`{"n":1}`, `{"n":2}`, `{"n":3}`}))
	})

	It("returns an empty stream for an unknown collection", func() {
		cur, err := st.Find("nope")
		Expect(err).NotTo(HaveOccurred())
		defer cur.Close() //nolint:errcheck
		_, ok, err := cur.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("keeps field order through storage", func() {
		Expect(st.Insert("c", mustDoc(`{"z":1,"a":{"m":2,"b":3}}`))).To(Succeed())
		cur, err := st.Find("c")
		Expect(err).NotTo(HaveOccurred())
		defer cur.Close() //nolint:errcheck
		doc, ok, err := cur.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		b, err := doc.MarshalJSON()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(Equal(`{"z":1,"a":{"m":2,"b":3}}`))
	})

	It("applies a pushed projection at materialization", func() {
		Expect(st.Insert("c", mustDoc(`{"_id":1,"a":{"b":2,"c":3},"x":4}`))).To(Succeed())
		cur, err := st.Find("c")
		Expect(err).NotTo(HaveOccurred())
		defer cur.Close() //nolint:errcheck

		cur.SetProjection([]fieldpath.Path{fieldpath.MustParse("a.b")}, false)
		doc, ok, err := cur.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeTrue())
		b, err := doc.MarshalJSON()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(Equal(`{"a":{"b":2}}`))
	})

	It("keeps the id field when the projection asks for it", func() {
		Expect(st.Insert("c", mustDoc(`{"_id":1,"a":2,"x":3}`))).To(Succeed())
		cur, err := st.Find("c")
		Expect(err).NotTo(HaveOccurred())
		defer cur.Close() //nolint:errcheck

		cur.SetProjection([]fieldpath.Path{fieldpath.MustParse("a")}, true)
		doc, _, err := cur.Next()
		Expect(err).NotTo(HaveOccurred())
		b, err := doc.MarshalJSON()
		Expect(err).NotTo(HaveOccurred())
		Expect(string(b)).To(Equal(`{"_id":1,"a":2}`))
	})

	It("isolates a cursor from overlapping writes", func() {
		Expect(st.Insert("c", mustDoc(`{"n":1}`))).To(Succeed())
		cur, err := st.Find("c")
		Expect(err).NotTo(HaveOccurred())

		done := make(chan error, 1)
		go func() { done <- st.Insert("c", mustDoc(`{"n":2}`)) }()

		var n int
		for {
			_, ok, err := cur.Next()
			Expect(err).NotTo(HaveOccurred())
			if !ok {
				break
			}
			n++
		}
		Expect(n).To(Equal(1))
		Expect(cur.Close()).To(Succeed())
		Expect(<-done).To(Succeed())
	})

	It("closing a cursor is idempotent", func() {
		cur, err := st.Find("c")
		Expect(err).NotTo(HaveOccurred())
		Expect(cur.Close()).To(Succeed())
		Expect(cur.Close()).To(Succeed())
		_, ok, err := cur.Next()
		Expect(err).NotTo(HaveOccurred())
		Expect(ok).To(BeFalse())
	})

	It("replaces a collection through the writer", func() {
		Expect(st.Insert("o", mustDoc(`{"old":1}`))).To(Succeed())

		w, err := st.Writer("o")
		Expect(err).NotTo(HaveOccurred())
		Expect(w.Write(mustDoc(`{"new":1}`))).To(Succeed())
		Expect(w.Write(mustDoc(`{"new":2}`))).To(Succeed())
		Expect(w.Close()).To(Succeed())

		cur, err := st.Find("o")
		Expect(err).NotTo(HaveOccurred())
		defer cur.Close() //nolint:errcheck
		var got []string
		for {
			doc, ok, err := cur.Next()
			Expect(err).NotTo(HaveOccurred())
			if !ok {
				break
			}
			b, _ := doc.MarshalJSON()
			got = append(got, string(b))
		}
		Expect(got).To(Equal([]string{`{"new":1}`, `{"new":2}`}))
	})
})
