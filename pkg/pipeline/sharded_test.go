package pipeline

import (
	"context"

	ginkgo "github.com/onsi/ginkgo/v2"
	gomega "github.com/onsi/gomega"

	"github.com/l7mp/docpipe/pkg/value"
)

// runSharded executes a pipeline spec over partitioned input: the shard plan
// runs once per partition, the router plan merges the shard outputs through a
// shards source.
func runSharded(spec string, partitions map[string]string) []string {
	results := map[string][]*value.Document{}
	for id, input := range partitions {
		p := newPipeline(spec, Options{})
		shardPlan, _ := p.SplitForSharded()
		gomega.Expect(shardPlan.BindDocs(parseDocs(input))).To(gomega.Succeed())
		docs, err := shardPlan.Documents(context.Background())
		gomega.Expect(err).NotTo(gomega.HaveOccurred())
		results[id] = docs
	}

	p := newPipeline(spec, Options{})
	_, routerPlan := p.SplitForSharded()
	gomega.Expect(routerPlan.BindShards(results)).To(gomega.Succeed())
	docs, err := routerPlan.Documents(context.Background())
	gomega.Expect(err).NotTo(gomega.HaveOccurred())
	return jsonify(docs)
}

func stageNames(p *Pipeline) []string {
	names := []string{}
	for _, s := range p.Stages() {
		names = append(names, s.Name())
	}
	return names
}

var _ = ginkgo.Describe("Sharded split", func() {
	ginkgo.It("places shard-safe stages on the shards and merging stages on the router", func() {
		p := newPipeline(
			`[{"match": {"k": "x"}}, {"unwind": "$t"}, {"group": {"_id": "$k", "s": {"sum": "$v"}}}, {"sort": {"_id": 1}}, {"limit": 2}]`,
			Options{})
		shardPlan, routerPlan := p.SplitForSharded()
		gomega.Expect(stageNames(shardPlan)).To(gomega.Equal([]string{"match", "unwind", "group"}))
		gomega.Expect(stageNames(routerPlan)).To(gomega.Equal([]string{"group", "sort", "limit"}))
	})

	ginkgo.It("ships a limit copy to the shards and keeps the original on the router", func() {
		p := newPipeline(`[{"limit": 2}]`, Options{})
		shardPlan, routerPlan := p.SplitForSharded()
		gomega.Expect(stageNames(shardPlan)).To(gomega.Equal([]string{"limit"}))
		gomega.Expect(stageNames(routerPlan)).To(gomega.Equal([]string{"limit"}))
	})

	ginkgo.It("keeps skip and sort off the shards", func() {
		p := newPipeline(`[{"skip": 1}, {"sort": {"n": 1}}]`, Options{})
		shardPlan, routerPlan := p.SplitForSharded()
		gomega.Expect(stageNames(shardPlan)).To(gomega.BeEmpty())
		gomega.Expect(stageNames(routerPlan)).To(gomega.Equal([]string{"skip", "sort"}))
	})

	ginkgo.It("merges partial averages on the router", func() {
		out := runSharded(
			`[{"group": {"_id": "$k", "avg": {"avg": "$v"}}}]`,
			map[string]string{
				"shard-a": `[{"k": "x", "v": 2}, {"k": "x", "v": 4}]`,
				"shard-b": `[{"k": "x", "v": 6}]`,
			})
		gomega.Expect(out).To(gomega.Equal([]string{`{"_id":"x","avg":4}`}))
	})

	ginkgo.It("produces the single-node group result for any partitioning", func() {
		spec := `[{"group": {"_id": "$k", "s": {"sum": "$v"}, "all": {"addToSet": "$v"}}}, {"sort": {"_id": 1}}]`
		whole := `[{"k": "x", "v": 1}, {"k": "y", "v": 2}, {"k": "x", "v": 1}, {"k": "z", "v": 3}, {"k": "y", "v": 4}]`

		single := run(spec, whole)
		sharded := runSharded(spec, map[string]string{
			"shard-a": `[{"k": "x", "v": 1}, {"k": "y", "v": 2}]`,
			"shard-b": `[{"k": "x", "v": 1}, {"k": "z", "v": 3}]`,
			"shard-c": `[{"k": "y", "v": 4}]`,
		})
		gomega.Expect(sharded).To(gomega.Equal(single))
	})

	ginkgo.It("bounds sharded limits end to end", func() {
		out := runSharded(`[{"sort": {"n": 1}}, {"limit": 2}]`, map[string]string{
			"shard-a": `[{"n": 5}, {"n": 1}, {"n": 3}]`,
			"shard-b": `[{"n": 4}, {"n": 2}]`,
		})
		gomega.Expect(out).To(gomega.Equal([]string{`{"n":1}`, `{"n":2}`}))
	})

	ginkgo.It("matches and projects on the shards", func() {
		spec := `[{"match": {"v": {"$gt": 1}}}, {"project": {"v": 1, "_id": 0}}, {"sort": {"v": 1}}]`
		out := runSharded(spec, map[string]string{
			"shard-a": `[{"v": 1}, {"v": 3}]`,
			"shard-b": `[{"v": 2}]`,
		})
		gomega.Expect(out).To(gomega.Equal([]string{`{"v":2}`, `{"v":3}`}))
	})

	ginkgo.It("flattens shard results in stable shard order", func() {
		src := NewShardsSource(map[string][]*value.Document{
			"b": parseDocs(`[{"n": 3}]`),
			"a": parseDocs(`[{"n": 1}, {"n": 2}]`),
		}, logger)
		gomega.Expect(drain(src)).To(gomega.Equal([]string{`{"n":1}`, `{"n":2}`, `{"n":3}`}))
	})
})
