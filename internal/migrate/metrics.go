package migrate

import (
	"context"
	"math"
)

// TruthEntry pairs a query with the document IDs a human judged relevant.
type TruthEntry struct {
	Query    string   `json:"query"`
	Tenant   string   `json:"tenant"`
	Relevant []string `json:"relevant"`
}

// FetchFunc returns candidate document IDs for a query, most relevant first.
type FetchFunc func(ctx context.Context, query, tenant string, topK int) ([]string, error)

// EvalReport aggregates cutover quality metrics over a truth set.
type EvalReport struct {
	MeanAgreement float64
	MeanNDCG      float64
	Queries       int
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// AgreementAtK measures how much of the truth set's top k the candidate
// list recovered. Both lists are deduplicated preserving order, truth is
// truncated to k, and the score is the overlap divided by the truncated
// truth size. An empty truth set scores 0.
func AgreementAtK(truth, candidate []string, k int) float64 {
	if k < 1 {
		return 0
	}
	t := dedupe(truth)
	if len(t) > k {
		t = t[:k]
	}
	if len(t) == 0 {
		return 0
	}
	c := dedupe(candidate)
	if len(c) > k {
		c = c[:k]
	}
	inTruth := make(map[string]struct{}, len(t))
	for _, id := range t {
		inTruth[id] = struct{}{}
	}
	hits := 0
	for _, id := range c {
		if _, ok := inTruth[id]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(t))
}

// NDCGAt10 computes normalized discounted cumulative gain over the top 10
// candidates with binary relevance. The ideal DCG is taken over the
// relevant items actually retrieved, so the score isolates ordering
// quality while agreement@k accounts for recall. No relevant documents in
// the candidate list scores 0.
func NDCGAt10(relevant, candidate []string) float64 {
	rel := dedupe(relevant)
	if len(rel) == 0 {
		return 0
	}
	isRel := make(map[string]struct{}, len(rel))
	for _, id := range rel {
		isRel[id] = struct{}{}
	}
	c := dedupe(candidate)
	if len(c) > 10 {
		c = c[:10]
	}
	var dcg float64
	found := 0
	for i, id := range c {
		if _, ok := isRel[id]; ok {
			found++
			dcg += 1 / math.Log2(float64(i)+2)
		}
	}
	if found == 0 {
		return 0
	}
	var idcg float64
	for i := 0; i < found; i++ {
		idcg += 1 / math.Log2(float64(i)+2)
	}
	return dcg / idcg
}

// EvaluateFromTruth runs every truth entry through fetch and averages the
// quality metrics. Entries with an empty query are skipped, and fetch
// errors skip the entry rather than aborting the whole evaluation.
func EvaluateFromTruth(ctx context.Context, entries []TruthEntry, fetch FetchFunc, k int) (EvalReport, error) {
	var report EvalReport
	var sumAgreement, sumNDCG float64
	for _, entry := range entries {
		if entry.Query == "" {
			continue
		}
		ids, err := fetch(ctx, entry.Query, entry.Tenant, 10)
		if err != nil {
			if ctx.Err() != nil {
				return report, ctx.Err()
			}
			continue
		}
		sumAgreement += AgreementAtK(entry.Relevant, ids, k)
		sumNDCG += NDCGAt10(entry.Relevant, ids)
		report.Queries++
	}
	if report.Queries > 0 {
		report.MeanAgreement = sumAgreement / float64(report.Queries)
		report.MeanNDCG = sumNDCG / float64(report.Queries)
	}
	return report, nil
}
