// Package merger projects scored probabilities back onto the full record set.
package merger

import "github.com/crimson-sun/sentinel/internal/model"

// Merge returns one annotated row per record, in input order. Every row starts
// with AnomalyProb 0. For each scored record, all rows sharing its
// (run_id, timestamp, stage) key take its probability; a later scored record
// with the same key overwrites an earlier one. Merging the same anomalies
// again yields the same result.
func Merge(records []model.LogRecord, scored []model.ScoredRecord) []model.AnnotatedRecord {
	byKey := make(map[model.Key][]int, len(records))
	out := make([]model.AnnotatedRecord, len(records))
	for i, r := range records {
		out[i] = model.AnnotatedRecord{LogRecord: r}
		k := r.Key()
		byKey[k] = append(byKey[k], i)
	}

	for _, s := range scored {
		for _, i := range byKey[s.Key()] {
			out[i].AnomalyProb = s.AnomalyProb
			out[i].Anomalous = true
		}
	}
	return out
}

// Count returns the number of rows matched by a scored anomaly.
func Count(rows []model.AnnotatedRecord) int {
	n := 0
	for _, r := range rows {
		if r.Anomalous {
			n++
		}
	}
	return n
}
