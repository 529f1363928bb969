// Package normalize decodes raw log sources into a uniform record set.
package normalize

import (
	"context"
	"log/slog"

	"github.com/crimson-sun/sentinel/internal/model"
	"github.com/crimson-sun/sentinel/internal/source"
)

// Result is the normalized record set plus one warning per skipped source.
type Result struct {
	Dataset  model.Dataset
	Warnings []*UnreadableSourceError
}

// Normalize decodes every source and concatenates the records in input order.
// Unreadable sources are skipped with a warning. If no source can be read,
// an *EmptyInputError is returned.
func Normalize(ctx context.Context, sources []source.Source) (Result, error) {
	var res Result
	cols := newColumnSet()
	readable := 0

	for _, src := range sources {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		records, names, err := decodeSource(src)
		if err != nil {
			w := &UnreadableSourceError{Source: src.Name(), Err: err}
			slog.Warn("skipping unreadable source", "source", src.Name(), "error", err)
			res.Warnings = append(res.Warnings, w)
			continue
		}

		readable++
		res.Dataset.Records = append(res.Dataset.Records, records...)
		for _, n := range names {
			cols.add(n)
		}
		slog.Debug("source normalized", "source", src.Name(), "records", len(records))
	}

	if readable == 0 {
		return Result{Warnings: res.Warnings}, &EmptyInputError{Failures: res.Warnings}
	}
	res.Dataset.Columns = cols.names
	return res, nil
}

func decodeSource(src source.Source) ([]model.LogRecord, []string, error) {
	data, err := source.ReadAll(src)
	if err != nil {
		return nil, nil, err
	}
	decode := decoders[source.DetectFormat(src.Name())]
	return decode(data)
}
