package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	log "github.com/sirupsen/logrus"

	ports "detection-quant-bench/internal/core/ports/output"
	"detection-quant-bench/internal/engine"
)

// DefaultInt8TrainSize bounds the calibration sequence.
const DefaultInt8TrainSize = 100

// RepresentativeFeeder yields preprocessed [1 H W 3] training samples for
// int8 calibration. Each Open restarts from the first record of the split.
type RepresentativeFeeder struct {
	split ports.Split
	pre   *Preprocessor
	limit int
}

func NewRepresentativeFeeder(split ports.Split, pre *Preprocessor, limit int) *RepresentativeFeeder {
	if limit <= 0 {
		limit = DefaultInt8TrainSize
	}
	return &RepresentativeFeeder{split: split, pre: pre, limit: limit}
}

func (f *RepresentativeFeeder) Limit() int {
	return f.limit
}

func (f *RepresentativeFeeder) Open(ctx context.Context) (ports.SampleIterator, error) {
	records, err := f.split.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open %s split: %w", f.split.Name(), err)
	}
	return &feederIterator{records: records, pre: f.pre, limit: f.limit}, nil
}

type feederIterator struct {
	records ports.RecordIterator
	pre     *Preprocessor
	limit   int
	n       int
}

func (it *feederIterator) Next(ctx context.Context) (*engine.Tensor, error) {
	if it.n >= it.limit {
		return nil, io.EOF
	}
	rec, err := it.records.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, io.EOF
	}
	if err != nil {
		return nil, fmt.Errorf("read representative record: %w", err)
	}

	x, err := it.pre.Preprocess(rec.Image)
	if err != nil {
		return nil, fmt.Errorf("record %d: %w", rec.Index, err)
	}
	batch, err := x.Reshape(append([]int{1}, x.Shape...)...)
	if err != nil {
		return nil, err
	}

	it.n++
	if it.n%10 == 0 || it.n == it.limit {
		log.WithFields(log.Fields{
			"sample": it.n,
			"limit":  it.limit,
		}).Info("representative dataset progress")
	}
	return batch, nil
}

func (it *feederIterator) Close() error {
	return it.records.Close()
}
