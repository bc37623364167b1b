// Package querystore keeps the sampled values of the loaded signals over one
// time interval and answers point-in-time queries against them.
package querystore

import (
	"math/big"
	"slices"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/sarchlab/cxxrtlbridge/naming"
	"github.com/sarchlab/cxxrtlbridge/notify"
	"github.com/sarchlab/cxxrtlbridge/protocol"
	"github.com/sarchlab/cxxrtlbridge/timestamp"
)

// A Sample is the value of one signal from Time on.
type Sample struct {
	Time  timestamp.Timestamp
	Value *big.Int
}

// Result is the answer to a point query. Current is the sample active at the
// queried time and Next is the time of the following sample. Both are nil if
// there is no such sample.
type Result struct {
	Current *Sample
	Next    *timestamp.Timestamp
}

// Store holds per-signal samples ordered by time.
type Store struct {
	values map[naming.VariableRef][]Sample
}

// New creates an empty Store.
func New() *Store {
	return &Store{values: make(map[naming.VariableRef][]Sample)}
}

// Populate replaces the content of the store with the samples of a
// query_interval response. Each sample carries the values of all loaded
// signals, in load order, encoded as base64(u32). A redraw is requested once
// the store is updated.
func (s *Store) Populate(
	loaded []naming.VariableRef,
	items map[naming.VariableRef]protocol.Item,
	samples []protocol.Sample,
	n notify.Notifier,
) {
	values := make(map[naming.VariableRef][]Sample, len(loaded))

	for _, sample := range samples {
		s.decodeSample(loaded, items, sample, values)
	}

	for _, v := range values {
		slices.SortStableFunc(v, func(a, b Sample) int {
			return a.Time.Cmp(b.Time)
		})
	}

	s.values = values

	logrus.WithField("samples", len(samples)).
		WithField("signals", len(loaded)).
		Debug("interval query store populated")

	n.Notify(notify.Redraw())
}

func (s *Store) decodeSample(
	loaded []naming.VariableRef,
	items map[naming.VariableRef]protocol.Item,
	sample protocol.Sample,
	values map[naming.VariableRef][]Sample,
) {
	words, err := DecodeWords(sample.ItemValues)
	if err != nil {
		logrus.WithError(err).WithField("time", sample.Time.String()).
			Error("cannot decode sample item values")
		return
	}

	offset := 0
	for _, signal := range loaded {
		item, ok := items[signal]
		if !ok {
			logrus.WithField("variable", signal.String()).
				Error("loaded signal is not in the item table, " +
					"dropping the rest of the sample")
			return
		}

		n := item.Words()
		if offset+n > len(words) {
			logrus.WithField("time", sample.Time.String()).
				Error("sample is shorter than the loaded signals")
			return
		}

		values[signal] = append(values[signal], Sample{
			Time:  sample.Time,
			Value: WordsToInt(words[offset : offset+n]),
		})
		offset += n
	}
}

// Query returns the sample of v active at t: the last sample whose time is
// not after t.
func (s *Store) Query(v naming.VariableRef, t timestamp.Timestamp) Result {
	samples, ok := s.values[v]
	if !ok {
		return Result{}
	}

	next := sort.Search(len(samples), func(i int) bool {
		return samples[i].Time.Cmp(t) > 0
	})

	result := Result{}
	if next > 0 {
		current := samples[next-1]
		result.Current = &current
	}

	if next < len(samples) {
		nextTime := samples[next].Time
		result.Next = &nextTime
	}

	return result
}

// Signals returns the signals that have samples.
func (s *Store) Signals() []naming.VariableRef {
	signals := make([]naming.VariableRef, 0, len(s.values))
	for v := range s.values {
		signals = append(signals, v)
	}

	return signals
}

// Len returns the number of samples held for v.
func (s *Store) Len(v naming.VariableRef) int {
	return len(s.values[v])
}
