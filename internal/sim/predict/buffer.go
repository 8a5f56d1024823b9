package predict

import "moba-arena/internal/sim/rules"

const bufferSize = 128

// Record pairs an input with the state predicted after applying it.
type Record struct {
	Seq       uint32
	Input     rules.Input
	Predicted rules.EntityState
}

// Buffer is a ring of recent inputs and their predicted outcomes, kept until
// the server acknowledges them through a snapshot's lastProcessedSeq.
type Buffer struct {
	records [bufferSize]Record
	nextSeq uint32
	seeded  bool
}

// Store saves an input and the state predicted after it.
func (b *Buffer) Store(seq uint32, in rules.Input, predicted rules.EntityState) {
	b.records[seq%bufferSize] = Record{Seq: seq, Input: in, Predicted: predicted}
	b.nextSeq = seq + 1
	b.seeded = true
}

// Get retrieves a record by sequence number. Returns false when the slot was
// never written or has been overwritten by a newer sequence.
func (b *Buffer) Get(seq uint32) (Record, bool) {
	record := b.records[seq%bufferSize]
	if !b.seeded || record.Seq != seq {
		return Record{}, false
	}
	return record, true
}

// NextSeq returns the next sequence number the client should send.
func (b *Buffer) NextSeq() uint32 {
	return b.nextSeq
}

// Unacknowledged returns, in order, every stored record the server has not
// confirmed yet.
func (b *Buffer) Unacknowledged(lastAcked uint32) []Record {
	var results []Record
	for seq := lastAcked + 1; seq < b.nextSeq; seq++ {
		if record, ok := b.Get(seq); ok {
			results = append(results, record)
		}
	}
	return results
}
