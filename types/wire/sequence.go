package wire

// SequenceInit is the initial "last received" sequence, so that sequence 0 is accepted first.
const SequenceInit uint16 = 0xFFFF

const sequenceHalfWindow = 0x7FFF

// SequenceNewer reports whether seq is newer than last under 16-bit wraparound.
//
// seq is rejected iff it trails last by at most half the sequence space, itself included.
func SequenceNewer(seq, last uint16) bool {
	return last-seq > sequenceHalfWindow
}
