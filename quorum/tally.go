// Package quorum reduces divergent replica replies into a single answer.
//
// A Tally counts votes for hashed candidates and failures reported by replicas that
// could not answer. After every outcome it is asked whether a winner can be elected:
//   - by majority, once a candidate has strictly more votes than the threshold;
//   - by fallback, once votes and failures together exceed the threshold, in which case
//     the leading candidate wins and ties keep the incumbent leader.
package quorum

// Threshold returns the vote threshold for n replicas, that is ceil(n/2).
// A candidate needs strictly more votes than the threshold to win by majority.
func Threshold(n int) int {
	if n <= 0 {
		return 0
	}
	return (n + 1) / 2
}

// TieBreak reports whether the challenger should replace the incumbent leader when both
// carry the same number of votes.
type TieBreak[T any] func(challenger, incumbent T) bool

type candidate[T any] struct {
	value T
	votes int
}

// Tally is a vote map for a single request. It is not safe for concurrent use.
type Tally[T any] struct {
	threshold int
	replicas  int

	candidates map[string]*candidate[T]
	leader     *candidate[T]
	votes      int
	failures   int

	tieBreak TieBreak[T]
}

// NewTally creates a Tally for the given number of replicas.
// The optional TieBreak only applies between equally voted candidates.
func NewTally[T any](replicas int, tieBreak TieBreak[T]) *Tally[T] {
	return &Tally[T]{
		threshold:  Threshold(replicas),
		replicas:   replicas,
		candidates: make(map[string]*candidate[T], replicas),
		tieBreak:   tieBreak,
	}
}

// Threshold reports the Tally's vote threshold.
func (t *Tally[T]) Threshold() int {
	return t.threshold
}

// Vote counts a reply under its key and reports the elected value, if any.
func (t *Tally[T]) Vote(key []byte, value T) (T, bool) {
	c, ok := t.candidates[string(key)]
	if !ok {
		c = &candidate[T]{value: value}
		t.candidates[string(key)] = c
	}
	c.votes++
	t.votes++

	switch {
	case t.leader == nil, c.votes > t.leader.votes:
		t.leader = c
	case c != t.leader && c.votes == t.leader.votes && t.tieBreak != nil && t.tieBreak(c.value, t.leader.value):
		t.leader = c
	}

	if c.votes > t.threshold {
		return c.value, true
	}
	return t.fallback()
}

// Fail counts a replica that could not produce a reply and reports the elected value, if any.
func (t *Tally[T]) Fail() (T, bool) {
	t.failures++
	return t.fallback()
}

// Done reports whether every replica has produced an outcome.
func (t *Tally[T]) Done() bool {
	return t.votes+t.failures >= t.replicas
}

// Leader returns the current leading value and its votes.
func (t *Tally[T]) Leader() (T, int) {
	if t.leader == nil {
		var zero T
		return zero, 0
	}
	return t.leader.value, t.leader.votes
}

// Failures reports the number of failed replicas.
func (t *Tally[T]) Failures() int {
	return t.failures
}

// fallback elects the leader once enough outcomes were observed without a majority.
func (t *Tally[T]) fallback() (T, bool) {
	var zero T
	if t.leader == nil || t.votes+t.failures <= t.threshold {
		return zero, false
	}
	return t.leader.value, true
}
