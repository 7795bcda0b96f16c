package pipeline

import "testing"

type stubAcknowledger struct {
	id                 string
	successful, failed []*Message
}

func (a *stubAcknowledger) ID() string { return a.id }

func (a *stubAcknowledger) Ack(successful, failed []*Message) {
	a.successful = append(a.successful, successful...)
	a.failed = append(a.failed, failed...)
}

func TestAckByGroupCoalescesDistinctInstancesSharingID(t *testing.T) {
	// Two separate *stubAcknowledger values, same logical handler ID.
	a1 := &stubAcknowledger{id: "source-a"}
	a2 := &stubAcknowledger{id: "source-a"}
	b := &stubAcknowledger{id: "source-b"}

	m1 := &Message{Data: 1, Acknowledger: a1}
	m2 := &Message{Data: 2, Acknowledger: a2}
	m3 := &Message{Data: 3, Acknowledger: b}

	batch := []*Message{m1, m2, m3}
	ackByGroup(batch, Ack{Successful: []*Message{m1, m2, m3}})

	if len(a1.successful) != 2 {
		t.Fatalf("a1.successful = %d, want 2 (coalesced with a2's run)", len(a1.successful))
	}
	if len(a2.successful) != 0 {
		t.Fatalf("a2.successful = %d, want 0 (its run was acked via a1)", len(a2.successful))
	}
	if len(b.successful) != 1 {
		t.Fatalf("b.successful = %d, want 1", len(b.successful))
	}
}

func TestAckByGroupSplitsSuccessfulAndFailedWithinARun(t *testing.T) {
	a := &stubAcknowledger{id: "source-a"}
	m1 := &Message{Data: 1, Acknowledger: a}
	m2 := &Message{Data: 2, Acknowledger: a}

	batch := []*Message{m1, m2}
	ackByGroup(batch, Ack{Successful: []*Message{m1}, Failed: []*Message{m2}})

	if len(a.successful) != 1 || a.successful[0] != m1 {
		t.Fatalf("successful = %v, want [m1]", a.successful)
	}
	if len(a.failed) != 1 || a.failed[0] != m2 {
		t.Fatalf("failed = %v, want [m2]", a.failed)
	}
}

func TestAckByGroupSkipsNilAcknowledger(t *testing.T) {
	m := &Message{Data: 1, Acknowledger: nil}
	// Must not panic.
	ackByGroup([]*Message{m}, Ack{Successful: []*Message{m}})
}
