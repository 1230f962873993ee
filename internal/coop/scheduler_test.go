package coop

import "testing"

func TestSchedulerLazyAllocationAndRoundRobin(t *testing.T) {
	s := NewScheduler(3)
	defer s.Close()

	first := []*Thread{s.CreateThread(), s.CreateThread(), s.CreateThread()}
	for i, th := range first {
		if th == nil {
			t.Fatalf("thread %d is nil", i)
		}
		for j := 0; j < i; j++ {
			if th == first[j] {
				t.Fatalf("threads %d and %d are the same before the cap", i, j)
			}
		}
	}
	if s.ThreadCount() != 3 {
		t.Fatalf("ThreadCount = %d, want 3", s.ThreadCount())
	}

	// Past the cap, assignment round-robins over the existing pool.
	for i := 0; i < 6; i++ {
		th := s.CreateThread()
		if th != first[i%3] {
			t.Fatalf("round-robin assignment %d returned unexpected thread", i)
		}
	}
	if s.ThreadCount() != 3 {
		t.Fatalf("ThreadCount grew past the cap: %d", s.ThreadCount())
	}
}

func TestSchedulerDisabledPooling(t *testing.T) {
	s := NewScheduler(0)
	defer s.Close()

	if th := s.CreateThread(); th != nil {
		t.Fatal("CreateThread returned a thread with pooling disabled")
	}
}

func TestRegistryPinsResourceKey(t *testing.T) {
	r := NewRegistry()
	defer r.Close()

	m1 := r.GetOrAdd("M1")
	m2 := r.GetOrAdd("M2")
	if m1 == m2 {
		t.Fatal("distinct resource keys share a thread")
	}
	if again := r.GetOrAdd("M1"); again != m1 {
		t.Fatal("same resource key returned a different thread")
	}
	if r.Len() != 2 {
		t.Fatalf("Len = %d, want 2", r.Len())
	}
}
