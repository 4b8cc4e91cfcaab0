package worker

import "testing"

func TestOwnsPartitionsJobIndicesDisjointly(t *testing.T) {
	size := 3
	owners := make(map[int]int)
	for job := 0; job < 30; job++ {
		ownedBy := -1
		for rank := 0; rank < size; rank++ {
			a, err := Parse(size, rank)
			if err != nil {
				t.Fatalf("Parse(%d,%d): %v", size, rank, err)
			}
			if a.Owns(job) {
				if ownedBy != -1 {
					t.Fatalf("job %d owned by both rank %d and %d", job, ownedBy, rank)
				}
				ownedBy = rank
			}
		}
		if ownedBy == -1 {
			t.Fatalf("job %d owned by no rank", job)
		}
		owners[job] = ownedBy
	}
}

func TestSingleOwnsEverything(t *testing.T) {
	for job := 0; job < 10; job++ {
		if !Single.Owns(job) {
			t.Errorf("Single should own job %d", job)
		}
	}
}

func TestParseRejectsInvalidSizeOrRank(t *testing.T) {
	cases := []struct{ size, rank int }{
		{0, 0}, {-1, 0}, {2, 2}, {2, -1},
	}
	for _, c := range cases {
		if _, err := Parse(c.size, c.rank); err == nil {
			t.Errorf("Parse(%d,%d): expected error", c.size, c.rank)
		}
	}
}
