package host

import "testing"

func TestSplitRows(t *testing.T) {
	type spec struct {
		rows    int
		workers int
		exp     []band
	}
	specs := []spec{
		{10, 2, []band{{0, 5}, {5, 10}}},
		{10, 3, []band{{0, 4}, {4, 7}, {7, 10}}},
		{2, 8, []band{{0, 1}, {1, 2}}},
		{5, 0, []band{{0, 5}}},
		{0, 4, nil},
	}

	for index, s := range specs {
		bands := splitRows(s.rows, s.workers)
		if len(bands) != len(s.exp) {
			t.Fatalf("[spec %d] expected %d bands; got %d", index, len(s.exp), len(bands))
		}
		for bIdx, b := range bands {
			if b != s.exp[bIdx] {
				t.Fatalf("[spec %d] expected band %d to be %v; got %v", index, bIdx, s.exp[bIdx], b)
			}
		}
	}
}
