package host

// A contiguous range of grid rows [Y0, Y1) processed by one worker.
type band struct {
	Y0, Y1 int
}

// Split rows between workers. Each worker gets the same number of rows;
// rows that don't divide evenly are appended to the first band. Workers
// beyond the number of rows receive nothing.
func splitRows(rows, workers int) []band {
	if rows <= 0 {
		return nil
	}
	if workers < 1 {
		workers = 1
	}
	if workers > rows {
		workers = rows
	}

	perWorker := rows / workers
	bands := make([]band, workers)
	y := 0
	for idx := range bands {
		h := perWorker
		if idx == 0 {
			h += rows - perWorker*workers
		}
		bands[idx] = band{Y0: y, Y1: y + h}
		y += h
	}
	return bands
}
