package batch

// DefaultSize is used when a non-positive batch size is requested
const DefaultSize = 50

// Split divides items into consecutive groups of at most size elements.
// Order is preserved and the last group may be shorter.
func Split[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = DefaultSize
	}
	if len(items) == 0 {
		return nil
	}

	batches := make([][]T, 0, (len(items)+size-1)/size)
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		batches = append(batches, items[start:end:end])
	}
	return batches
}
