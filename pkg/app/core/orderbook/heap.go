package orderbook

// buyQueue implements heap.Interface for bids: highest limit price on top,
// earliest arrival first within a price.
// Use container/heap to manipulate it (Init, Push, Pop).
type buyQueue []*Order

func (q buyQueue) Len() int { return len(q) }
func (q buyQueue) Less(i, j int) bool {
	if q[i].LimitPrice != q[j].LimitPrice {
		return q[i].LimitPrice > q[j].LimitPrice
	}
	return q[i].Seq < q[j].Seq
}
func (q buyQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *buyQueue) Push(x any) {
	*q = append(*q, x.(*Order))
}

func (q *buyQueue) Pop() any {
	old := *q
	n := len(old)
	o := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return o
}

// Peek returns the best bid without removing it; nil when empty.
// Only meaningful after heap.Init.
func (q buyQueue) Peek() *Order {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}

// sellQueue implements heap.Interface for asks: lowest limit price on top,
// earliest arrival first within a price.
type sellQueue []*Order

func (q sellQueue) Len() int { return len(q) }
func (q sellQueue) Less(i, j int) bool {
	if q[i].LimitPrice != q[j].LimitPrice {
		return q[i].LimitPrice < q[j].LimitPrice
	}
	return q[i].Seq < q[j].Seq
}
func (q sellQueue) Swap(i, j int) { q[i], q[j] = q[j], q[i] }

func (q *sellQueue) Push(x any) {
	*q = append(*q, x.(*Order))
}

func (q *sellQueue) Pop() any {
	old := *q
	n := len(old)
	o := old[n-1]
	old[n-1] = nil
	*q = old[:n-1]
	return o
}

// Peek returns the best ask without removing it; nil when empty.
func (q sellQueue) Peek() *Order {
	if len(q) == 0 {
		return nil
	}
	return q[0]
}
