package engine

import "container/heap"

type rankItem struct {
	task, rank int
}

// rankHeap pops the ready task with the smallest rank.
type rankHeap struct {
	items []rankItem
}

func (h *rankHeap) Len() int           { return len(h.items) }
func (h *rankHeap) Less(i, j int) bool { return h.items[i].rank < h.items[j].rank }
func (h *rankHeap) Swap(i, j int)      { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *rankHeap) Push(x any)         { h.items = append(h.items, x.(rankItem)) }

func (h *rankHeap) Pop() any {
	n := len(h.items)
	it := h.items[n-1]
	h.items = h.items[:n-1]
	return it
}

func (h *rankHeap) push(task, rank int) { heap.Push(h, rankItem{task: task, rank: rank}) }
func (h *rankHeap) pop() int            { return heap.Pop(h).(rankItem).task }

func (h *rankHeap) reset() { h.items = h.items[:0] }
