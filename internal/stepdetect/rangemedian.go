package stepdetect

import "container/heap"

// maxRollingWindows bounds the number of live rolling structures before
// a full clear. Windows are cheap to rebuild, so clearing beats tracking
// recency.
const maxRollingWindows = 10_000

// rangeMedianModel accelerates the cost model for the dynamic program's
// access pattern: for a fixed left endpoint, queries arrive with a
// monotonically growing right endpoint. Each live left endpoint keeps a
// pair of weighted heaps that absorb one sample per step, giving
// amortized O(log n) medians and deviation sums. Queries that do not fit
// the pattern (the merge and perturbation passes) fall back to the
// memoized reference model.
type rangeMedianModel struct {
	ref     *referenceModel
	rolling map[int]*rollingWindow
}

func newRangeMedianModel(values, weights []float64) *rangeMedianModel {
	return &rangeMedianModel{
		ref:     newReferenceModel(values, weights),
		rolling: make(map[int]*rollingWindow),
	}
}

func (m *rangeMedianModel) Len() int { return m.ref.Len() }

// maxCreateSpan caps the width at which a new rolling window may be
// started. The dynamic program opens windows narrow and grows them; wide
// one-shot queries come from the merge pass and are served better by the
// memoized path.
const maxCreateSpan = 128

func (m *rangeMedianModel) window(l, r int) *rollingWindow {
	rw, ok := m.rolling[l]
	if !ok {
		if r-l > maxCreateSpan {
			return nil
		}
		rw = &rollingWindow{left: l, right: l - 1}
		m.rolling[l] = rw
	}
	if rw.right > r {
		// Heaps cannot rewind; not this backend's pattern.
		return nil
	}
	for rw.right < r {
		rw.right++
		i := rw.right
		rw.insert(m.ref.values[i], m.ref.weights[i])
	}
	return rw
}

func (m *rangeMedianModel) Mu(l, r int) float64 {
	if rw := m.window(l, r); rw != nil {
		return rw.median()
	}
	return m.ref.Mu(l, r)
}

func (m *rangeMedianModel) Dist(l, r int) float64 {
	if rw := m.window(l, r); rw != nil {
		return rw.deviation()
	}
	return m.ref.Dist(l, r)
}

func (m *rangeMedianModel) MaybeEvict() {
	if len(m.rolling) > maxRollingWindows {
		m.rolling = make(map[int]*rollingWindow)
	}
	m.ref.MaybeEvict()
}

// rollingWindow maintains the weighted median and L1 deviation sum of
// values[left..right] under appends at the right end. The lower heap
// holds the half of the samples at or below the median (max-heap), the
// upper heap the rest (min-heap). Weight is balanced so that the lower
// side carries at least half of the total.
type rollingWindow struct {
	left, right int

	lower pointHeap // max-heap
	upper pointHeap // min-heap

	wLow, wHigh float64 // weight sums per side
	sLow, sHigh float64 // weight*value sums per side
}

func (rw *rollingWindow) insert(v, w float64) {
	if rw.lower.Len() == 0 || v <= rw.lower.top().v {
		rw.lower.push(wpoint{v, w}, true)
		rw.wLow += w
		rw.sLow += w * v
	} else {
		rw.upper.push(wpoint{v, w}, false)
		rw.wHigh += w
		rw.sHigh += w * v
	}
	rw.rebalance()
}

func (rw *rollingWindow) rebalance() {
	half := (rw.wLow + rw.wHigh) / 2
	for {
		if rw.wLow < half {
			p := rw.upper.pop(false)
			rw.wHigh -= p.w
			rw.sHigh -= p.w * p.v
			rw.lower.push(p, true)
			rw.wLow += p.w
			rw.sLow += p.w * p.v
		} else if rw.lower.Len() > 0 && rw.wLow-rw.lower.top().w >= half {
			p := rw.lower.pop(true)
			rw.wLow -= p.w
			rw.sLow -= p.w * p.v
			rw.upper.push(p, false)
			rw.wHigh += p.w
			rw.sHigh += p.w * p.v
		} else {
			return
		}
	}
}

func (rw *rollingWindow) median() float64 {
	half := (rw.wLow + rw.wHigh) / 2
	if rw.wLow == half && rw.upper.Len() > 0 {
		return (rw.lower.top().v + rw.upper.top().v) / 2
	}
	return rw.lower.top().v
}

func (rw *rollingWindow) deviation() float64 {
	m := rw.median()
	return (m*rw.wLow - rw.sLow) + (rw.sHigh - m*rw.wHigh)
}

type wpoint struct {
	v, w float64
}

// pointHeap is a binary heap of weighted points ordered by value. The
// direction is passed per operation so the same type serves both halves.
type pointHeap struct {
	items []wpoint
}

func (h *pointHeap) Len() int { return len(h.items) }

func (h *pointHeap) top() wpoint { return h.items[0] }

func (h *pointHeap) push(p wpoint, max bool) {
	if max {
		heap.Push((*maxHeap)(h), p)
	} else {
		heap.Push((*minHeap)(h), p)
	}
}

func (h *pointHeap) pop(max bool) wpoint {
	if max {
		return heap.Pop((*maxHeap)(h)).(wpoint)
	}
	return heap.Pop((*minHeap)(h)).(wpoint)
}

type minHeap pointHeap

func (h *minHeap) Len() int { return len(h.items) }
func (h *minHeap) Less(i, j int) bool { return h.items[i].v < h.items[j].v }
func (h *minHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *minHeap) Push(x any) { h.items = append(h.items, x.(wpoint)) }
func (h *minHeap) Pop() any {
	old := h.items
	n := len(old)
	p := old[n-1]
	h.items = old[:n-1]
	return p
}

type maxHeap pointHeap

func (h *maxHeap) Len() int { return len(h.items) }
func (h *maxHeap) Less(i, j int) bool { return h.items[i].v > h.items[j].v }
func (h *maxHeap) Swap(i, j int) { h.items[i], h.items[j] = h.items[j], h.items[i] }
func (h *maxHeap) Push(x any) { h.items = append(h.items, x.(wpoint)) }
func (h *maxHeap) Pop() any {
	old := h.items
	n := len(old)
	p := old[n-1]
	h.items = old[:n-1]
	return p
}
