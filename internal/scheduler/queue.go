package scheduler

import (
	"container/heap"

	"github.com/fernfall/dayline/internal/domain"
)

// queuedJob is one pending entry in the ready-job heap.
type queuedJob struct {
	job   domain.Job
	index int
}

// priorityQueue orders queuedJob by (priority ascending, created_at
// ascending) — manual beats chained beats cadence, ties break FIFO, per
// spec §4.6.
type priorityQueue []*queuedJob

func (pq priorityQueue) Len() int { return len(pq) }

func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].job.Priority != pq[j].job.Priority {
		return pq[i].job.Priority < pq[j].job.Priority
	}
	return pq[i].job.CreatedAt.Before(pq[j].job.CreatedAt)
}

func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index, pq[j].index = i, j
}

func (pq *priorityQueue) Push(x any) {
	item := x.(*queuedJob)
	item.index = len(*pq)
	*pq = append(*pq, item)
}

func (pq *priorityQueue) Pop() any {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}

var _ heap.Interface = (*priorityQueue)(nil)
