package biz

import (
	"github.com/lk2023060901/file-service/internal/pkg/metrics"
)

// DefaultQueueCapacity 失效队列默认容量
const DefaultQueueCapacity = 10000

// InvalidQueue holds ids of artifacts whose file was found missing. Offer
// never blocks; ids offered to a full queue are dropped.
type InvalidQueue struct {
	ch      chan int64
	metrics metrics.Metrics
}

// NewInvalidQueue creates a queue; capacity <= 0 means DefaultQueueCapacity.
func NewInvalidQueue(capacity int, m metrics.Metrics) *InvalidQueue {
	if capacity <= 0 {
		capacity = DefaultQueueCapacity
	}
	if m == nil {
		m = metrics.Noop{}
	}
	return &InvalidQueue{ch: make(chan int64, capacity), metrics: m}
}

// Offer 非阻塞入队，队列满时丢弃并返回 false
func (q *InvalidQueue) Offer(id int64) bool {
	select {
	case q.ch <- id:
		q.metrics.IncQueueOffered()
		return true
	default:
		q.metrics.IncQueueDropped()
		return false
	}
}

// Drain 取出当前队列中的全部 id
func (q *InvalidQueue) Drain() []int64 {
	var ids []int64
	for {
		select {
		case id := <-q.ch:
			ids = append(ids, id)
		default:
			return ids
		}
	}
}

// Len 当前排队数量
func (q *InvalidQueue) Len() int {
	return len(q.ch)
}

// Cap 队列容量
func (q *InvalidQueue) Cap() int {
	return cap(q.ch)
}
