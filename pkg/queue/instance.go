// Copyright 2019 The Peering Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package queue holds the reconciliation work of an operator instance and
// runs it only while the instance holds its peering channel. Pausing happens
// between tasks: an in-flight task always finishes, queued work waits for the
// gate to reopen.
package queue

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff"

	"istio.io/pkg/log"
)

var scope = log.RegisterScope("queue", "Gated reconciliation work queue", 0)

// Task is one unit of reconciliation work.
type Task func() error

// Instance of work tickets processed sequentially, with failed tasks retried
// after a delay.
type Instance interface {
	// Push appends a task. Tasks pushed after shutdown began are dropped.
	Push(task Task)
	// Run processes tasks until a signal on the channel and then returns.
	// Tasks still queued at that point are dropped.
	Run(<-chan struct{})
}

type retryTask struct {
	task    Task
	backoff *backoff.ExponentialBackOff
}

type queueImpl struct {
	delay        time.Duration
	retryBackoff *backoff.ExponentialBackOff
	gate         *Gate
	tasks        []*retryTask
	cond         *sync.Cond
	closing      bool
}

// NewQueue instantiates an ungated queue that retries failed tasks after a
// fixed delay.
func NewQueue(errorDelay time.Duration) Instance {
	return &queueImpl{
		delay: errorDelay,
		tasks: make([]*retryTask, 0),
		cond:  sync.NewCond(&sync.Mutex{}),
	}
}

// NewBackOffQueue instantiates an ungated queue that retries failed tasks on
// the given exponential schedule.
func NewBackOffQueue(eb *backoff.ExponentialBackOff) Instance {
	return &queueImpl{
		retryBackoff: eb,
		tasks:        make([]*retryTask, 0),
		cond:         sync.NewCond(&sync.Mutex{}),
	}
}

// NewGatedQueue instantiates a queue that executes tasks only while the gate
// is open. Work keeps accumulating while the gate is shut; nothing is
// processed by an instance that does not hold its channel.
func NewGatedQueue(errorDelay time.Duration, gate *Gate) Instance {
	return &queueImpl{
		delay: errorDelay,
		gate:  gate,
		tasks: make([]*retryTask, 0),
		cond:  sync.NewCond(&sync.Mutex{}),
	}
}

// newExponentialBackOff copies the retry schedule template for one task.
func newExponentialBackOff(eb *backoff.ExponentialBackOff) *backoff.ExponentialBackOff {
	if eb == nil {
		return nil
	}
	teb := backoff.NewExponentialBackOff()
	teb.InitialInterval = eb.InitialInterval
	teb.MaxElapsedTime = eb.MaxElapsedTime
	teb.MaxInterval = eb.MaxInterval
	teb.Multiplier = eb.Multiplier
	teb.RandomizationFactor = eb.RandomizationFactor
	return teb
}

func (q *queueImpl) Push(item Task) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if !q.closing {
		q.tasks = append(q.tasks, &retryTask{item, newExponentialBackOff(q.retryBackoff)})
	}
	q.cond.Signal()
}

func (q *queueImpl) pushRetryTask(item *retryTask) {
	q.cond.L.Lock()
	defer q.cond.L.Unlock()
	if !q.closing {
		q.tasks = append(q.tasks, item)
	}
	q.cond.Signal()
}

func (q *queueImpl) Run(stop <-chan struct{}) {
	go func() {
		<-stop
		q.cond.L.Lock()
		q.cond.Signal()
		q.closing = true
		q.cond.L.Unlock()
	}()

	for {
		q.cond.L.Lock()
		for !q.closing && len(q.tasks) == 0 {
			q.cond.Wait()
		}

		if len(q.tasks) == 0 {
			q.cond.L.Unlock()
			// We must be shutting down.
			return
		}

		next := q.tasks[0]
		// Slicing will not free the underlying elements of the array, so
		// explicitly clear them out here.
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]

		q.cond.L.Unlock()

		if q.gate != nil && !q.gate.Wait(stop) {
			// Shutdown arrived while paused; the remaining work is void.
			return
		}

		if err := next.task(); err != nil {
			delay := q.delay
			if q.retryBackoff != nil {
				delay = next.backoff.NextBackOff()
			}
			scope.Infof("Work item handle failed (%v), retry after delay %v", err, delay)
			time.AfterFunc(delay, func() {
				q.pushRetryTask(next)
			})
		}
	}
}
