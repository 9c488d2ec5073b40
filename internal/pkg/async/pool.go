// internal/pkg/async/pool.go
package async

import (
	"context"
	"fmt"
	"sync"
)

type Task struct {
	Name    string
	Execute func() (interface{}, error)
}

type Result struct {
	Name string
	Data interface{}
	Err  error
}

// Pool runs tasks on a fixed number of workers. A Pool may be reused; every
// Execute call gets its own channels.
type Pool struct {
	workerCount int
}

func NewPool(workerCount int) *Pool {
	if workerCount < 1 {
		workerCount = 1
	}
	return &Pool{workerCount: workerCount}
}

func (p *Pool) worker(ctx context.Context, wg *sync.WaitGroup, tasks <-chan Task, results chan<- Result) {
	defer wg.Done()
	for {
		select {
		case task, ok := <-tasks:
			if !ok {
				return
			}
			results <- runSafely(task)
		case <-ctx.Done():
			return
		}
	}
}

// runSafely turns a panicking task into an error result.
func runSafely(task Task) (result Result) {
	result.Name = task.Name
	defer func() {
		if r := recover(); r != nil {
			result.Data = nil
			result.Err = fmt.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	result.Data, result.Err = task.Execute()
	return result
}

// Execute runs all tasks and returns their results keyed by task name. When ctx
// is cancelled it returns whatever finished so far.
func (p *Pool) Execute(ctx context.Context, tasks []Task) map[string]Result {
	var wg sync.WaitGroup
	results := make(map[string]Result, len(tasks))

	taskCh := make(chan Task)
	// Buffered so workers never block on a caller that stopped collecting.
	resultCh := make(chan Result, len(tasks))

	workers := p.workerCount
	if workers > len(tasks) {
		workers = len(tasks)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go p.worker(ctx, &wg, taskCh, resultCh)
	}

	go func() {
		defer close(taskCh)
		for _, task := range tasks {
			select {
			case taskCh <- task:
			case <-ctx.Done():
				return
			}
		}
	}()

	for i := 0; i < len(tasks); i++ {
		select {
		case result := <-resultCh:
			results[result.Name] = result
		case <-ctx.Done():
			return results
		}
	}

	wg.Wait()
	return results
}
