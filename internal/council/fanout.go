package council

import (
	"context"
	"sync"

	"github.com/avlachos/conclave/internal/llm"
)

// runStage dispatches to every agent concurrently and returns once all calls
// have settled. There is no early return: slow or failing agents only cost
// their own slot, and the result keeps the caller's agent order.
func runStage(ctx context.Context, d *Dispatcher, agents []string, build func(agent string) []llm.Message) Stage1Set {
	set := Stage1Set{
		Order:     agents,
		Responses: make(map[string]AgentResponse, len(agents)),
	}

	var (
		mu sync.Mutex
		wg sync.WaitGroup
	)
	for _, agent := range agents {
		wg.Add(1)
		go func(agent string) {
			defer wg.Done()
			resp := d.Send(ctx, agent, build(agent))
			mu.Lock()
			set.Responses[agent] = resp
			mu.Unlock()
		}(agent)
	}
	wg.Wait()

	return set
}
