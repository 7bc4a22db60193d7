// Package mock provides a test double for the llm.Classifier interface.
package mock

import (
	"context"
	"sync"

	"github.com/MrWong99/earshot/pkg/provider/llm"
)

// Classifier is a mock implementation of llm.Classifier.
type Classifier struct {
	mu sync.Mutex

	// Decision is returned by every Classify call when Err is nil.
	Decision llm.Decision

	// Err, if non-nil, is returned as the error from Classify.
	Err error

	// ClassifyCalls records the request of every Classify invocation.
	ClassifyCalls []llm.Request
}

// Classify records the call and returns Decision, Err.
func (c *Classifier) Classify(_ context.Context, req llm.Request) (llm.Decision, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ClassifyCalls = append(c.ClassifyCalls, req)
	if c.Err != nil {
		return llm.Decision{}, c.Err
	}
	return c.Decision, nil
}

// Calls returns the number of Classify invocations so far.
func (c *Classifier) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ClassifyCalls)
}

var _ llm.Classifier = (*Classifier)(nil)
