package groutine

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGoTrackedNamesGoroutine(t *testing.T) {
	var wg sync.WaitGroup
	names := make(chan string, 2)

	GoTracked(context.Background(), &wg, "worker-1", func(ctx context.Context) { names <- Name(ctx) })
	GoTracked(context.TODO(), &wg, "worker-2", func(ctx context.Context) { names <- Name(ctx) })
	wg.Wait()
	close(names)

	var got []string
	for n := range names {
		got = append(got, n)
	}
	assert.ElementsMatch(t, []string{"worker-1", "worker-2"}, got)
	assert.Empty(t, Name(context.Background()))
}
