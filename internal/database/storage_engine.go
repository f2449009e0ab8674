package database

import (
	"context"
	"sync"

	"moff.io/snap-bridge/pkg/log"
)

const pipelineSize = 20000

// singleWriteStorageEngine runs every write on one goroutine, in enqueue order.
type singleWriteStorageEngine struct {
	pipeline chan func()
}

var (
	initStorageEngineOnce sync.Once
	internalStorageEngine *singleWriteStorageEngine
)

func NewSingleWriteStorageEngine() *singleWriteStorageEngine {
	initStorageEngineOnce.Do(func() {
		internalStorageEngine = newStorageEngine(pipelineSize)
	})
	return internalStorageEngine
}

func newStorageEngine(size int) *singleWriteStorageEngine {
	return &singleWriteStorageEngine{pipeline: make(chan func(), size)}
}

// Enqueue drops writer when the pipeline is full rather than blocking the caller.
func (in *singleWriteStorageEngine) Enqueue(writer func()) bool {
	select {
	case in.pipeline <- writer:
		return true
	default:
		log.Warn("storage engine pipeline full, write dropped")
		return false
	}
}

func (in *singleWriteStorageEngine) Start(ctx context.Context) {
	go in.start(ctx)
}

func (in *singleWriteStorageEngine) start(ctx context.Context) {
	log.Info("Single write storage engine running...")
	defer log.Info("Single write storage engine stopped...")
	for {
		select {
		case <-ctx.Done():
			in.drain()
			return
		case fn := <-in.pipeline:
			fn()
		}
	}
}

func (in *singleWriteStorageEngine) drain() {
	for {
		select {
		case fn := <-in.pipeline:
			fn()
		default:
			return
		}
	}
}
