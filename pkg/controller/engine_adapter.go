package controller

import (
	"context"

	"github.com/goclaw/clusterctl/pkg/cluster"
	"github.com/goclaw/clusterctl/pkg/logengine"
)

// EngineTrimmer adapts a log engine to the trim primitive the trim
// coordinator calls.
type EngineTrimmer struct {
	engine logengine.LogEngine
}

// NewEngineTrimmer wraps engine.
func NewEngineTrimmer(engine logengine.LogEngine) *EngineTrimmer {
	return &EngineTrimmer{engine: engine}
}

func (t *EngineTrimmer) Trim(ctx context.Context, log cluster.LogID, upTo cluster.LSN) error {
	return t.engine.Trim(ctx, logengine.LogID(log), logengine.LSN(upTo))
}

// TrimPointReader reads the trim point a log engine has actually applied.
type TrimPointReader interface {
	TrimPoint(ctx context.Context, log cluster.LogID) (cluster.LSN, error)
}

// TrimPoint returns the engine's current trim point for log.
func (t *EngineTrimmer) TrimPoint(ctx context.Context, log cluster.LogID) (cluster.LSN, error) {
	lsn, err := t.engine.TrimPoint(ctx, logengine.LogID(log))
	return cluster.LSN(lsn), err
}

var _ TrimPointReader = (*EngineTrimmer)(nil)
