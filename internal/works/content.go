package works

import (
	"context"
	"fmt"

	"github.com/FiveIT/eseuri/internal/gateway"
	"github.com/FiveIT/eseuri/internal/queries"
)

// ContentFetcher loads work bodies. Nothing is cached.
type ContentFetcher struct {
	exec gateway.Executor
}

func NewContentFetcher(exec gateway.Executor) *ContentFetcher {
	return &ContentFetcher{exec: exec}
}

// Fetch returns the content of the work with the given opaque id.
func (f *ContentFetcher) Fetch(ctx context.Context, opaqueID string) (Content, error) {
	var res queries.WorkContentResult
	if err := f.exec.Execute(ctx, queries.WorkContent, queries.NodeVars{ID: opaqueID}, &res); err != nil {
		return Content{}, err
	}
	if res.Node == nil {
		return Content{}, fmt.Errorf("%w: %s", ErrWorkNotFound, opaqueID)
	}
	return Content{
		Identifier: Identifier{OpaqueID: opaqueID, WorkID: res.Node.WorkID},
		Body:       res.Node.Work.Content,
	}, nil
}

// lookupWorkID resolves the sequential id of a work from its opaque id.
func lookupWorkID(ctx context.Context, exec gateway.Executor, opaqueID string) (Identifier, error) {
	var res queries.WorkIDResult
	if err := exec.Execute(ctx, queries.WorkID, queries.NodeVars{ID: opaqueID}, &res); err != nil {
		return Identifier{}, err
	}
	if res.Node == nil {
		return Identifier{}, fmt.Errorf("%w: %s", ErrWorkNotFound, opaqueID)
	}
	return Identifier{OpaqueID: opaqueID, WorkID: res.Node.WorkID}, nil
}
