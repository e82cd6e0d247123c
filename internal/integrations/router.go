package integrations

import (
	"context"
	"encoding/json"

	"github.com/drumcap/hooklabs-elite-sub003/pkg/errors"
	"github.com/drumcap/hooklabs-elite-sub003/pkg/types"
)

// ContentGenerator produces content for a content-generation request
type ContentGenerator interface {
	Generate(ctx context.Context, params types.ContentGenerationParams) (json.RawMessage, error)
}

// Publisher posts to a social platform
type Publisher interface {
	Publish(ctx context.Context, platform types.Platform, params types.PublishParams) (json.RawMessage, error)
}

// Router dispatches a gateway request to the client of its dependency
type Router struct {
	content   ContentGenerator
	publisher Publisher
}

// NewRouter creates a router. Either client may be nil, in which case
// requests for its dependencies fail validation.
func NewRouter(content ContentGenerator, publisher Publisher) *Router {
	return &Router{content: content, publisher: publisher}
}

// Call performs the network call of req
func (r *Router) Call(ctx context.Context, req types.Request) (json.RawMessage, error) {
	switch {
	case req.Dependency == types.DependencyContentGeneration:
		if r.content == nil || req.Content == nil {
			return nil, errors.NewValidationError("content generation is not available")
		}
		return r.content.Generate(ctx, *req.Content)

	case req.Dependency.IsPublish():
		if r.publisher == nil || req.Publish == nil {
			return nil, errors.NewValidationError("publishing is not available").
				WithDetail("dependency", string(req.Dependency))
		}
		return r.publisher.Publish(ctx, req.Dependency.Platform(), *req.Publish)

	default:
		return nil, errors.NewValidationError("unknown dependency").
			WithDetail("dependency", string(req.Dependency))
	}
}
