package coordinator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ferro-labs/verifygw/internal/logging"
)

// LookupJSON is Lookup for values stored as JSON. A cached entry that no
// longer decodes into T is treated as stale and refetched.
func LookupJSON[T any](ctx context.Context, c *Coordinator, req Request, fetch func(context.Context, Fields) (T, error)) (T, Source, error) {
	var fetched T
	wrapped := func(ctx context.Context, fields Fields) ([]byte, error) {
		v, err := fetch(ctx, fields)
		if err != nil {
			return nil, err
		}
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s value: %w", req.Namespace, err)
		}
		fetched = v
		return b, nil
	}

	res, err := c.Lookup(ctx, req, wrapped)
	if err != nil {
		var zero T
		return zero, "", err
	}
	if res.Source == SourceProvider {
		return fetched, res.Source, nil
	}

	var out T
	decodeErr := json.Unmarshal(res.Value, &out)
	if decodeErr == nil {
		return out, res.Source, nil
	}
	logging.FromContext(ctx).Warn("discarding undecodable cache entry",
		"cache_key", res.Key, "error", decodeErr)

	req.Bypass = true
	if _, err := c.Lookup(ctx, req, wrapped); err != nil {
		var zero T
		return zero, "", err
	}
	return fetched, SourceProvider, nil
}
