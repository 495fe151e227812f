package reports

import "context"

// System defines the public contract for report operations.
type System interface {
	Handler() *Handler

	Generate(ctx context.Context, req Request) (*Report, error)
	Explain(ctx context.Context, req ExplainRequest) (*Explanation, error)
}
