package asyncengine

import (
	"context"
	"strings"
)

// RouteKind distinguishes a plain provider turn from one handed off to a
// domain executor (e.g. the "coder" domain).
type RouteKind string

const (
	RouteDirect RouteKind = "direct"
	RouteDomain RouteKind = "domain"
)

// FastpathParam is one <PARAM name="...">value</PARAM> entry from a router's
// single-tool fastpath decision (spec §4.5 step 5).
type FastpathParam struct {
	Name  string
	Value string
}

// Decision is the Router's verdict for one user turn.
type Decision struct {
	Route          RouteKind
	Domain         string // set when Route == RouteDomain, e.g. "coder"
	Provider       string
	Model          string
	FastpathTool   string
	FastpathParams []FastpathParam
}

// Router chooses a provider/model/route for a turn. It is intentionally a
// narrow interface: production deployments plug in whatever classifier or
// rule table they like.
type Router interface {
	Decide(ctx context.Context, chatID, message string, history []string) (Decision, error)
}

// StaticRouter always routes to the given provider/model unless the message
// matches one of a small set of domain trigger phrases, in which case it
// hands off to that domain. It exists as the default Router so the engine
// is usable without a real classifier wired in.
type StaticRouter struct {
	DefaultProvider string
	DefaultModel    string
	DomainTriggers  map[string]string // substring -> domain name
}

// NewStaticRouter builds a StaticRouter with the "coder" domain wired to the
// obvious trigger phrases.
func NewStaticRouter(provider, model string) *StaticRouter {
	return &StaticRouter{
		DefaultProvider: provider,
		DefaultModel:    model,
		DomainTriggers: map[string]string{
			"in the repo":    "coder",
			"in this repo":   "coder",
			"edit the file":  "coder",
			"write a file":   "coder",
			"fix the bug in": "coder",
		},
	}
}

func (r *StaticRouter) Decide(ctx context.Context, chatID, message string, history []string) (Decision, error) {
	lower := strings.ToLower(message)
	for trigger, domain := range r.DomainTriggers {
		if strings.Contains(lower, trigger) {
			return Decision{Route: RouteDomain, Domain: domain, Provider: r.DefaultProvider, Model: r.DefaultModel}, nil
		}
	}
	return Decision{Route: RouteDirect, Provider: r.DefaultProvider, Model: r.DefaultModel}, nil
}
