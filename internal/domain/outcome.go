package domain

import (
	"strings"
	"time"
)

// Outcome is the result of one platform publish attempt.
type Outcome struct {
	Platform Platform
	Err      error
	Duration time.Duration
}

// OK reports whether the publish succeeded.
func (o Outcome) OK() bool {
	return o.Err == nil
}

// Report aggregates the outcomes of one dispatch in fan-out order.
type Report struct {
	Outcomes []Outcome
}

// Succeeded lists platforms that accepted the post.
func (r Report) Succeeded() []Platform {
	var out []Platform
	for _, o := range r.Outcomes {
		if o.OK() {
			out = append(out, o.Platform)
		}
	}
	return out
}

// Failed lists the failing outcomes.
func (r Report) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if !o.OK() {
			out = append(out, o)
		}
	}
	return out
}

// Message renders the user-facing summary, e.g.
// "Successfully posted to: Twitter, Bluesky. Failed to post to: Facebook."
func (r Report) Message() string {
	var parts []string
	if ok := r.Succeeded(); len(ok) > 0 {
		parts = append(parts, "Successfully posted to: "+joinNames(ok)+".")
	}
	if failed := r.Failed(); len(failed) > 0 {
		names := make([]Platform, len(failed))
		for i, o := range failed {
			names[i] = o.Platform
		}
		parts = append(parts, "Failed to post to: "+joinNames(names)+".")
	}
	return strings.Join(parts, " ")
}

func joinNames(platforms []Platform) string {
	names := make([]string, len(platforms))
	for i, p := range platforms {
		names[i] = p.DisplayName()
	}
	return strings.Join(names, ", ")
}
