package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hupe1980/adadisk/engine"
	"github.com/hupe1980/adadisk/namespace"
)

// Status is the outcome of one agent run.
type Status string

const (
	StatusAccepted Status = "ACCEPTED"
	StatusError    Status = "ERROR"
)

// Report describes one agent run.
type Report struct {
	RunID     string
	Role      namespace.Role
	Dataset   string
	Engine    string
	Status    Status
	Generated bool
	Built     bool
	Restored  bool
	Published bool
	// Top1 is the nearest neighbor of the query, nil if the agent did not search.
	Top1      *engine.Neighbor
	Results   []engine.Neighbor
	StartedAt time.Time
	Duration  time.Duration
	Err       error
}

func (r *Report) finish(err error) {
	r.Err = err
	if err != nil {
		r.Status = StatusError
	} else {
		r.Status = StatusAccepted
	}
}

// Actions lists what the run did, in pipeline order.
func (r *Report) Actions() []string {
	var out []string
	if r.Restored {
		out = append(out, "restored")
	}
	if r.Generated {
		out = append(out, "generated")
	}
	if r.Built {
		out = append(out, "built")
	}
	if r.Published {
		out = append(out, "published")
	}
	if r.Top1 != nil {
		out = append(out, "searched")
	}
	return out
}

func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s_%s:", r.Status, r.Role, r.Dataset)
	if r.Err != nil {
		fmt.Fprintf(&b, " %v", r.Err)
		return b.String()
	}

	actions := r.Actions()
	if len(actions) == 0 {
		b.WriteString(" reused existing artifacts")
	} else {
		b.WriteString(" " + strings.Join(actions, ", "))
	}
	if r.Top1 != nil {
		fmt.Fprintf(&b, "; top-1 id=%d distance=%g", r.Top1.ID, r.Top1.Distance)
	}
	fmt.Fprintf(&b, " (%s)", r.Duration.Round(time.Millisecond))
	return b.String()
}

// RunAll runs the agents concurrently. One failing agent does not stop the
// others. Reports are returned in argument order along with the joined errors.
func RunAll(ctx context.Context, agents ...*Agent) ([]*Report, error) {
	reports := make([]*Report, len(agents))
	errs := make([]error, len(agents))

	var g errgroup.Group
	for i, a := range agents {
		g.Go(func() error {
			reports[i], errs[i] = a.Run(ctx)
			return nil
		})
	}
	_ = g.Wait()

	return reports, errors.Join(errs...)
}
