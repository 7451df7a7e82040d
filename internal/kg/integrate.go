package kg

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-kg/internal/audit"
	"github.com/nerrad567/gray-logic-kg/internal/device"
	"github.com/nerrad567/gray-logic-kg/internal/graph"
	"github.com/nerrad567/gray-logic-kg/internal/sdf"
	"github.com/nerrad567/gray-logic-kg/internal/similarity"
)

// votesPerRow is the number of distinct classes one attribute row votes
// for, awarded votesPerRow, votesPerRow-1, ... 1 points.
const votesPerRow = 3

// ClassScore is one entry of the Resolve-Class scoreboard.
type ClassScore struct {
	Class string `json:"class"`
	Score int    `json:"score"`
}

// Outcome describes one run of Integrate.
type Outcome struct {
	DeviceID    string        `json:"device_id"`
	Class       string        `json:"class"`
	State       device.State  `json:"state"`
	Candidates  []ClassScore  `json:"candidate_classes"`
	WinnerID    string        `json:"winner_id,omitempty"`
	WinnerClass string        `json:"winner_class,omitempty"`
	Distance    float64       `json:"distance,omitempty"`
	Replicated  int           `json:"replicated"`
	RetiredID   string        `json:"retired_id,omitempty"`
	Unmatched   bool          `json:"unmatched"`
	Duration    time.Duration `json:"duration"`
}

// Label returns the integration log outcome of o.
func (o *Outcome) Label() string {
	switch {
	case o.State == device.StateDeferred:
		return audit.OutcomeDeferred
	case o.Unmatched:
		return audit.OutcomeUnmatched
	default:
		return audit.OutcomeMatched
	}
}

// Integrate places a buffering device in the graph.
//
// It runs Resolve-Class, Resolve-Instance, Replicate and Retire-If-Stale
// in that order and then settles the device: Integrated, or Deferred when
// no candidate device exists and DeferUnmatched is set. Either way the
// device is never integrated again.
//
// Parameters:
//   - ctx: Context for cancellation
//   - id: The device to integrate; it must be Buffering
//   - now: Timestamp of the message that triggered integration
//
// Returns:
//   - *Outcome: The decision, also written to the integration log
//   - error: device.ErrInvalidState if the device is not Buffering, or a
//     store failure; the device stays Buffering on error
func (e *Engine) Integrate(ctx context.Context, id string, now time.Time) (*Outcome, error) {
	start := time.Now()

	dev, err := e.registry.Get(id)
	if err != nil {
		return nil, err
	}
	if dev.State != device.StateBuffering {
		return nil, fmt.Errorf("%w: %s is %s", device.ErrInvalidState, id, dev.State)
	}

	out := &Outcome{DeviceID: id, Class: dev.Class}

	out.Candidates, err = voteClasses(ctx, e.cfg.Workers, dev.Class, e.corpus.Rows())
	if err != nil {
		return nil, err
	}
	if len(out.Candidates) > e.cfg.CandidateClasses {
		out.Candidates = out.Candidates[:e.cfg.CandidateClasses]
	}

	classes := make([]string, 0, len(out.Candidates)+1)
	for _, c := range out.Candidates {
		classes = append(classes, c.Class)
	}
	classes = append(classes, dev.Class)

	winner, distance, err := e.resolveInstance(ctx, dev, classes)
	if err != nil {
		return nil, err
	}

	if winner == nil {
		out.Unmatched = true
		out.State = device.StateIntegrated
		if e.cfg.DeferUnmatched {
			out.State = device.StateDeferred
		}
	} else {
		out.State = device.StateIntegrated
		out.WinnerID = winner.ID
		out.WinnerClass = winner.Class
		out.Distance = distance

		if out.Replicated, err = e.replicate(ctx, winner.ID, id); err != nil {
			return nil, err
		}
		if e.stale(winner, now) {
			if err := e.retire(ctx, winner, id); err != nil {
				return nil, err
			}
			out.RetiredID = winner.ID
		}
	}

	if err := e.registry.SetState(id, out.State); err != nil {
		return nil, err
	}
	out.Duration = time.Since(start)

	e.settled(ctx, out)
	return out, nil
}

// settled publishes a finished integration: transition history, metrics,
// integration log, events and logs. None of these can fail the decision.
func (e *Engine) settled(ctx context.Context, out *Outcome) {
	reason := "matched " + out.WinnerID
	if out.Unmatched {
		reason = "no eligible candidate"
	}
	e.recordTransition(ctx, out.DeviceID, device.StateBuffering, out.State, reason)
	e.metrics.integration(out.Label())

	if e.audit != nil {
		rec := &audit.Record{
			DeviceID:    out.DeviceID,
			Class:       out.Class,
			Outcome:     out.Label(),
			WinnerID:    out.WinnerID,
			WinnerClass: out.WinnerClass,
			Replicated:  out.Replicated,
			RetiredID:   out.RetiredID,
			DurationMS:  out.Duration.Milliseconds(),
		}
		for _, c := range out.Candidates {
			rec.Candidates = append(rec.Candidates, audit.Candidate{Class: c.Class, Score: c.Score})
		}
		if !out.Unmatched {
			d := out.Distance
			rec.Distance = &d
		}
		if err := e.audit.Create(ctx, rec); err != nil {
			e.logger.Warn("recording integration failed", "device_id", out.DeviceID, "error", err)
		}
	}

	e.broadcast(EventDeviceIntegrated, out)
	e.logger.Info("device integrated",
		"device_id", out.DeviceID,
		"class", out.Class,
		"outcome", out.Label(),
		"winner_id", out.WinnerID,
		"distance", out.Distance,
		"replicated", out.Replicated,
		"retired_id", out.RetiredID,
		"duration", out.Duration,
	)
}

// voteClasses is Resolve-Class: every row of class votes for the classes
// whose same-typed rows describe the most similar attribute. Rows are
// scored concurrently and merged in row order, so the scoreboard is
// deterministic. Ties keep the order in which classes first received
// points.
func voteClasses(ctx context.Context, workers int, class string, rows []sdf.Row) ([]ClassScore, error) {
	var own, pool []sdf.Row
	for _, r := range rows {
		if r.Class == class {
			own = append(own, r)
		} else {
			pool = append(pool, r)
		}
	}

	ballots := make([][]string, len(own))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i, row := range own {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ballots[i] = rankClasses(row, pool, votesPerRow)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("resolving class of %s: %w", class, err)
	}

	scores := make(map[string]int)
	var order []string
	for _, ballot := range ballots {
		for rank, c := range ballot {
			if _, seen := scores[c]; !seen {
				order = append(order, c)
			}
			scores[c] += votesPerRow - rank
		}
	}

	board := make([]ClassScore, len(order))
	for i, c := range order {
		board[i] = ClassScore{Class: c, Score: scores[c]}
	}
	sort.SliceStable(board, func(i, j int) bool { return board[i].Score > board[j].Score })
	return board, nil
}

// rankClasses returns up to n distinct classes of the pool rows sharing
// row's value type, most similar first. Equal similarities keep pool order.
func rankClasses(row sdf.Row, pool []sdf.Row, n int) []string {
	type scored struct {
		class string
		ratio float64
	}
	text := row.Text()
	var ranked []scored
	for _, p := range pool {
		if p.ValueType != row.ValueType {
			continue
		}
		ranked = append(ranked, scored{class: p.Class, ratio: similarity.Ratio(text, p.Text())})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].ratio > ranked[j].ratio })

	seen := make(map[string]bool, n)
	out := make([]string, 0, n)
	for _, r := range ranked {
		if len(out) == n {
			break
		}
		if seen[r.class] {
			continue
		}
		seen[r.class] = true
		out = append(out, r.class)
	}
	return out
}

// resolveInstance is Resolve-Instance: among integrated devices of the
// candidate classes, find the one whose history contains the closest
// match to the new device's earliest window.
//
// Candidates are ordered by class rank then id; the first strictly
// smallest distance wins. Returns a nil device when nothing is eligible.
func (e *Engine) resolveInstance(ctx context.Context, dev *device.Device, classes []string) (*device.Device, float64, error) {
	rank := make(map[string]int, len(classes))
	for i, c := range classes {
		if _, ok := rank[c]; !ok {
			rank[c] = i
		}
	}

	candidates := e.registry.Select(func(d *device.Device) bool {
		_, ok := rank[d.Class]
		return ok && d.Integrated() && d.ID != dev.ID
	})
	sort.SliceStable(candidates, func(i, j int) bool { return rank[candidates[i].Class] < rank[candidates[j].Class] })

	queries := numericSeries(dev, e.cfg.QueryWindow)
	if len(queries) == 0 || len(candidates) == 0 {
		return nil, 0, nil
	}

	best := make([]float64, len(candidates))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.Workers)
	for i, cand := range candidates {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			best[i] = closestDistance(queries, numericSeries(cand, 0))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, fmt.Errorf("resolving instance of %s: %w", dev.ID, err)
	}

	winner, distance := -1, math.Inf(1)
	for i, d := range best {
		if d < distance {
			winner, distance = i, d
		}
	}
	if winner < 0 {
		return nil, 0, nil
	}
	return candidates[winner], distance, nil
}

// closestDistance returns the smallest subsequence distance between any
// query and any series, or +Inf when every series is shorter than every
// query.
func closestDistance(queries, series [][]float64) float64 {
	best := math.Inf(1)
	for _, q := range queries {
		for _, s := range series {
			if d, ok := similarity.MinDistance(q, s); ok && d < best {
				best = d
			}
		}
	}
	return best
}

// numericSeries returns the number and boolean buffers of d in module and
// attribute order. A positive limit keeps only the earliest limit values.
func numericSeries(d *device.Device, limit int) [][]float64 {
	var out [][]float64
	for _, modName := range d.ModuleSet() {
		mod := d.Modules[modName]
		for _, attrName := range mod.AttributeNames() {
			attr := mod.Attributes[attrName]
			if attr.Type == graph.String || len(attr.Values) == 0 {
				continue
			}
			values := attr.Values
			if limit > 0 && len(values) > limit {
				values = values[:limit]
			}
			series := make([]float64, len(values))
			for i, v := range values {
				series[i], _ = v.Float()
			}
			out = append(out, series)
		}
	}
	return out
}

// replicate copies the task and service relations of src onto dst.
func (e *Engine) replicate(ctx context.Context, src, dst string) (int, error) {
	bindings, err := e.match(ctx, graph.Query{Target: graph.MatchRelations, DeviceID: src})
	if err != nil {
		return 0, fmt.Errorf("reading relations of %s: %w", src, err)
	}

	var rels []graph.Relation
	for _, b := range bindings {
		if b.Relation == nil {
			continue
		}
		rels = append(rels, graph.Relation{Kind: b.Relation.Kind, Entity: b.Relation.Entity, DeviceID: dst})
	}
	if len(rels) == 0 {
		return 0, nil
	}

	callCtx, cancel := e.storeCtx(ctx)
	defer cancel()
	if err := e.store.Insert(callCtx, graph.Insertion{Relations: rels}); err != nil {
		return 0, fmt.Errorf("replicating relations of %s onto %s: %w", src, dst, err)
	}
	return len(rels), nil
}

// stale reports whether w has been silent for longer than StaleFactor
// periods at now. A device whose latest announcement was CONNECTED is
// never stale, however long its reporting interval.
func (e *Engine) stale(w *device.Device, now time.Time) bool {
	if w.Online {
		return false
	}
	cutoff := now.Add(-time.Duration(e.cfg.StaleFactor) * w.Period)
	return w.LastSeen().Before(cutoff)
}

// retire removes a replaced device from the graph and the registry.
func (e *Engine) retire(ctx context.Context, w *device.Device, replacement string) error {
	callCtx, cancel := e.storeCtx(ctx)
	err := e.store.Delete(callCtx, graph.Deletion{DeviceIDs: []string{w.ID}})
	cancel()
	if err != nil {
		return fmt.Errorf("retiring %s: %w", w.ID, err)
	}
	if err := e.registry.Remove(w.ID); err != nil {
		return err
	}

	e.recordTransition(ctx, w.ID, w.State, device.StateUnseen, "replaced by "+replacement)
	e.metrics.retirement()
	e.broadcast(EventDeviceRetired, map[string]any{
		"device_id":   w.ID,
		"class":       w.Class,
		"replaced_by": replacement,
		"last_seen":   w.LastSeen(),
	})
	e.logger.Info("stale device retired", "device_id", w.ID, "class", w.Class, "replaced_by", replacement)
	return nil
}
