package engine

import (
	"log/slog"

	"github.com/roach88/arla/internal/ir"
)

// upgrade applies the transform until m reaches the current version.
// The loop stops with ErrCodeNonTermination when a name@version repeats or
// the step budget runs out.
func (e *Engine) upgrade(m ir.Mutation) (ir.Mutation, error) {
	if m.Version >= e.version {
		return m, nil
	}
	if e.transform == nil {
		return m, mutationError(m, ErrCodeTransform, nil,
			"mutation version %d is older than schema version %d and no transform is configured",
			m.Version, e.version)
	}

	quota := NewQuotaEnforcer("version transform", e.maxSteps)
	history := newVersionHistory()
	cur := m
	for cur.Version < e.version {
		if err := quota.Check(); err != nil {
			return m, mutationError(m, ErrCodeNonTermination, err,
				"transform did not reach version %d within %d steps", e.version, e.maxSteps)
		}
		if history.visit(cur.Name, cur.Version) {
			return m, mutationError(m, ErrCodeNonTermination, nil,
				"transform revisited %s", cur)
		}
		next, err := e.transform(cur.Clone())
		if err != nil {
			return m, mutationError(m, ErrCodeTransform, err, "transform of %s failed: %v", cur, err)
		}
		cur = next
	}

	slog.Debug("mutation upgraded",
		"from", m.String(),
		"to", cur.String(),
		"steps", history.size(),
	)
	return cur, nil
}
