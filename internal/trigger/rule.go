package trigger

import (
	"fmt"
	"regexp"
	"sort"
	"sync/atomic"

	"pkt.systems/mudgate/schema"
)

// DefaultRulePriority orders rules within a bucket when none is given.
const DefaultRulePriority = 100

// Rule is one registered trigger: a compiled group-preserving pattern
// paired with the bus event raised when it matches.
type Rule struct {
	ID             schema.TriggerID
	Name           schema.TriggerName
	Owner          schema.OwnerID
	Pattern        string
	Enabled        bool
	Group          string
	Omit           bool
	Priority       int
	StopEvaluating bool
	MatchWithColor bool
	ArgTypes       map[string]schema.ArgType
	BucketID       schema.BucketID

	re   *regexp.Regexp
	hits uint64
}

// AddRequest registers a new trigger. The Disabled zero value means new
// triggers start enabled.
type AddRequest struct {
	Name           schema.TriggerName
	Owner          schema.OwnerID
	Pattern        string
	Disabled       bool
	Group          string
	Omit           bool
	Priority       int
	StopEvaluating bool
	MatchWithColor bool
	ArgTypes       map[string]schema.ArgType
}

// Patch edits a rule in place without losing bus registrations. Nil fields
// are left untouched.
type Patch struct {
	Pattern        *string
	Group          *string
	Omit           *bool
	Priority       *int
	StopEvaluating *bool
	MatchWithColor *bool
	ArgTypes       map[string]schema.ArgType
}

// Add registers a trigger and returns the event name its matches raise.
// Exactly one rule instance exists per id; re-adding is rejected.
func (e *Engine) Add(req AddRequest) (schema.EventName, error) {
	if err := schema.ValidateOwnerID(req.Owner); err != nil {
		return "", err
	}
	if err := schema.ValidateTriggerName(req.Name); err != nil {
		return "", err
	}
	if req.Priority == 0 {
		req.Priority = DefaultRulePriority
	}
	id := schema.MakeTriggerID(req.Owner, req.Name)

	re, err := regexp.Compile(req.Pattern)
	if err != nil {
		return "", fmt.Errorf("%w: %v", schema.ErrPatternCompile, err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.rules[id]; exists {
		return "", fmt.Errorf("%w: %s", schema.ErrDuplicateTrigger, id)
	}
	bucketID, err := e.index.Add(req.Pattern, id, !req.Disabled, req.MatchWithColor)
	if err != nil {
		return "", err
	}
	rule := &Rule{
		ID:             id,
		Name:           req.Name,
		Owner:          req.Owner,
		Pattern:        req.Pattern,
		Enabled:        !req.Disabled,
		Group:          req.Group,
		Omit:           req.Omit,
		Priority:       req.Priority,
		StopEvaluating: req.StopEvaluating,
		MatchWithColor: req.MatchWithColor,
		ArgTypes:       req.ArgTypes,
		BucketID:       bucketID,
		re:             re,
	}
	e.rules[id] = rule
	e.log.Info("trigger add", "trigger", id, "owner", req.Owner, "bucket", bucketID, "enabled", rule.Enabled, "priority", rule.Priority)
	return schema.TriggerEvent(id), nil
}

// Remove drops a trigger. It refuses while the trigger's event still has
// handlers registered, unless forced.
func (e *Engine) Remove(name schema.TriggerName, owner schema.OwnerID, force bool) error {
	id := schema.MakeTriggerID(owner, name)
	if !force {
		if n := e.bus.HandlerCount(schema.TriggerEvent(id)); n > 0 {
			return fmt.Errorf("%w: %s has %d", schema.ErrHandlersRemain, id, n)
		}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	rule := e.rules[id]
	if rule == nil {
		return fmt.Errorf("%w: %s", schema.ErrTriggerNotFound, id)
	}
	e.index.Remove(id)
	delete(e.rules, id)
	e.log.Info("trigger remove", "trigger", id, "owner", owner, "forced", force)
	return nil
}

// Update patches a rule in place. A pattern change recompiles and moves
// bucket membership atomically; registrations on the trigger event survive.
func (e *Engine) Update(name schema.TriggerName, owner schema.OwnerID, patch Patch) error {
	id := schema.MakeTriggerID(owner, name)
	e.mu.Lock()
	defer e.mu.Unlock()
	rule := e.rules[id]
	if rule == nil {
		return fmt.Errorf("%w: %s", schema.ErrTriggerNotFound, id)
	}
	newPattern := rule.Pattern
	if patch.Pattern != nil {
		newPattern = *patch.Pattern
	}
	newColor := rule.MatchWithColor
	if patch.MatchWithColor != nil {
		newColor = *patch.MatchWithColor
	}
	if newPattern != rule.Pattern || newColor != rule.MatchWithColor {
		re := rule.re
		if newPattern != rule.Pattern {
			compiled, err := regexp.Compile(newPattern)
			if err != nil {
				return fmt.Errorf("%w: %v", schema.ErrPatternCompile, err)
			}
			re = compiled
		}
		// Compile first so the bucket move cannot half-apply.
		e.index.Remove(id)
		bucketID, err := e.index.Add(newPattern, id, rule.Enabled, newColor)
		if err != nil {
			// Restore the previous membership.
			if restored, rerr := e.index.Add(rule.Pattern, id, rule.Enabled, rule.MatchWithColor); rerr == nil {
				rule.BucketID = restored
			}
			return err
		}
		rule.Pattern = newPattern
		rule.re = re
		rule.MatchWithColor = newColor
		rule.BucketID = bucketID
	}
	if patch.Group != nil {
		rule.Group = *patch.Group
	}
	if patch.Omit != nil {
		rule.Omit = *patch.Omit
	}
	if patch.Priority != nil {
		rule.Priority = *patch.Priority
	}
	if patch.StopEvaluating != nil {
		rule.StopEvaluating = *patch.StopEvaluating
	}
	if patch.ArgTypes != nil {
		rule.ArgTypes = patch.ArgTypes
	}
	e.log.Info("trigger update", "trigger", id, "owner", owner)
	return nil
}

// Enable turns a trigger on. Enabling an unknown id is a logged no-op.
func (e *Engine) Enable(name schema.TriggerName, owner schema.OwnerID) {
	e.setEnabled(schema.MakeTriggerID(owner, name), true)
}

// Disable turns a trigger off and drops its bucket membership from the
// compiled alternation.
func (e *Engine) Disable(name schema.TriggerName, owner schema.OwnerID) {
	e.setEnabled(schema.MakeTriggerID(owner, name), false)
}

func (e *Engine) setEnabled(id schema.TriggerID, enabled bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule := e.rules[id]
	if rule == nil {
		e.log.Debug("trigger miss", "trigger", id, "op", "enable")
		return
	}
	if rule.Enabled == enabled {
		return
	}
	rule.Enabled = enabled
	if enabled {
		e.index.Enable(id)
	} else {
		e.index.Disable(id)
	}
	e.log.Info("trigger toggle", "trigger", id, "enabled", enabled)
}

// SetGroupEnabled toggles every rule in the named group and returns how
// many changed.
func (e *Engine) SetGroupEnabled(group string, enabled bool) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	changed := 0
	for id, rule := range e.rules {
		if rule.Group != group || rule.Enabled == enabled {
			continue
		}
		rule.Enabled = enabled
		if enabled {
			e.index.Enable(id)
		} else {
			e.index.Disable(id)
		}
		changed++
	}
	if changed > 0 {
		e.log.Info("trigger group toggle", "group", group, "enabled", enabled, "changed", changed)
	}
	return changed
}

// RemoveOwner force-removes every trigger the owner registered and returns
// how many were dropped. Callers pair this with Bus.RemoveAll so an
// unloaded plugin leaves nothing behind.
func (e *Engine) RemoveOwner(owner schema.OwnerID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	removed := 0
	for id, rule := range e.rules {
		if rule.Owner != owner {
			continue
		}
		e.index.Remove(id)
		delete(e.rules, id)
		removed++
	}
	if removed > 0 {
		e.log.Info("trigger owner removed", "owner", owner, "triggers", removed)
	}
	return removed
}

// Detail describes one trigger for diagnostics.
type Detail struct {
	ID             schema.TriggerID
	Name           schema.TriggerName
	Owner          schema.OwnerID
	Pattern        string
	Enabled        bool
	Group          string
	Omit           bool
	Priority       int
	StopEvaluating bool
	MatchWithColor bool
	BucketID       schema.BucketID
	Hits           uint64
	Handlers       int
}

// Trigger returns diagnostics for one trigger id.
func (e *Engine) Trigger(id schema.TriggerID) (Detail, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rule := e.rules[id]
	if rule == nil {
		return Detail{}, fmt.Errorf("%w: %s", schema.ErrTriggerNotFound, id)
	}
	return e.detailOf(rule), nil
}

// List returns diagnostics for every trigger, sorted by id.
func (e *Engine) List() []Detail {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Detail, 0, len(e.rules))
	for _, rule := range e.rules {
		out = append(out, e.detailOf(rule))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (e *Engine) detailOf(rule *Rule) Detail {
	return Detail{
		ID:             rule.ID,
		Name:           rule.Name,
		Owner:          rule.Owner,
		Pattern:        rule.Pattern,
		Enabled:        rule.Enabled,
		Group:          rule.Group,
		Omit:           rule.Omit,
		Priority:       rule.Priority,
		StopEvaluating: rule.StopEvaluating,
		MatchWithColor: rule.MatchWithColor,
		BucketID:       rule.BucketID,
		Hits:           atomic.LoadUint64(&rule.hits),
		Handlers:       e.bus.HandlerCount(schema.TriggerEvent(rule.ID)),
	}
}
