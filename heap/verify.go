package heap

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kunitoki/etch/internal/etchlog"
	"github.com/kunitoki/etch/vmvalue"
)

// Severity classifies a verification finding.
type Severity uint8

const (
	SeverityWarning Severity = iota
	SeverityCritical
)

func (s Severity) String() string {
	if s == SeverityCritical {
		return "critical"
	}
	return "warning"
}

// Finding is one heap-integrity issue surfaced by Verify.
type Finding struct {
	Severity Severity
	ObjectID int64
	Kind     string
	Message  string
}

// Report is the result of a verification pass.
type Report struct {
	ObjectsChecked int
	Findings       []Finding
	HealthScore    float64
}

// HasCritical reports whether any finding is Critical.
func (r *Report) HasCritical() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

// String renders a human-readable summary of the report.
func (r *Report) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "checked %d objects, health=%.2f\n", r.ObjectsChecked, r.HealthScore)
	for _, f := range r.Findings {
		fmt.Fprintf(&b, "  [%s] #%d %s: %s\n", f.Severity, f.ObjectID, f.Kind, f.Message)
	}
	return b.String()
}

// ExportJSON renders the report as a minimal, stable JSON shape for
// machine consumers.
func (r *Report) ExportJSON() map[string]any {
	findings := make([]map[string]any, 0, len(r.Findings))
	for _, f := range r.Findings {
		findings = append(findings, map[string]any{
			"severity": f.Severity.String(),
			"objectId": f.ObjectID,
			"kind":     f.Kind,
			"message":  f.Message,
		})
	}
	return map[string]any{
		"objectsChecked": r.ObjectsChecked,
		"healthScore":    r.HealthScore,
		"findings":       findings,
	}
}

// Verify walks every live object and cross-checks its recorded strong
// refcount, its field/element values, and the EdgeBuffer against each
// other, reporting any mismatch as a Finding rather than failing fast: a
// debugger session wants to see everything wrong with the heap in one pass.
func (h *Heap) Verify() *Report {
	report := &Report{ObjectsChecked: len(h.objects)}

	ids := make([]int64, 0, len(h.objects))
	for id := range h.objects {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	// Recompute expected incoming-refs-from-edges per target, compared
	// against each target's recorded StrongRefs. Root-external holds (refs
	// not represented as a field edge, e.g. a register holding the value
	// directly) make an exact match impossible to enforce in general, so
	// we only flag strong undercounts: StrongRefs lower than the number of
	// live incoming field edges is always a corruption, never a false
	// positive.
	incoming := make(map[int64]int, len(ids))
	for _, id := range ids {
		for _, target := range h.edges.Outgoing(id) {
			incoming[target]++
		}
	}

	for _, id := range ids {
		obj := h.objects[id]

		if obj.StrongRefs < 0 {
			report.Findings = append(report.Findings, Finding{
				Severity: SeverityCritical, ObjectID: id, Kind: "NegativeRefcount",
				Message: fmt.Sprintf("strongRefs=%d", obj.StrongRefs),
			})
		}
		if in := incoming[id]; int64(in) > obj.StrongRefs {
			report.Findings = append(report.Findings, Finding{
				Severity: SeverityCritical, ObjectID: id, Kind: "RefcountUndercount",
				Message: fmt.Sprintf("strongRefs=%d but %d live incoming edges", obj.StrongRefs, in),
			})
		}

		// Cross-check the object's own field-ref cache against its actual
		// current field/element values.
		actual := make(map[int64]int)
		for _, v := range obj.Fields {
			if v.Kind == vmvalue.KindRef {
				actual[v.HeapID]++
			}
		}
		for _, v := range obj.Elements {
			if v.Kind == vmvalue.KindRef {
				actual[v.HeapID]++
			}
		}
		for target, count := range obj.FieldRefs {
			if actual[target] != count {
				report.Findings = append(report.Findings, Finding{
					Severity: SeverityWarning, ObjectID: id, Kind: "FieldRefMismatch",
					Message: fmt.Sprintf("cached %d refs to #%d, actual %d", count, target, actual[target]),
				})
			}
		}

		if obj.Dirty {
			report.Findings = append(report.Findings, Finding{
				Severity: SeverityWarning, ObjectID: id, Kind: "DirtyObject",
				Message: "object has unflushed mutations pending verification",
			})
		}

		if obj.Kind == KindWeak && obj.WeakTarget >= 0 {
			if _, alive := h.objects[obj.WeakTarget]; !alive {
				report.Findings = append(report.Findings, Finding{
					Severity: SeverityCritical, ObjectID: id, Kind: "DanglingWeak",
					Message: fmt.Sprintf("weak target #%d no longer live", obj.WeakTarget),
				})
			}
		}
	}

	total := len(report.Findings) + report.ObjectsChecked
	healthy := report.ObjectsChecked
	if total == 0 {
		report.HealthScore = 1.0
	} else {
		score := float64(healthy) / float64(total)
		if report.HasCritical() && score > 0.5 {
			score = 0.5
		}
		report.HealthScore = score
	}
	if report.HasCritical() {
		etchlog.Logger.Printf("heap verify: %d critical finding(s) among %d objects, health=%.2f", len(report.Findings), report.ObjectsChecked, report.HealthScore)
	}
	return report
}

// AttemptRecovery repairs what it safely can from a Report: it clears the
// Dirty flag on every object (the mutation has already been applied; Dirty
// only flags that it hasn't been observed yet) and re-derives FieldRefs from
// each object's actual current field/element values, which is always safe
// since FieldRefs is a cache, never a source of truth. It does not touch
// StrongRefs or the EdgeBuffer, since those require a correct root set to
// repair without risking a premature free; callers that need full recovery
// should follow AttemptRecovery with CollectCycles against a fresh root
// walk.
func (h *Heap) AttemptRecovery(report *Report) int {
	repaired := 0
	touched := make(map[int64]bool)
	for _, f := range report.Findings {
		if f.Kind == "DirtyObject" || f.Kind == "FieldRefMismatch" {
			touched[f.ObjectID] = true
		}
	}
	for id := range touched {
		obj := h.objects[id]
		if obj == nil {
			continue
		}
		obj.Dirty = false
		fresh := make(map[int64]int)
		for _, v := range obj.Fields {
			if v.Kind == vmvalue.KindRef {
				fresh[v.HeapID]++
			}
		}
		for _, v := range obj.Elements {
			if v.Kind == vmvalue.KindRef {
				fresh[v.HeapID]++
			}
		}
		obj.FieldRefs = fresh
		repaired++
	}
	return repaired
}

// QuickHealthCheck runs a cheap subset of Verify (refcount sign + dangling
// weak checks only) suitable for calling on every VM step in debug builds,
// without the O(n) field-ref cross-check.
func (h *Heap) QuickHealthCheck() bool {
	for _, obj := range h.objects {
		if obj.StrongRefs < 0 {
			return false
		}
		if obj.Kind == KindWeak && obj.WeakTarget >= 0 {
			if _, alive := h.objects[obj.WeakTarget]; !alive {
				return false
			}
		}
	}
	return true
}
