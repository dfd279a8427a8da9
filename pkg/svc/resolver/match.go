package resolver

import (
	"strings"

	"github.com/shawn-hurley/ci/pkg/svc/runtime"
)

// Resolution is the outcome of matching a requirement list against a runtime
// image inventory.
type Resolution struct {
	// Found maps each satisfied requirement to the full inventory reference
	// that matched it.
	Found map[string]string
	// Missing lists the requirements with no inventory match, in requirement
	// order.
	Missing []string
	// ReferenceTag is the tag of the first requirement (in list order) that
	// had a match, used to normalize freshly loaded images to the tag
	// convention already present in the runtime. Empty when nothing matched.
	ReferenceTag string
}

// Satisfied reports whether every requirement was found.
func (r Resolution) Satisfied() bool {
	return len(r.Missing) == 0
}

// Match partitions a requirement list into found and missing sets against an
// inventory.
//
// A requirement is satisfied by the first inventory entry whose repository
// contains it as a case-insensitive substring; this is deliberately loose so
// that a required prefix like ".../tackle2-hub" matches ".../tackle2-hub:pr-123".
//
// The reference tag is taken from whichever requirement is checked first and
// found — requirement list order is authoritative, so callers that care about
// which image's tag wins should list it first.
func Match(required []string, inventory []runtime.ImageRecord) Resolution {
	resolution := Resolution{Found: make(map[string]string, len(required))}

	for _, requirement := range required {
		matched, ok := findMatch(requirement, inventory)
		if !ok {
			resolution.Missing = append(resolution.Missing, requirement)

			continue
		}

		resolution.Found[requirement] = matched.Ref()

		if resolution.ReferenceTag == "" {
			resolution.ReferenceTag = matched.Tag
		}
	}

	return resolution
}

// findMatch returns the first inventory record whose repository contains the
// requirement as a case-insensitive substring.
func findMatch(requirement string, inventory []runtime.ImageRecord) (runtime.ImageRecord, bool) {
	lowered := strings.ToLower(requirement)

	for _, record := range inventory {
		if strings.Contains(strings.ToLower(record.Repository), lowered) {
			return record, true
		}
	}

	return runtime.ImageRecord{}, false
}
