package availability

import "strings"

// SelectionPolicy decides how a doctor is picked for "any available".
type SelectionPolicy string

const (
	PolicyExplicit     SelectionPolicy = "explicit"
	PolicyLeastBusy    SelectionPolicy = "least_busy"
	PolicyPriorityList SelectionPolicy = "priority_list"
)

// RescheduleMode and CancelMode describe how the booking writer mutates rows.
type (
	RescheduleMode string
	CancelMode     string
)

const (
	RescheduleReplace RescheduleMode = "replace"
	RescheduleInPlace RescheduleMode = "in_place"

	CancelDelete CancelMode = "delete"
	CancelSoft   CancelMode = "soft"
)

const (
	commitmentWeight   = 1
	assignedBonus      = 50
	maxPriorityDoctors = 5
)

// Variant is the per-deployment strategy bundle. Both variants share one engine.
type Variant struct {
	Name            string
	Selection       SelectionPolicy
	PostVisitWeight int
	Sources         []Source
	Reschedule      RescheduleMode
	Cancel          CancelMode
}

var allSources = []Source{SourceConfirmed, SourcePending, SourceReschedule, SourceUnavailability}

var (
	Conventional = Variant{
		Name:            "conventional",
		Selection:       PolicyLeastBusy,
		PostVisitWeight: 3,
		Sources:         allSources,
		Reschedule:      RescheduleReplace,
		Cancel:          CancelDelete,
	}
	TCM = Variant{
		Name:       "tcm",
		Selection:  PolicyPriorityList,
		Sources:    allSources,
		Reschedule: RescheduleInPlace,
		Cancel:     CancelSoft,
	}
)

// VariantByName returns the named variant, defaulting to Conventional.
func VariantByName(name string) Variant {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case TCM.Name:
		return TCM
	default:
		return Conventional
	}
}

func (v Variant) counts(src Source) bool {
	for _, s := range v.Sources {
		if s == src {
			return true
		}
	}
	return false
}
