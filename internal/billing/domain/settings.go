package billing

import "time"

// Settings is an immutable configuration snapshot. A reload builds a new
// snapshot and swaps it in; requests keep the one they started with.
type Settings struct {
	Version  string
	Location *time.Location

	// Zones are in display order.
	Zones         []Zone
	BuildingMeter string
	InvoiceZoneID string

	Tariffs    *TariffBook
	Allocation AllocationPolicy
	Repair     RepairPolicy
}

// Zone looks up a zone by id.
func (s *Settings) Zone(id string) (Zone, bool) {
	for _, z := range s.Zones {
		if z.ID == id {
			return z, true
		}
	}
	return Zone{}, false
}

// ZoneIDs lists zone ids in display order.
func (s *Settings) ZoneIDs() []string {
	ids := make([]string, len(s.Zones))
	for i, z := range s.Zones {
		ids[i] = z.ID
	}
	return ids
}

// Validate checks the snapshot as a whole.
func (s *Settings) Validate() error {
	if s.Location == nil {
		return configurationError("settings without time zone")
	}
	if len(s.Zones) == 0 {
		return configurationError("settings without zones")
	}
	if s.Tariffs == nil {
		return configurationError("settings without tariffs")
	}
	seen := make(map[string]struct{}, len(s.Zones))
	remainders := 0
	for _, z := range s.Zones {
		if z.ID == "" {
			return configurationError("zone without id")
		}
		if _, dup := seen[z.ID]; dup {
			return configurationError("duplicate zone %q", z.ID)
		}
		seen[z.ID] = struct{}{}
		switch z.Kind {
		case ZoneMetered:
			if z.Sensor == "" {
				return configurationError("metered zone %q has no sensor", z.ID)
			}
		case ZoneRemainder:
			remainders++
		default:
			return configurationError("zone %q has unknown kind %q", z.ID, z.Kind)
		}
	}
	if remainders > 1 {
		return configurationError("at most one remainder zone is allowed")
	}
	if remainders == 1 && s.BuildingMeter == "" {
		return configurationError("remainder zone requires a building meter")
	}
	if s.InvoiceZoneID != "" {
		z, ok := s.Zone(s.InvoiceZoneID)
		if !ok {
			return configurationError("invoice zone %q is not a configured zone", s.InvoiceZoneID)
		}
		if z.Kind != ZoneMetered {
			return configurationError("invoice zone %q must be metered", s.InvoiceZoneID)
		}
	}
	return s.Allocation.Validate(s.ZoneIDs())
}
