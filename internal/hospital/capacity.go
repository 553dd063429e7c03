package hospital

import "time"

// BedStatus represents the status of a hospital bed
type BedStatus string

const (
	BedStatusAvailable   BedStatus = "available"
	BedStatusOccupied    BedStatus = "occupied"
	BedStatusCleaning    BedStatus = "cleaning"
	BedStatusMaintenance BedStatus = "maintenance"
	BedStatusReserved    BedStatus = "reserved"
)

// BedType represents the type of a hospital bed
type BedType string

const (
	BedTypeICU       BedType = "icu"
	BedTypeGeneral   BedType = "general"
	BedTypeER        BedType = "er"
	BedTypeIsolation BedType = "isolation"
	BedTypePediatric BedType = "pediatric"
	BedTypeCardiac   BedType = "cardiac"
)

// StaffRole represents a hospital staff role
type StaffRole string

const (
	StaffRoleNurse      StaffRole = "nurse"
	StaffRoleDoctor     StaffRole = "doctor"
	StaffRoleSpecialist StaffRole = "specialist"
	StaffRoleTechnician StaffRole = "technician"
)

// Bed is an individual hospital bed. A bed belongs to exactly one unit.
type Bed struct {
	ID                string     `json:"id"`
	UnitID            string     `json:"unit_id"`
	BedType           BedType    `json:"bed_type"`
	Status            BedStatus  `json:"status"`
	PatientID         string     `json:"patient_id,omitempty"`
	ExpectedAvailable *time.Time `json:"expected_available,omitempty"`
}

// IsAvailable checks if the bed can take a new patient
func (b Bed) IsAvailable() bool {
	return b.Status == BedStatusAvailable
}

// StaffMember is a hospital staff member assigned to a unit
type StaffMember struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Role        StaffRole `json:"role"`
	UnitID      string    `json:"unit_id"`
	CurrentLoad int       `json:"current_load"`
	MaxLoad     int       `json:"max_load"`
	IsAvailable bool      `json:"is_available"`
}

// LoadPercentage returns the current load as a percentage of max load
func (s StaffMember) LoadPercentage() float64 {
	if s.MaxLoad <= 0 {
		return 0
	}
	return float64(s.CurrentLoad) / float64(s.MaxLoad) * 100
}

// HasCapacity checks if the staff member can take more patients
func (s StaffMember) HasCapacity() bool {
	return s.IsAvailable && s.CurrentLoad < s.MaxLoad
}

// Unit is a hospital unit such as the ICU, ER, or a general ward
type Unit struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	UnitType BedType       `json:"unit_type"`
	Beds     []Bed         `json:"beds"`
	Staff    []StaffMember `json:"staff"`

	PendingDischarges int `json:"pending_discharges"`
	PendingAdmissions int `json:"pending_admissions"`
}

// TotalBeds returns the number of beds in the unit
func (u Unit) TotalBeds() int {
	return len(u.Beds)
}

// AvailableBeds returns the number of available beds
func (u Unit) AvailableBeds() int {
	n := 0
	for _, bed := range u.Beds {
		if bed.IsAvailable() {
			n++
		}
	}
	return n
}

// OccupiedBeds returns the number of occupied beds
func (u Unit) OccupiedBeds() int {
	n := 0
	for _, bed := range u.Beds {
		if bed.Status == BedStatusOccupied {
			n++
		}
	}
	return n
}

// OccupancyRate returns the occupancy rate as a percentage in [0,100]
func (u Unit) OccupancyRate() float64 {
	if len(u.Beds) == 0 {
		return 0
	}
	return float64(u.OccupiedBeds()) / float64(len(u.Beds)) * 100
}

// AvailableStaff returns the number of staff with remaining capacity
func (u Unit) AvailableStaff() int {
	n := 0
	for _, s := range u.Staff {
		if s.HasCapacity() {
			n++
		}
	}
	return n
}

// AverageStaffLoad returns the mean load percentage across the unit's staff
func (u Unit) AverageStaffLoad() float64 {
	if len(u.Staff) == 0 {
		return 0
	}
	var sum float64
	for _, s := range u.Staff {
		sum += s.LoadPercentage()
	}
	return sum / float64(len(u.Staff))
}

// FirstAvailableBed returns the first available bed, or nil
func (u Unit) FirstAvailableBed() *Bed {
	for i := range u.Beds {
		if u.Beds[i].IsAvailable() {
			return &u.Beds[i]
		}
	}
	return nil
}

// CapacitySnapshot is a point-in-time view of hospital capacity. Snapshots
// are replaced wholesale on each capacity update, never patched in place, so
// a reader always sees a single consistent version.
type CapacitySnapshot struct {
	Timestamp time.Time `json:"timestamp"`
	Units     []Unit    `json:"units"`

	// Predictions from the upstream capacity producer
	PredictedDischarges1h int `json:"predicted_discharges_1h"`
	PredictedAdmissions1h int `json:"predicted_admissions_1h"`
}

// TotalBeds returns total beds across all units
func (c CapacitySnapshot) TotalBeds() int {
	n := 0
	for _, u := range c.Units {
		n += u.TotalBeds()
	}
	return n
}

// TotalAvailable returns total available beds across all units
func (c CapacitySnapshot) TotalAvailable() int {
	n := 0
	for _, u := range c.Units {
		n += u.AvailableBeds()
	}
	return n
}

// OverallOccupancyRate returns the hospital-wide occupancy rate in [0,100]
func (c CapacitySnapshot) OverallOccupancyRate() float64 {
	total := c.TotalBeds()
	if total == 0 {
		return 0
	}
	return float64(total-c.TotalAvailable()) / float64(total) * 100
}

// Unit returns the unit with the given ID, or nil
func (c CapacitySnapshot) Unit(unitID string) *Unit {
	for i := range c.Units {
		if c.Units[i].ID == unitID {
			return &c.Units[i]
		}
	}
	return nil
}

// UnitsByType returns all units of the given type
func (c CapacitySnapshot) UnitsByType(bedType BedType) []Unit {
	var out []Unit
	for _, u := range c.Units {
		if u.UnitType == bedType {
			out = append(out, u)
		}
	}
	return out
}

// AvailableBedsByType returns total available beds of the given type
func (c CapacitySnapshot) AvailableBedsByType(bedType BedType) int {
	n := 0
	for _, u := range c.Units {
		if u.UnitType == bedType {
			n += u.AvailableBeds()
		}
	}
	return n
}

// Clone returns a deep copy of the snapshot
func (c CapacitySnapshot) Clone() CapacitySnapshot {
	out := c
	out.Units = make([]Unit, len(c.Units))
	for i, u := range c.Units {
		cu := u
		cu.Beds = append([]Bed(nil), u.Beds...)
		cu.Staff = append([]StaffMember(nil), u.Staff...)
		out.Units[i] = cu
	}
	return out
}
