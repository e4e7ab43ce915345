package drdb

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Snapshot holds every collection of one version in memory.
type Snapshot struct {
	LastUpdate  string
	Articles    []*Article
	Variants    []*Variant
	Isolates    []*Isolate
	Antibodies  []*Antibody
	SuscRecords []*SuscRecord
}

// MemoryRepository serves snapshots held in memory.
type MemoryRepository struct {
	mu        sync.RWMutex
	snapshots map[string]*Snapshot
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{snapshots: make(map[string]*Snapshot)}
}

// Put registers a snapshot under version, replacing any previous one.
func (r *MemoryRepository) Put(version string, s *Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snapshots[version] = s
}

func (r *MemoryRepository) get(version string) (*Snapshot, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.snapshots[version]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownVersion, version)
	}
	return s, nil
}

// Versions returns the registered versions in sorted order.
func (r *MemoryRepository) Versions(context.Context) ([]string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	versions := make([]string, 0, len(r.snapshots))
	for v := range r.snapshots {
		versions = append(versions, v)
	}
	sort.Strings(versions)
	return versions, nil
}

func (r *MemoryRepository) LastUpdate(_ context.Context, version string) (string, error) {
	s, err := r.get(version)
	if err != nil {
		return "", err
	}
	return s.LastUpdate, nil
}

func (r *MemoryRepository) LoadArticles(_ context.Context, version string) ([]*Article, error) {
	s, err := r.get(version)
	if err != nil {
		return nil, err
	}
	return s.Articles, nil
}

func (r *MemoryRepository) LoadVariants(_ context.Context, version string) ([]*Variant, error) {
	s, err := r.get(version)
	if err != nil {
		return nil, err
	}
	return s.Variants, nil
}

func (r *MemoryRepository) LoadIsolates(_ context.Context, version string) ([]*Isolate, error) {
	s, err := r.get(version)
	if err != nil {
		return nil, err
	}
	return s.Isolates, nil
}

func (r *MemoryRepository) LoadAntibodies(_ context.Context, version string) ([]*Antibody, error) {
	s, err := r.get(version)
	if err != nil {
		return nil, err
	}
	return s.Antibodies, nil
}

// LoadSuscRecords returns the records of one family, validating required fields.
func (r *MemoryRepository) LoadSuscRecords(_ context.Context, version string, family Family) ([]*SuscRecord, error) {
	s, err := r.get(version)
	if err != nil {
		return nil, err
	}
	var out []*SuscRecord
	for _, rec := range s.SuscRecords {
		if rec.Family != family {
			continue
		}
		if err := ValidateSuscRecord(rec); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// ValidateSuscRecord checks the fields every result must carry.
func ValidateSuscRecord(rec *SuscRecord) error {
	id := rec.RefName + "/" + rec.RxName + "/" + rec.IsoName
	required := []struct{ field, val string }{
		{"ref_name", rec.RefName},
		{"rx_name", rec.RxName},
		{"control_iso_name", rec.ControlIsoName},
		{"iso_name", rec.IsoName},
	}
	for _, r := range required {
		if r.val == "" {
			return &DataIntegrityError{Table: "susc_results", Record: id, Field: r.field}
		}
	}
	if rec.CumulativeCount < 1 {
		return &DataIntegrityError{
			Table: "susc_results", Record: id, Field: "cumulative_count",
			Err: fmt.Errorf("must be positive, got %d", rec.CumulativeCount),
		}
	}
	switch rec.Family {
	case FamilyAntibody:
		if len(rec.AbNames) == 0 {
			return &DataIntegrityError{Table: "rx_antibodies", Record: id, Field: "ab_name"}
		}
	case FamilyVaccPlasma:
		if rec.VaccineName == "" {
			return &DataIntegrityError{Table: "rx_vacc_plasma", Record: id, Field: "vaccine_name"}
		}
	}
	return nil
}
