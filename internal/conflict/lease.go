package conflict

import (
	"encoding/json"
	"fmt"
	"time"
)

// leaseHorizon is the fixed expiry window for a merge-lease announcement,
// bounding how long a crashed device can block others from merging a path.
const leaseHorizon = 10 * time.Minute

// Lease announces "device X is merging path P at time T" on the shared
// remote communication file. Other devices encountering a divergence on P
// consult IsActive before starting their own merge.
type Lease struct {
	ID        string    `json:"id"`
	Device    string    `json:"device"`
	Path      string    `json:"path"`
	StartedAt time.Time `json:"startedAt"`
}

// IsActive reports whether the lease has not yet expired relative to now.
func (l Lease) IsActive(now time.Time) bool {
	return now.Sub(l.StartedAt) < leaseHorizon
}

// CommunicationFile is the narrow remote-coordination capability the
// resolver needs: read and atomically replace the single shared
// "communication" file holding the active lease set.
type CommunicationFile interface {
	Read() ([]byte, error)
	Write(data []byte) error
}

// leaseDocument is the literal JSON structure persisted in the
// communication file: one lease per in-flight path.
type leaseDocument struct {
	Leases map[string]Lease `json:"leases"`
}

// AcquireLease attempts to record a lease for vaultPath under device,
// refusing if a non-expired lease already exists for another device.
func AcquireLease(cf CommunicationFile, device, vaultPath string, leaseID string, now time.Time) (bool, error) {
	doc, err := readLeaseDocument(cf)
	if err != nil {
		return false, err
	}

	if existing, ok := doc.Leases[vaultPath]; ok && existing.IsActive(now) && existing.Device != device {
		return false, nil
	}

	doc.Leases[vaultPath] = Lease{ID: leaseID, Device: device, Path: vaultPath, StartedAt: now}
	return true, writeLeaseDocument(cf, doc)
}

// ReleaseLease removes the lease for vaultPath, regardless of owner
// (called on completion or abandonment).
func ReleaseLease(cf CommunicationFile, vaultPath string) error {
	doc, err := readLeaseDocument(cf)
	if err != nil {
		return err
	}
	delete(doc.Leases, vaultPath)
	return writeLeaseDocument(cf, doc)
}

// ActiveLease returns the current lease for vaultPath, if any and unexpired.
func ActiveLease(cf CommunicationFile, vaultPath string, now time.Time) (Lease, bool, error) {
	doc, err := readLeaseDocument(cf)
	if err != nil {
		return Lease{}, false, err
	}
	l, ok := doc.Leases[vaultPath]
	if !ok || !l.IsActive(now) {
		return Lease{}, false, nil
	}
	return l, true, nil
}

func readLeaseDocument(cf CommunicationFile) (leaseDocument, error) {
	data, err := cf.Read()
	if err != nil {
		return leaseDocument{Leases: make(map[string]Lease)}, nil
	}
	if len(data) == 0 {
		return leaseDocument{Leases: make(map[string]Lease)}, nil
	}

	var doc leaseDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return leaseDocument{}, fmt.Errorf("conflict: parsing communication file: %w", err)
	}
	if doc.Leases == nil {
		doc.Leases = make(map[string]Lease)
	}
	return doc, nil
}

func writeLeaseDocument(cf CommunicationFile, doc leaseDocument) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("conflict: marshaling communication file: %w", err)
	}
	return cf.Write(data)
}
