// Package directory implements the process-wide capability registry through
// which nodes learn of each other. There is no static configuration of peers:
// a node advertises a (identity, capability-type, capability-name) tuple at
// startup and everyone else finds it by capability type.
package directory

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Capability types under which nodes advertise their roles.
const (
	CapabilityBranch       = "bank-branch"
	CapabilityNotification = "notification"
	CapabilityExchange     = "currency-exchange"
	CapabilityObserver     = "gui-agent"
)

// ServiceRecord describes one registered node.
type ServiceRecord struct {
	Identity       string
	CapabilityType string
	CapabilityName string
}

// Directory is the registry itself. It lives for the whole process group:
// created at startup, torn down at shutdown. Records are only removed when
// the process exits; there is no explicit deregistration.
type Directory struct {
	sync.RWMutex
	records map[string]ServiceRecord
	logger  *logrus.Entry
}

// New ...
func New(logger *logrus.Entry) *Directory {
	if logger == nil {
		log := logrus.New()
		log.Level = logrus.DebugLevel
		logger = logrus.NewEntry(log)
	}

	return &Directory{
		records: make(map[string]ServiceRecord),
		logger:  logger.WithField("component", "directory"),
	}
}

// Register records a node's capability. It never fails; re-registration
// overwrites the prior record for that identity.
func (d *Directory) Register(identity, capabilityType, capabilityName string) {
	d.Lock()
	defer d.Unlock()

	d.records[identity] = ServiceRecord{
		Identity:       identity,
		CapabilityType: capabilityType,
		CapabilityName: capabilityName,
	}

	d.logger.WithFields(logrus.Fields{
		"identity": identity,
		"type":     capabilityType,
		"name":     capabilityName,
	}).Debug("Registered")
}

// Find returns all records matching the capability type, in unspecified
// order, possibly empty. Lookups have no side effects.
func (d *Directory) Find(capabilityType string) []ServiceRecord {
	d.RLock()
	defer d.RUnlock()

	res := []ServiceRecord{}
	for _, rec := range d.records {
		if rec.CapabilityType == capabilityType {
			res = append(res, rec)
		}
	}

	return res
}

// FindOthers returns all records matching the capability type, excluding the
// given identity. Branches use this to discover their peers.
func (d *Directory) FindOthers(capabilityType, self string) []ServiceRecord {
	res := []ServiceRecord{}
	for _, rec := range d.Find(capabilityType) {
		if rec.Identity != self {
			res = append(res, rec)
		}
	}

	return res
}

// Records returns a snapshot of every registered record.
func (d *Directory) Records() []ServiceRecord {
	d.RLock()
	defer d.RUnlock()

	res := []ServiceRecord{}
	for _, rec := range d.records {
		res = append(res, rec)
	}

	return res
}
