package smu

import (
	"errors"
	"fmt"
	"strings"
)

type featureID uint

const (
	MP1MailboxFeature featureID = iota
	RSMUMailboxFeature
	HSMPMailboxFeature
	PMTableFeature
)

type featureStatus struct {
	name     string
	driver   string
	err      error
	initFunc func(s *smuImpl) featureStatus
}

func (f *featureStatus) Name() string {
	return f.name
}

func (f *featureStatus) Driver() string {
	return f.driver
}

func (f *featureStatus) FeatureError() error {
	return f.err
}

// FeatureSet records which facilities work on this machine.
type FeatureSet map[featureID]*featureStatus

var (
	uninitialisedErr = errors.New("feature uninitialized")
	undefinederr     = errors.New("feature undefined")
)

func newFeatureSet() FeatureSet {
	return FeatureSet{
		MP1MailboxFeature: {
			name:     "MP1 mailbox",
			driver:   "smn",
			err:      uninitialisedErr,
			initFunc: initMP1Mailbox,
		},
		RSMUMailboxFeature: {
			name:     "RSMU mailbox",
			driver:   "smn",
			err:      uninitialisedErr,
			initFunc: initRSMUMailbox,
		},
		HSMPMailboxFeature: {
			name:     "HSMP mailbox",
			driver:   "smn",
			err:      uninitialisedErr,
			initFunc: initHSMPMailbox,
		},
		PMTableFeature: {
			name:     "PM table",
			driver:   "devmem",
			err:      uninitialisedErr,
			initFunc: initPMTable,
		},
	}
}

// init probes every feature and returns the joined errors of the failed ones.
func (set FeatureSet) init(s *smuImpl) error {
	if len(set) == 0 {
		return fmt.Errorf("no features defined")
	}
	var errs []error
	for id, status := range set {
		probed := status.initFunc(s)
		set[id] = &probed
		if probed.err != nil {
			log.Info("feature unavailable", "feature", probed.name, "error", probed.err.Error())
			errs = append(errs, probed.err)
		} else {
			log.V(1).Info("feature available", "feature", probed.name, "driver", probed.driver)
		}
	}
	return errors.Join(errs...)
}

func (set FeatureSet) anySupported() bool {
	for _, status := range set {
		if status.err == nil {
			return true
		}
	}
	return false
}

func (set FeatureSet) isFeatureIdSupported(id featureID) bool {
	if status, ok := set[id]; ok {
		return status.err == nil
	}
	return false
}

func (set FeatureSet) getFeatureIdError(id featureID) error {
	if status, ok := set[id]; ok {
		return status.err
	}
	return undefinederr
}

func (set FeatureSet) IsFeatureSupported(id featureID) bool {
	return set.isFeatureIdSupported(id)
}

func (set FeatureSet) GetFeatureError(id featureID) error {
	return set.getFeatureIdError(id)
}

func (set FeatureSet) String() string {
	var b strings.Builder
	for id := MP1MailboxFeature; id <= PMTableFeature; id++ {
		status, ok := set[id]
		if !ok {
			continue
		}
		state := "supported"
		if status.err != nil {
			state = status.err.Error()
		}
		fmt.Fprintf(&b, "%s (%s): %s\n", status.name, status.driver, state)
	}
	return b.String()
}

func initMP1Mailbox(s *smuImpl) featureStatus {
	return probeMailbox(s, MailboxMP1, "MP1 mailbox", initMP1Mailbox)
}

func initRSMUMailbox(s *smuImpl) featureStatus {
	return probeMailbox(s, MailboxRSMU, "RSMU mailbox", initRSMUMailbox)
}

func initHSMPMailbox(s *smuImpl) featureStatus {
	feature := probeMailbox(s, MailboxHSMP, "HSMP mailbox", initHSMPMailbox)
	if feature.err == nil && checkKernelModuleLoaded(s.conf.ModulePath, "amd_hsmp") {
		feature.driver = "smn (amd_hsmp loaded)"
	}
	return feature
}

func probeMailbox(s *smuImpl, mb Mailbox, name string, initFunc func(*smuImpl) featureStatus) featureStatus {
	feature := featureStatus{
		name:     name,
		driver:   "smn",
		initFunc: initFunc,
	}
	if _, err := s.GetVersion(mb); err != nil {
		feature.err = fmt.Errorf("%s feature error: %w", strings.ToLower(name), err)
	}
	return feature
}

func initPMTable(s *smuImpl) featureStatus {
	feature := featureStatus{
		name:     "PM table",
		driver:   "devmem",
		initFunc: initPMTable,
	}
	buf := make([]byte, PMTableMaxSize)
	if _, err := s.ReadPMTable(buf); err != nil {
		feature.err = fmt.Errorf("pm table feature error: %w", err)
	}
	return feature
}
