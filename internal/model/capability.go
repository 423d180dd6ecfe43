package model

import (
	"errors"
	"fmt"
)

// Capability names a scan type.
type Capability string

const (
	CapabilityExposureDiscovery     Capability = "exposure_discovery"
	CapabilityDarkWebIntelligence   Capability = "dark_web_intelligence"
	CapabilityEmailSecurity         Capability = "email_security"
	CapabilityInfrastructureTesting Capability = "infrastructure_testing"
)

// DeliveryMode is how results for a job reach the client.
type DeliveryMode string

const (
	ModePolling   DeliveryMode = "polling"
	ModeStreaming DeliveryMode = "streaming"
)

var ErrUnknownCapability = errors.New("unknown capability")

// CapabilityInfo describes a capability for listings.
type CapabilityInfo struct {
	Capability Capability   `json:"capability"`
	Name       string       `json:"name"`
	Mode       DeliveryMode `json:"mode"`
}

// capabilities is the delivery-mode table. Dark-web intelligence produces
// results incrementally and is the only streaming capability.
var capabilities = []CapabilityInfo{
	{Capability: CapabilityExposureDiscovery, Name: "Exposure Discovery", Mode: ModePolling},
	{Capability: CapabilityDarkWebIntelligence, Name: "Dark Web Intelligence", Mode: ModeStreaming},
	{Capability: CapabilityEmailSecurity, Name: "Email Security", Mode: ModePolling},
	{Capability: CapabilityInfrastructureTesting, Name: "Infrastructure Testing", Mode: ModePolling},
}

// Capabilities returns every known capability in display order.
func Capabilities() []CapabilityInfo {
	return append([]CapabilityInfo(nil), capabilities...)
}

// ModeFor returns the delivery mode the capability always uses.
func ModeFor(c Capability) (DeliveryMode, error) {
	for _, info := range capabilities {
		if info.Capability == c {
			return info.Mode, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCapability, c)
}

// Valid reports whether c is a known capability.
func (c Capability) Valid() bool {
	_, err := ModeFor(c)
	return err == nil
}
