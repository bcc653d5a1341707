package mqtt

import (
	"fmt"
	"strings"
)

// TopicPrefix is the root of every topic Instrumental publishes.
const TopicPrefix = "instrumental"

// Topics provides builders for Instrumental MQTT topics.
//
//	mqtt.Topics{}.FacetChange("5f0c...", "wavelength")
//	// Returns: "instrumental/instrument/5f0c.../facet/wavelength"
type Topics struct{}

// SystemStatus carries retained online/offline status messages.
func (Topics) SystemStatus() string {
	return TopicPrefix + "/system/status"
}

// InstrumentState carries retained opened/closed events for one instance.
func (Topics) InstrumentState(instanceID string) string {
	return fmt.Sprintf("%s/instrument/%s/state", TopicPrefix, segment(instanceID))
}

// FacetChange carries value changes of one facet.
func (Topics) FacetChange(instanceID, facet string) string {
	return fmt.Sprintf("%s/instrument/%s/facet/%s", TopicPrefix, segment(instanceID), segment(facet))
}

// AllInstruments matches every instrument topic.
func (Topics) AllInstruments() string {
	return TopicPrefix + "/instrument/#"
}

// segment strips characters that would change the topic structure.
func segment(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
