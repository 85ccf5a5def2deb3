package integration

// NopIntegration discards every event. It is the default backend when no
// event plane is configured.
type NopIntegration struct{}

// PublishBeaconEvent implements the Integration interface.
func (n *NopIntegration) PublishBeaconEvent(BeaconEvent) error {
	return nil
}

// PublishStateEvent implements the Integration interface.
func (n *NopIntegration) PublishStateEvent(StateEvent) error {
	return nil
}

// Close implements the Integration interface.
func (n *NopIntegration) Close() error {
	return nil
}
