package provider

import "errors"

// ErrArtifactDelivery is returned by CreatePayment when the provider-side
// transaction exists but the consumer-facing artifact (e.g. the Vodafone Cash
// PIN SMS) could not be delivered. The result alongside it carries the
// provider ref so the caller can persist an auditable failed intent.
var ErrArtifactDelivery = errors.New("payment artifact delivery failed")
