// Package pubsub carries prefetch requests over Google Cloud Pub/Sub.
//
// Publisher is the producing side used by the API when the queue backend is "pubsub"; Consumer
// receives from a subscription and hands each request to an in-process queue for the workers.
// Trace context travels in message attributes.
package pubsub

// attributeCarrier implements propagation.TextMapCarrier for Pub/Sub attributes.
type attributeCarrier struct {
	attrs map[string]string
}

func (c attributeCarrier) Get(key string) string {
	return c.attrs[key]
}

func (c attributeCarrier) Set(key, value string) {
	c.attrs[key] = value
}

func (c attributeCarrier) Keys() []string {
	keys := make([]string, 0, len(c.attrs))
	for k := range c.attrs {
		keys = append(keys, k)
	}
	return keys
}
