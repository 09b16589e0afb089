package dispatch

import (
	acdbnats "github.com/acdbrt/acdbrt/pkg/nats"
)

// natsTransport adapts pkg/nats.Client to the dispatcher's transport
// interface.
type natsTransport struct {
	client *acdbnats.Client
}

func (t *natsTransport) Publish(subject string, data []byte) error {
	return t.client.Publish(subject, data)
}

func (t *natsTransport) Subscribe(subject string, handler func(data []byte)) error {
	return t.client.Subscribe(subject, func(_ string, data []byte) {
		handler(data)
	})
}

func (t *natsTransport) Close() {
	t.client.Close()
}

func (t *natsTransport) IsConnected() bool {
	return t.client.IsConnected()
}

// Connect dials a NATS server and returns a Dispatcher bound to it.
func Connect(opts acdbnats.Options) (*Dispatcher, error) {
	client, err := acdbnats.Connect(opts)
	if err != nil {
		return nil, err
	}
	return newDispatcher(&natsTransport{client: client}), nil
}
