// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package gracht

// Reserved protocol id 0 hosts the built-in control protocol (spec.md §3
// I4, §4.6); it must always be registered (spec.md §9).
const controlProtocolID uint8 = 0

const (
	controlActionSubscribe   uint8 = 0
	controlActionUnsubscribe uint8 = 1
	controlActionError       uint8 = 2
)

// registerControlProtocol installs the subscribe/unsubscribe handlers under
// protocol id 0. Called once from Init; Register rejects later attempts to
// touch protocol 0 from outside (spec.md §4.6).
func (s *Server) registerControlProtocol() {
	_ = s.registry.Register(controlProtocolID, controlActionSubscribe, s.controlSubscribe)
	_ = s.registry.Register(controlProtocolID, controlActionUnsubscribe, s.controlUnsubscribe)
}

// controlSubscribe implements spec.md §4.6 subscribe(protocol): if no client
// record exists for the sender (datagram first-contact), synthesize one via
// Link.CreateClient, insert it, fire onConnect, then set the subscription
// bit.
func (s *Server) controlSubscribe(env *Envelope, _ []byte) (int, error) {
	d, ok := env.Next()
	if !ok || d.Tag != ParamScalar {
		return 0, ErrInvalidArgument
	}
	protocol := uint8(d.Scalar)

	client := env.Client
	if client == nil {
		if env.origin == nil {
			return 0, ErrInvalidArgument
		}
		created, err := s.link.CreateClient(env.origin)
		if err != nil {
			return 0, err
		}
		if err := s.clients.Insert(created); err != nil {
			existing, ok := s.clients.Get(created.Handle)
			if !ok {
				return 0, err
			}
			client = existing
		} else {
			client = created
			s.fireConnect(client.Handle)
			if s.metrics != nil {
				s.metrics.connects.Inc()
			}
		}
		env.Client = client
	}
	client.Subs.Set(protocol)
	return 0, nil
}

// controlUnsubscribe implements spec.md §4.6 unsubscribe(protocol): clears
// the bit; if protocol == 0xFF, destroys the client entirely.
func (s *Server) controlUnsubscribe(env *Envelope, _ []byte) (int, error) {
	d, ok := env.Next()
	if !ok || d.Tag != ParamScalar {
		return 0, ErrInvalidArgument
	}
	protocol := uint8(d.Scalar)

	client := env.Client
	if client == nil {
		return 0, nil
	}
	client.Subs.Clear(protocol)
	if protocol == allProtocols {
		s.disconnectClient(client)
	}
	return 0, nil
}
