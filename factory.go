package apitool

import (
	"net/http"
	"slices"
)

// Constructor builds a Client bound to one CallConfig.
type Constructor func(cfg CallConfig) Client

// Factory resolves a CallConfig's protocol to a Client. Implementations are registered once at
// startup; resolving never changes the mapping, so a Factory is safe for concurrent use once
// registration is finished.
type Factory struct {
	constructors map[Protocol]Constructor
}

// NewFactory creates a Factory with the REST client registered on top of httpClient.
// opts are applied to every REST client it builds.
//
// Example:
//
//	httpClient, _ := apitool.NewHTTPClient(apitool.DefaultTransportConfig())
//	factory := apitool.NewFactory(httpClient)
//	factory.Register(apitool.ProtocolGraphQL, newGraphQLClient)
func NewFactory(httpClient *http.Client, opts ...RESTOption) *Factory {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	f := &Factory{constructors: make(map[Protocol]Constructor)}
	f.Register(ProtocolREST, func(cfg CallConfig) Client {
		return NewRESTClient(cfg, httpClient, opts...)
	})
	return f
}

// Register adds or replaces the implementation for protocol.
// Call it during setup, before the Factory is shared between goroutines.
func (f *Factory) Register(protocol Protocol, constructor Constructor) {
	f.constructors[protocol] = constructor
}

// New returns a Client bound to cfg, or an *UnsupportedProtocolError naming the protocol.
// No attempt is made here.
func (f *Factory) New(cfg CallConfig) (Client, error) {
	constructor, ok := f.constructors[cfg.Protocol]
	if !ok {
		return nil, &UnsupportedProtocolError{Protocol: cfg.Protocol}
	}
	return constructor(cfg), nil
}

// Protocols lists the registered protocols in sorted order.
func (f *Factory) Protocols() []Protocol {
	out := make([]Protocol, 0, len(f.constructors))
	for p := range f.constructors {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}
