package worker

import "net/http"

// Transport routes requests through the registration's controlling worker. Requests
// the worker does not handle, or made while nothing controls the page, go to Base.
type Transport struct {
	Registration *Registration
	Base         http.RoundTripper
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.Registration != nil {
		if w := t.Registration.Controller(); w != nil {
			if resp, ok := w.Handle(req.Context(), req); ok {
				return resp, nil
			}
		}
	}
	return t.base().RoundTrip(req)
}
