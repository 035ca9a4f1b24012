package worker

import "strings"

// Strategy is how a request of a given class is answered.
type Strategy int

const (
	// StrategyPassThrough leaves the request to the platform.
	StrategyPassThrough Strategy = iota
	// StrategyNetworkOnly always goes to the network and never caches.
	StrategyNetworkOnly
	// StrategyCacheFirst serves from the current generation, falling back to the network.
	StrategyCacheFirst
)

func (s Strategy) String() string {
	switch s {
	case StrategyNetworkOnly:
		return "network_only"
	case StrategyCacheFirst:
		return "cache_first"
	default:
		return "pass_through"
	}
}

// SelectStrategy maps a resource class to its strategy.
func SelectStrategy(c Class) Strategy {
	switch c {
	case ClassData:
		return StrategyNetworkOnly
	case ClassAsset:
		return StrategyCacheFirst
	default:
		return StrategyPassThrough
	}
}

// AcceptsHTML reports whether an Accept header value allows an HTML document,
// in which case a failed asset fetch may fall back to the cached app shell.
func AcceptsHTML(accept string) bool {
	return strings.Contains(strings.ToLower(accept), "text/html")
}
