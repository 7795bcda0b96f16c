/*
Package servicemesh provides service mesh components for microservices.

Subpackages:

  - circuitbreaker: Circuit breaker pattern implementation

Usage:

	import "github.com/flowforge/ingestion/pkg/servicemesh/circuitbreaker"

	cb := circuitbreaker.New("payment-service", circuitbreaker.Options{})
	result, err := cb.Execute(func() (interface{}, error) { return callService() })
*/
package servicemesh
