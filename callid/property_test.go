//go:build property
// +build property

package callid_test

import (
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/blockberries/relay/types"
)

func TestProperty_NextNeverRepeats(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 50
	properties := gopter.NewProperties(params)

	properties.Property("identifiers are unique across a sequence of requests", prop.ForAll(
		func(payloads []string) bool {
			k := newKeeper(t)
			seen := make(map[types.CallID]bool, len(payloads))
			for _, p := range payloads {
				id, err := k.Next(relayAddr, request(p))
				if err != nil || seen[id] {
					return false
				}
				seen[id] = true
			}
			return true
		},
		gen.SliceOf(gen.AlphaString()),
	))

	properties.TestingRun(t)
}
